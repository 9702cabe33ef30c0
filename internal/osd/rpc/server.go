// Package rpc implements the OSD's shard service surface: WriteShard,
// ReadShard, DeleteShard for raw erasure-coded shard bytes, and
// PutObjectMeta/GetObjectMeta/ListObjectMeta/Heartbeat for the
// object metadata the primary OSD of stripe 0 owns. Transport is plain
// net/http with a small binary frame for the shard data path (matching
// this codebase's consistent choice of net/http over a grpc/protobuf
// stack everywhere else) and JSON for the metadata path.
package rpc

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash/crc32"
	"io"
	"net/http"
	"sync"

	"github.com/cloudomate/objectio/internal/objerr"
	"github.com/cloudomate/objectio/internal/objmodel"
	"github.com/cloudomate/objectio/internal/osd/bitmap"
	"github.com/cloudomate/objectio/internal/osd/blockcache"
	"github.com/cloudomate/objectio/internal/osd/datawal"
	"github.com/cloudomate/objectio/internal/osd/disk"
	"github.com/cloudomate/objectio/internal/osd/metastore"
)

// shardKey formats the metastore key used to record where a shard's
// blocks begin: "<stripeID>/<position>".
func shardKey(stripeID objmodel.StripeID, position int) string {
	return fmt.Sprintf("%020d/%03d", stripeID, position)
}

func objectMetaKey(bucket, key string) string {
	return "obj/" + bucket + "/" + key
}

// shardLocationRecord is the persisted value for a shardKey: block
// offset and length, enough to re-read the shard without touching
// ObjectMeta.
type shardLocationRecord struct {
	BlockNumber uint64 `json:"block_number"`
	NumBlocks   uint64 `json:"num_blocks"`
	ByteLength  uint32 `json:"byte_length"`
	CRC32C      uint32 `json:"crc32c"`
}

// Server is one OSD's shard and local-metadata service, bound to a
// single disk.
type Server struct {
	d       *disk.Disk
	cache   *blockcache.Cache
	wal     *datawal.WAL
	bmp     *bitmap.Bitmap
	meta    *metastore.Store // shard location index
	objMeta *metastore.Store // ObjectMeta index, present only on the metadata-owning OSD

	txnMu  sync.Mutex
	nextTx uint64

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex // per (stripeID,position) key
}

// Config wires together an already-opened Disk and its subsystems.
type Config struct {
	Disk         *disk.Disk
	Cache        *blockcache.Cache
	WAL          *datawal.WAL
	Bitmap       *bitmap.Bitmap
	ShardIndex   *metastore.Store
	ObjectIndex  *metastore.Store // nil if this OSD does not own object metadata
}

func NewServer(cfg Config) *Server {
	return &Server{
		d:       cfg.Disk,
		cache:   cfg.Cache,
		wal:     cfg.WAL,
		bmp:     cfg.Bitmap,
		meta:    cfg.ShardIndex,
		objMeta: cfg.ObjectIndex,
		locks:   make(map[string]*sync.Mutex),
	}
}

func (s *Server) lockFor(key string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	l, ok := s.locks[key]
	if !ok {
		l = &sync.Mutex{}
		s.locks[key] = l
	}
	return l
}

// Handler returns the net/http.Handler serving this OSD's shard RPC
// surface.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/shard/write", s.handleWriteShard)
	mux.HandleFunc("/shard/read", s.handleReadShard)
	mux.HandleFunc("/shard/delete", s.handleDeleteShard)
	mux.HandleFunc("/object/put", s.handlePutObjectMeta)
	mux.HandleFunc("/object/get", s.handleGetObjectMeta)
	mux.HandleFunc("/object/delete", s.handleDeleteObjectMeta)
	mux.HandleFunc("/object/list", s.handleListObjectMeta)
	mux.HandleFunc("/heartbeat", s.handleHeartbeat)
	return mux
}

// writeFrameHeader/readFrameHeader: fixed binary header in front of the
// shard bytes in the HTTP body.
//
//	stripeID(8) position(4) dataLen(4) data
func writeFrameHeader(w io.Writer, stripeID objmodel.StripeID, position int, dataLen int) error {
	header := make([]byte, 8+4+4)
	binary.BigEndian.PutUint64(header[0:8], uint64(stripeID))
	binary.BigEndian.PutUint32(header[8:12], uint32(position))
	binary.BigEndian.PutUint32(header[12:16], uint32(dataLen))
	_, err := w.Write(header)
	return err
}

func readFrameHeader(r io.Reader) (stripeID objmodel.StripeID, position int, dataLen int, err error) {
	header := make([]byte, 8+4+4)
	if _, err = io.ReadFull(r, header); err != nil {
		return
	}
	stripeID = objmodel.StripeID(binary.BigEndian.Uint64(header[0:8]))
	position = int(binary.BigEndian.Uint32(header[8:12]))
	dataLen = int(binary.BigEndian.Uint32(header[12:16]))
	return
}

func roundUpBlocks(n int) uint64 {
	return uint64((n + disk.BlockSize - 1) / disk.BlockSize)
}

func (s *Server) handleWriteShard(w http.ResponseWriter, r *http.Request) {
	stripeID, position, dataLen, err := readFrameHeader(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	data := make([]byte, dataLen)
	if _, err := io.ReadFull(r.Body, data); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	key := shardKey(stripeID, position)
	lock := s.lockFor(key)
	lock.Lock()
	defer lock.Unlock()

	numBlocks := roundUpBlocks(len(data))
	blockNum, err := s.bmp.AllocContiguous(numBlocks)
	if err != nil {
		writeErr(w, err)
		return
	}

	padded := make([]byte, numBlocks*disk.BlockSize)
	copy(padded, data)

	s.txnMu.Lock()
	s.nextTx++
	txnID := s.nextTx
	s.txnMu.Unlock()

	if _, err := s.wal.Append(txnID, datawal.BeginTxn, nil); err != nil {
		writeErr(w, err)
		return
	}
	if _, err := s.wal.Append(txnID, datawal.WriteBlock,
		datawal.EncodeWriteBlockKey(uint64(stripeID), position, blockNum, padded)); err != nil {
		writeErr(w, err)
		return
	}
	if _, err := s.wal.Append(txnID, datawal.Commit, nil); err != nil {
		writeErr(w, err)
		return
	}
	if err := s.wal.Sync(); err != nil {
		writeErr(w, err)
		return
	}

	for i := uint64(0); i < numBlocks; i++ {
		block := padded[i*disk.BlockSize : (i+1)*disk.BlockSize]
		if err := s.cache.Write(blockNum+i, block); err != nil {
			writeErr(w, err)
			return
		}
	}

	rec := shardLocationRecord{
		BlockNumber: blockNum,
		NumBlocks:   numBlocks,
		ByteLength:  uint32(len(data)),
		CRC32C:      crc32.Checksum(data, crc32.MakeTable(crc32.Castagnoli)),
	}
	encoded, _ := json.Marshal(rec)
	if err := s.meta.Put(key, encoded); err != nil {
		writeErr(w, err)
		return
	}

	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleReadShard(w http.ResponseWriter, r *http.Request) {
	stripeID, position, _, err := readFrameHeader(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	key := shardKey(stripeID, position)
	raw, ok := s.meta.Get(key)
	if !ok {
		http.Error(w, "shard not found", http.StatusNotFound)
		return
	}
	var rec shardLocationRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		writeErr(w, objerr.New(objerr.Corrupt, "rpc.handleReadShard", err))
		return
	}

	buf := make([]byte, rec.NumBlocks*disk.BlockSize)
	for i := uint64(0); i < rec.NumBlocks; i++ {
		block, err := s.cache.Read(rec.BlockNumber + i)
		if err != nil {
			writeErr(w, err)
			return
		}
		copy(buf[i*disk.BlockSize:], block)
	}
	data := buf[:rec.ByteLength]
	if crc32.Checksum(data, crc32.MakeTable(crc32.Castagnoli)) != rec.CRC32C {
		writeErr(w, objerr.New(objerr.Corrupt, "rpc.handleReadShard", fmt.Errorf("shard checksum mismatch")))
		return
	}

	if err := writeFrameHeader(w, stripeID, position, len(data)); err != nil {
		return
	}
	w.Write(data)
}

func (s *Server) handleDeleteShard(w http.ResponseWriter, r *http.Request) {
	stripeID, position, _, err := readFrameHeader(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	key := shardKey(stripeID, position)
	lock := s.lockFor(key)
	lock.Lock()
	defer lock.Unlock()

	raw, ok := s.meta.Get(key)
	if !ok {
		w.WriteHeader(http.StatusOK)
		return
	}
	var rec shardLocationRecord
	if err := json.Unmarshal(raw, &rec); err == nil {
		s.bmp.Free(rec.BlockNumber, rec.NumBlocks)
	}
	if err := s.meta.Delete(key); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handlePutObjectMeta(w http.ResponseWriter, r *http.Request) {
	if s.objMeta == nil {
		http.Error(w, "this osd does not own object metadata", http.StatusNotImplemented)
		return
	}
	var om objmodel.ObjectMeta
	if err := json.NewDecoder(r.Body).Decode(&om); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	key := objectMetaKey(om.Bucket, om.Key)

	lock := s.lockFor(key)
	lock.Lock()
	defer lock.Unlock()

	if existing, ok := s.objMeta.Get(key); ok {
		var prev objmodel.ObjectMeta
		if json.Unmarshal(existing, &prev) == nil && om.Version != 0 && om.Version <= prev.Version {
			writeErr(w, objerr.New(objerr.Conflict, "rpc.handlePutObjectMeta",
				fmt.Errorf("stale version %d, current is %d", om.Version, prev.Version)))
			return
		}
	}

	encoded, err := json.Marshal(om)
	if err != nil {
		writeErr(w, objerr.New(objerr.BadInput, "rpc.handlePutObjectMeta", err))
		return
	}
	if err := s.objMeta.Put(key, encoded); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleDeleteObjectMeta(w http.ResponseWriter, r *http.Request) {
	if s.objMeta == nil {
		http.Error(w, "this osd does not own object metadata", http.StatusNotImplemented)
		return
	}
	bucket := r.URL.Query().Get("bucket")
	key := r.URL.Query().Get("key")
	recordKey := objectMetaKey(bucket, key)

	lock := s.lockFor(recordKey)
	lock.Lock()
	defer lock.Unlock()

	if _, ok := s.objMeta.Get(recordKey); !ok {
		writeErr(w, objerr.New(objerr.NotFound, "rpc.handleDeleteObjectMeta", nil))
		return
	}
	if err := s.objMeta.Delete(recordKey); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleGetObjectMeta(w http.ResponseWriter, r *http.Request) {
	if s.objMeta == nil {
		http.Error(w, "this osd does not own object metadata", http.StatusNotImplemented)
		return
	}
	bucket := r.URL.Query().Get("bucket")
	key := r.URL.Query().Get("key")
	raw, ok := s.objMeta.Get(objectMetaKey(bucket, key))
	if !ok {
		writeErr(w, objerr.New(objerr.NotFound, "rpc.handleGetObjectMeta", nil))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(raw)
}

func (s *Server) handleListObjectMeta(w http.ResponseWriter, r *http.Request) {
	if s.objMeta == nil {
		http.Error(w, "this osd does not own object metadata", http.StatusNotImplemented)
		return
	}
	bucket := r.URL.Query().Get("bucket")
	prefix := objectMetaKey(bucket, r.URL.Query().Get("prefix"))

	var results []json.RawMessage
	s.objMeta.Scan(prefix, prefix+"\xff", func(_ string, value []byte) bool {
		results = append(results, json.RawMessage(value))
		return true
	})

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(results)
}

// HeartbeatReport summarizes disk/cache health for the CCS's topology
// tracking.
type HeartbeatReport struct {
	DiskID        string `json:"disk_id"`
	FreeBlocks    uint64 `json:"free_blocks"`
	TotalBlocks   int64  `json:"total_blocks"`
	LiveShards    int    `json:"live_shards"`
	TombstonedKey int    `json:"tombstoned_keys"`
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	st := s.meta.Stats()
	report := HeartbeatReport{
		DiskID:        s.d.ID(),
		FreeBlocks:    s.bmp.FreeCount(),
		TotalBlocks:   s.d.BlockCount(),
		LiveShards:    st.LiveKeys,
		TombstonedKey: st.TombstoneKeys,
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(report)
}

func writeErr(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch objerr.KindOf(err) {
	case objerr.NotFound:
		status = http.StatusNotFound
	case objerr.BadInput:
		status = http.StatusBadRequest
	case objerr.Conflict:
		status = http.StatusConflict
	case objerr.Overloaded:
		status = http.StatusServiceUnavailable
	case objerr.Corrupt, objerr.InsufficientShards:
		status = http.StatusUnprocessableEntity
	}
	http.Error(w, err.Error(), status)
}
