// Package datawal implements the OSD's write-ahead log for block writes:
// every shard write is framed as a record, appended, and fsynced before the
// corresponding block write is acknowledged, so a crash between the two can
// always be replayed to a consistent state. Each record is framed with a
// fixed binary header and a CRC32C trailer.
package datawal

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"sync"

	"github.com/cloudomate/objectio/internal/objerr"
)

// Magic identifies a data WAL segment file.
const Magic = "WALO"

// RecordType enumerates the kinds of records a WAL can hold.
type RecordType uint8

const (
	BeginTxn RecordType = iota + 1
	WriteBlock
	Delete
	Commit
	Abort
	Checkpoint
)

func (t RecordType) String() string {
	switch t {
	case BeginTxn:
		return "begin_txn"
	case WriteBlock:
		return "write_block"
	case Delete:
		return "delete"
	case Commit:
		return "commit"
	case Abort:
		return "abort"
	case Checkpoint:
		return "checkpoint"
	default:
		return "unknown"
	}
}

// Record is one WAL entry. Payload's meaning depends on Type: for
// WriteBlock it is EncodeWriteBlockKey's output (stripe ID, position and
// block number followed by the block bytes); for the others it is
// whatever the caller passes, which may be empty.
type Record struct {
	LSN     uint64
	TxnID   uint64
	Type    RecordType
	Payload []byte
}

var crcTable = crc32.MakeTable(crc32.Castagnoli)

// frame on disk: magic(4) lsn(8) txnID(8) type(1) len(4) payload crc32c(4)
const headerSize = 4 + 8 + 8 + 1 + 4
const trailerSize = 4

// WAL is a single append-only log file. Append buffers a record under
// the WAL's mutex; Sync flushes every buffered record and fsyncs once,
// so several Appends followed by one Sync share a single fsync.
type WAL struct {
	mu       sync.Mutex
	f        *os.File
	w        *bufio.Writer
	nextLSN  uint64
	pendingN int
}

// Open opens (creating if absent) the WAL file at path and replays it to
// determine the next LSN to assign, invoking replay for every record found.
func Open(path string, replay func(Record) error) (*WAL, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, objerr.New(objerr.Fatal, "datawal.Open", err)
	}

	var lastLSN uint64
	if replay != nil {
		lastLSN, err = replayAll(f, replay)
		if err != nil {
			f.Close()
			return nil, err
		}
	}
	if _, err := f.Seek(0, io.SeekEnd); err != nil {
		f.Close()
		return nil, objerr.New(objerr.Fatal, "datawal.Open", err)
	}

	return &WAL{f: f, w: bufio.NewWriterSize(f, 256*1024), nextLSN: lastLSN + 1}, nil
}

func replayAll(f *os.File, fn func(Record) error) (uint64, error) {
	r := bufio.NewReader(f)
	var lastLSN uint64
	for {
		rec, err := readRecord(r)
		if err == io.EOF {
			break
		}
		if err != nil {
			// A torn tail write (crash mid-append) truncates replay here
			// rather than failing the whole mount.
			break
		}
		lastLSN = rec.LSN
		if err := fn(rec); err != nil {
			return 0, objerr.New(objerr.Fatal, "datawal.replayAll", err)
		}
	}
	return lastLSN, nil
}

func readRecord(r *bufio.Reader) (Record, error) {
	header := make([]byte, headerSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return Record{}, err
	}
	if string(header[:4]) != Magic {
		return Record{}, fmt.Errorf("bad record magic")
	}
	lsn := binary.BigEndian.Uint64(header[4:12])
	txnID := binary.BigEndian.Uint64(header[12:20])
	typ := RecordType(header[20])
	length := binary.BigEndian.Uint32(header[21:25])

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return Record{}, err
	}
	trailer := make([]byte, trailerSize)
	if _, err := io.ReadFull(r, trailer); err != nil {
		return Record{}, err
	}
	wantCRC := binary.BigEndian.Uint32(trailer)
	gotCRC := crc32.Checksum(payload, crcTable)
	if wantCRC != gotCRC {
		return Record{}, fmt.Errorf("record %d: crc mismatch", lsn)
	}
	return Record{LSN: lsn, TxnID: txnID, Type: typ, Payload: payload}, nil
}

// Append writes a record and returns its assigned LSN. It does not sync;
// call Sync to make the record durable (group commit: batch several
// Appends, then one Sync).
func (w *WAL) Append(txnID uint64, typ RecordType, payload []byte) (uint64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	lsn := w.nextLSN
	w.nextLSN++

	header := make([]byte, headerSize)
	copy(header[:4], Magic)
	binary.BigEndian.PutUint64(header[4:12], lsn)
	binary.BigEndian.PutUint64(header[12:20], txnID)
	header[20] = byte(typ)
	binary.BigEndian.PutUint32(header[21:25], uint32(len(payload)))

	if _, err := w.w.Write(header); err != nil {
		return 0, objerr.New(objerr.Fatal, "datawal.Append", err)
	}
	if _, err := w.w.Write(payload); err != nil {
		return 0, objerr.New(objerr.Fatal, "datawal.Append", err)
	}
	var trailer [trailerSize]byte
	binary.BigEndian.PutUint32(trailer[:], crc32.Checksum(payload, crcTable))
	if _, err := w.w.Write(trailer[:]); err != nil {
		return 0, objerr.New(objerr.Fatal, "datawal.Append", err)
	}
	w.pendingN++
	return lsn, nil
}

// Sync flushes the buffered writer and fsyncs the underlying file,
// guaranteeing durability of every Append since the previous Sync.
func (w *WAL) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.pendingN == 0 {
		return nil
	}
	if err := w.w.Flush(); err != nil {
		return objerr.New(objerr.Fatal, "datawal.Sync", err)
	}
	if err := w.f.Sync(); err != nil {
		return objerr.New(objerr.Fatal, "datawal.Sync", err)
	}
	w.pendingN = 0
	return nil
}

func (w *WAL) Close() error {
	if err := w.Sync(); err != nil {
		return err
	}
	return w.f.Close()
}

// EncodeWriteBlockKey packs the (stripeID, position, blockNumber) a
// WriteBlock/Delete record applies to ahead of its data, so replay can
// route the payload without a side table.
func EncodeWriteBlockKey(stripeID uint64, position int, blockNumber uint64, data []byte) []byte {
	buf := make([]byte, 8+4+8+len(data))
	binary.BigEndian.PutUint64(buf[0:8], stripeID)
	binary.BigEndian.PutUint32(buf[8:12], uint32(position))
	binary.BigEndian.PutUint64(buf[12:20], blockNumber)
	copy(buf[20:], data)
	return buf
}

// DecodeWriteBlockKey is the inverse of EncodeWriteBlockKey.
func DecodeWriteBlockKey(payload []byte) (stripeID uint64, position int, blockNumber uint64, data []byte, err error) {
	if len(payload) < 20 {
		return 0, 0, 0, nil, fmt.Errorf("truncated write_block payload")
	}
	stripeID = binary.BigEndian.Uint64(payload[0:8])
	position = int(binary.BigEndian.Uint32(payload[8:12]))
	blockNumber = binary.BigEndian.Uint64(payload[12:20])
	data = payload[20:]
	return stripeID, position, blockNumber, data, nil
}
