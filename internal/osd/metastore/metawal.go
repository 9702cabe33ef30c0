package metastore

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

// metaMagic identifies the metadata store's own WAL, distinct from the
// block-data WAL in osd/datawal — the two are recovered independently
// since a metadata-only update (e.g. a tombstone) need not touch block
// storage at all.
const metaMagic = "MWAL"

type metaOp uint8

const (
	opPut metaOp = iota + 1
	opDelete
)

type metaRecord struct {
	op    metaOp
	key   string
	value []byte
}

var metaCRCTable = crc32.MakeTable(crc32.Castagnoli)

// metaWAL is a minimal append-only log of Put/Delete operations applied
// to the ordered index since the last snapshot, replayed in full on
// mount after that snapshot has been loaded.
type metaWAL struct {
	mu sync.Mutex
	f  *os.File
	w  *bufio.Writer
}

func openMetaWAL(path string, replay func(metaRecord)) (*metaWAL, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, objerr.New(objerr.Fatal, "metastore.openMetaWAL", err)
	}
	if replay != nil {
		if err := replayMetaWAL(f, replay); err != nil {
			f.Close()
			return nil, err
		}
	}
	if _, err := f.Seek(0, io.SeekEnd); err != nil {
		f.Close()
		return nil, objerr.New(objerr.Fatal, "metastore.openMetaWAL", err)
	}
	return &metaWAL{f: f, w: bufio.NewWriterSize(f, 64*1024)}, nil
}

func replayMetaWAL(f *os.File, fn func(metaRecord)) error {
	r := bufio.NewReader(f)
	for {
		rec, err := readMetaRecord(r)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			// Torn tail write: stop replay, keep everything durable
			// before it.
			return nil
		}
		fn(rec)
	}
}

func readMetaRecord(r *bufio.Reader) (metaRecord, error) {
	header := make([]byte, 4+1+4+4)
	if _, err := io.ReadFull(r, header); err != nil {
		return metaRecord{}, err
	}
	if string(header[:4]) != metaMagic {
		return metaRecord{}, fmt.Errorf("bad metadata wal record magic")
	}
	op := metaOp(header[4])
	keyLen := binary.BigEndian.Uint32(header[5:9])
	valLen := binary.BigEndian.Uint32(header[9:13])

	key := make([]byte, keyLen)
	if _, err := io.ReadFull(r, key); err != nil {
		return metaRecord{}, err
	}
	val := make([]byte, valLen)
	if _, err := io.ReadFull(r, val); err != nil {
		return metaRecord{}, err
	}
	var trailer [4]byte
	if _, err := io.ReadFull(r, trailer[:]); err != nil {
		return metaRecord{}, err
	}
	want := binary.BigEndian.Uint32(trailer[:])
	got := crc32.Checksum(append(key, val...), metaCRCTable)
	if want != got {
		return metaRecord{}, fmt.Errorf("metadata wal record: crc mismatch")
	}
	return metaRecord{op: op, key: string(key), value: val}, nil
}

func (w *metaWAL) append(op metaOp, key string, value []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	header := make([]byte, 4+1+4+4)
	copy(header[:4], metaMagic)
	header[4] = byte(op)
	binary.BigEndian.PutUint32(header[5:9], uint32(len(key)))
	binary.BigEndian.PutUint32(header[9:13], uint32(len(value)))

	if _, err := w.w.Write(header); err != nil {
		return objerr.New(objerr.Fatal, "metastore.metaWAL.append", err)
	}
	if _, err := w.w.Write([]byte(key)); err != nil {
		return objerr.New(objerr.Fatal, "metastore.metaWAL.append", err)
	}
	if _, err := w.w.Write(value); err != nil {
		return objerr.New(objerr.Fatal, "metastore.metaWAL.append", err)
	}
	var trailer [4]byte
	binary.BigEndian.PutUint32(trailer[:], crc32.Checksum(append([]byte(key), value...), metaCRCTable))
	if _, err := w.w.Write(trailer[:]); err != nil {
		return objerr.New(objerr.Fatal, "metastore.metaWAL.append", err)
	}
	if err := w.w.Flush(); err != nil {
		return objerr.New(objerr.Fatal, "metastore.metaWAL.append", err)
	}
	return w.f.Sync()
}

// truncate discards all records, called right after a successful
// snapshot write makes them redundant.
func (w *metaWAL) truncate() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.f.Truncate(0); err != nil {
		return objerr.New(objerr.Fatal, "metastore.metaWAL.truncate", err)
	}
	if _, err := w.f.Seek(0, io.SeekStart); err != nil {
		return objerr.New(objerr.Fatal, "metastore.metaWAL.truncate", err)
	}
	return nil
}

func (w *metaWAL) close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.f.Close()
}
