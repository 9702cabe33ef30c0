package blockcache

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

const journalMagic = "BCJ1"

var journalCRCTable = crc32.MakeTable(crc32.Castagnoli)

type dirtyRecord struct {
	blockNumber uint64
	data        []byte
}

// journal is the write-back cache's own durability mechanism: a block
// acknowledged under WriteBack must survive a crash before Flush ever
// reaches the data disk, so every write-back Write is first appended and
// synced here.
type journal struct {
	mu sync.Mutex
	f  *os.File
	w  *bufio.Writer
}

func openJournal(path string) (*journal, []dirtyRecord, error) {
	if path == "" {
		return nil, nil, objerr.New(objerr.BadInput, "blockcache.openJournal",
			fmt.Errorf("journal path required for write-back policy"))
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, nil, objerr.New(objerr.Fatal, "blockcache.openJournal", err)
	}

	var records []dirtyRecord
	r := bufio.NewReader(f)
	for {
		rec, err := readJournalRecord(r)
		if err == io.EOF {
			break
		}
		if err != nil {
			break // torn tail
		}
		records = append(records, rec)
	}
	if _, err := f.Seek(0, io.SeekEnd); err != nil {
		f.Close()
		return nil, nil, objerr.New(objerr.Fatal, "blockcache.openJournal", err)
	}

	return &journal{f: f, w: bufio.NewWriterSize(f, 64*1024)}, records, nil
}

func readJournalRecord(r *bufio.Reader) (dirtyRecord, error) {
	header := make([]byte, 4+8+4)
	if _, err := io.ReadFull(r, header); err != nil {
		return dirtyRecord{}, err
	}
	if string(header[:4]) != journalMagic {
		return dirtyRecord{}, fmt.Errorf("bad journal record magic")
	}
	blockNumber := binary.BigEndian.Uint64(header[4:12])
	length := binary.BigEndian.Uint32(header[12:16])

	data := make([]byte, length)
	if _, err := io.ReadFull(r, data); err != nil {
		return dirtyRecord{}, err
	}
	var trailer [4]byte
	if _, err := io.ReadFull(r, trailer[:]); err != nil {
		return dirtyRecord{}, err
	}
	if binary.BigEndian.Uint32(trailer[:]) != crc32.Checksum(data, journalCRCTable) {
		return dirtyRecord{}, fmt.Errorf("journal record: crc mismatch")
	}
	return dirtyRecord{blockNumber: blockNumber, data: data}, nil
}

func (j *journal) append(blockNumber uint64, data []byte) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	header := make([]byte, 4+8+4)
	copy(header[:4], journalMagic)
	binary.BigEndian.PutUint64(header[4:12], blockNumber)
	binary.BigEndian.PutUint32(header[12:16], uint32(len(data)))

	if _, err := j.w.Write(header); err != nil {
		return objerr.New(objerr.Fatal, "blockcache.journal.append", err)
	}
	if _, err := j.w.Write(data); err != nil {
		return objerr.New(objerr.Fatal, "blockcache.journal.append", err)
	}
	var trailer [4]byte
	binary.BigEndian.PutUint32(trailer[:], crc32.Checksum(data, journalCRCTable))
	if _, err := j.w.Write(trailer[:]); err != nil {
		return objerr.New(objerr.Fatal, "blockcache.journal.append", err)
	}
	if err := j.w.Flush(); err != nil {
		return objerr.New(objerr.Fatal, "blockcache.journal.append", err)
	}
	return j.f.Sync()
}

func (j *journal) truncate() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.f.Truncate(0); err != nil {
		return objerr.New(objerr.Fatal, "blockcache.journal.truncate", err)
	}
	_, err := j.f.Seek(0, io.SeekStart)
	return err
}

func (j *journal) close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.f.Close()
}
