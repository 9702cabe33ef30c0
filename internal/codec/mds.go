package codec

import (
	"bytes"

	"github.com/klauspost/reedsolomon"

	"github.com/cloudomate/objectio/internal/objerr"
	"github.com/cloudomate/objectio/internal/objmodel"
)

type mdsCodec struct {
	params  Params
	rs      reedsolomon.Encoder
	backend Backend
}

func newMDS(p Params, backend Backend) (Codec, error) {
	if p.K <= 0 || p.M < 0 {
		return nil, objerr.New(objerr.BadInput, "codec.NewMDS", nil)
	}
	if p.Total() > 255 {
		return nil, objerr.New(objerr.BadInput, "codec.NewMDS", errTotalTooLarge)
	}
	opts := backendOptions(backend)
	rs, err := reedsolomon.New(p.K, p.M, opts...)
	if err != nil {
		return nil, objerr.New(objerr.BadInput, "codec.NewMDS", err)
	}
	p.ECType = objmodel.ECTypeMDS
	return &mdsCodec{params: p, rs: rs, backend: backend}, nil
}

// backendOptions returns the reedsolomon.Option set that pins the
// implementation to pure Go (portable) or lets the library's own
// cpuid-driven dispatch choose SIMD kernels (accelerated).
func backendOptions(b Backend) []reedsolomon.Option {
	if b == BackendPortable {
		return []reedsolomon.Option{
			reedsolomon.WithAVX512(false),
			reedsolomon.WithAVX2(false),
			reedsolomon.WithSSSE3(false),
		}
	}
	return nil
}

func (c *mdsCodec) Parameters() Params { return c.params }

func (c *mdsCodec) Encode(data []byte) ([][]byte, error) {
	if len(data) == 0 {
		// reedsolomon.Split rejects empty input; an empty payload encodes
		// to Total() empty shards.
		shards := make([][]byte, c.params.Total())
		for i := range shards {
			shards[i] = []byte{}
		}
		return shards, nil
	}
	shards, err := c.rs.Split(data)
	if err != nil {
		return nil, objerr.New(objerr.BadInput, "codec.Encode", err)
	}
	if err := c.rs.Encode(shards); err != nil {
		return nil, objerr.New(objerr.BadInput, "codec.Encode", err)
	}
	return shards, nil
}

func (c *mdsCodec) Decode(present [][]byte, logicalSize int64) ([]byte, error) {
	if len(present) != c.params.Total() {
		return nil, objerr.New(objerr.BadInput, "codec.Decode", nil)
	}
	available := 0
	for _, s := range present {
		if s != nil {
			available++
		}
	}
	if available < c.params.K {
		return nil, objerr.New(objerr.InsufficientShards, "codec.Decode",
			objerr.InsufficientShardsInfo{Available: available, Required: c.params.K})
	}
	if logicalSize == 0 {
		return []byte{}, nil
	}

	shards := make([][]byte, len(present))
	copy(shards, present)
	needsReconstruct := available < len(shards)
	if needsReconstruct {
		if err := c.rs.Reconstruct(shards); err != nil {
			return nil, objerr.New(objerr.InsufficientShards, "codec.Decode", err)
		}
	}

	var buf bytes.Buffer
	buf.Grow(int(logicalSize))
	if err := c.rs.Join(&buf, shards, int(logicalSize)); err != nil {
		return nil, objerr.New(objerr.Corrupt, "codec.Decode", err)
	}
	return buf.Bytes(), nil
}

func (c *mdsCodec) TryLocalRecovery(present [][]byte, missingPosition int) ([]byte, error) {
	return nil, objerr.New(objerr.BadInput, "codec.TryLocalRecovery", errNotLRC)
}

var (
	errTotalTooLarge = plainErr("total shard count exceeds GF(2^8) field size limit of 255")
	errNotLRC        = plainErr("try_local_recovery is only defined for LRC codecs")
)

type plainErr string

func (e plainErr) Error() string { return string(e) }
