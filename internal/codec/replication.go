package codec

import (
	"github.com/cloudomate/objectio/internal/objerr"
	"github.com/cloudomate/objectio/internal/objmodel"
)

// replicationCodec models Replication(n) as k=1, m=n-1, total=n: encode
// is the identity replicated n times, decode accepts any single present
// replica.
type replicationCodec struct {
	params Params
}

func newReplication(p Params) (Codec, error) {
	if p.N <= 0 {
		return nil, objerr.New(objerr.BadInput, "codec.NewReplication", nil)
	}
	p.ECType = objmodel.ECTypeReplication
	p.K, p.M = 1, p.N-1
	return &replicationCodec{params: p}, nil
}

func (c *replicationCodec) Parameters() Params { return c.params }

func (c *replicationCodec) Encode(data []byte) ([][]byte, error) {
	shards := make([][]byte, c.params.N)
	for i := range shards {
		cp := make([]byte, len(data))
		copy(cp, data)
		shards[i] = cp
	}
	return shards, nil
}

func (c *replicationCodec) Decode(present [][]byte, logicalSize int64) ([]byte, error) {
	for _, s := range present {
		if s != nil {
			if int64(len(s)) < logicalSize {
				return nil, objerr.New(objerr.Corrupt, "codec.Decode", nil)
			}
			out := make([]byte, logicalSize)
			copy(out, s[:logicalSize])
			return out, nil
		}
	}
	return nil, objerr.New(objerr.InsufficientShards, "codec.Decode",
		objerr.InsufficientShardsInfo{Available: 0, Required: 1})
}

func (c *replicationCodec) TryLocalRecovery(present [][]byte, missingPosition int) ([]byte, error) {
	return nil, objerr.New(objerr.BadInput, "codec.TryLocalRecovery", errNotLRC)
}
