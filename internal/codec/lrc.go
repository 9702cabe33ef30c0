package codec

import (
	"bytes"

	"github.com/klauspost/reedsolomon"

	"github.com/cloudomate/objectio/internal/objerr"
	"github.com/cloudomate/objectio/internal/objmodel"
)

// lrcCodec implements Locally Repairable Codes: K data shards split into
// L disjoint local groups of K/L shards each, one XOR local-parity shard
// per group, and G global Reed-Solomon parity shards computed over all K
// data shards. Shard layout, positions [0, Total()):
//
//	[0, K)             data shards, group index = position / (K/L)
//	[K, K+L)           local parity, one per group
//	[K+L, K+L+G)       global parity
type lrcCodec struct {
	params       Params
	dataPerGroup int
	global       reedsolomon.Encoder // K,G matrix over data shards only
	backend      Backend
}

func newLRC(p Params, backend Backend) (Codec, error) {
	if p.K <= 0 || p.L <= 0 || p.G < 0 {
		return nil, objerr.New(objerr.BadInput, "codec.NewLRC", nil)
	}
	if p.K%p.L != 0 {
		return nil, objerr.New(objerr.BadInput, "codec.NewLRC", plainErr("k must be a multiple of l"))
	}
	if p.Total() > 255 {
		return nil, objerr.New(objerr.BadInput, "codec.NewLRC", errTotalTooLarge)
	}
	dataPerGroup := p.K / p.L
	if p.GroupSize != 0 && p.GroupSize != dataPerGroup {
		return nil, objerr.New(objerr.BadInput, "codec.NewLRC",
			plainErr("group_size must equal k/l (the shard count read during local recovery)"))
	}
	var global reedsolomon.Encoder
	if p.G > 0 {
		rs, err := reedsolomon.New(p.K, p.G, backendOptions(backend)...)
		if err != nil {
			return nil, objerr.New(objerr.BadInput, "codec.NewLRC", err)
		}
		global = rs
	}
	p.ECType = objmodel.ECTypeLRC
	p.GroupSize = dataPerGroup
	return &lrcCodec{params: p, dataPerGroup: dataPerGroup, global: global, backend: backend}, nil
}

func (c *lrcCodec) Parameters() Params { return c.params }

func (c *lrcCodec) groupOf(dataPos int) int { return dataPos / c.dataPerGroup }

// localParityPosition returns the shard index of the local-parity shard
// covering group g.
func (c *lrcCodec) localParityPosition(group int) int { return c.params.K + group }

func (c *lrcCodec) globalParityStart() int { return c.params.K + c.params.L }

func (c *lrcCodec) Encode(data []byte) ([][]byte, error) {
	// Split into K equal, zero-padded shards the same way reedsolomon
	// does internally: reuse a throwaway encoder purely for Split/Join
	// sizing so padding behaviour matches the MDS backend bit-for-bit.
	splitter, err := reedsolomon.New(c.params.K, 1)
	if err != nil {
		return nil, objerr.New(objerr.BadInput, "codec.Encode", err)
	}
	dataShards, err := splitter.Split(data)
	if err != nil {
		return nil, objerr.New(objerr.BadInput, "codec.Encode", err)
	}

	total := c.params.Total()
	shards := make([][]byte, total)
	copy(shards, dataShards)

	shardSize := len(dataShards[0])
	for g := 0; g < c.params.L; g++ {
		parity := make([]byte, shardSize)
		for i := g * c.dataPerGroup; i < (g+1)*c.dataPerGroup; i++ {
			xorInto(parity, dataShards[i])
		}
		shards[c.localParityPosition(g)] = parity
	}

	if c.params.G > 0 {
		withGlobal := make([][]byte, c.params.K+c.params.G)
		copy(withGlobal, dataShards)
		for i := 0; i < c.params.G; i++ {
			withGlobal[c.params.K+i] = make([]byte, shardSize)
		}
		if err := c.global.Encode(withGlobal); err != nil {
			return nil, objerr.New(objerr.BadInput, "codec.Encode", err)
		}
		copy(shards[c.globalParityStart():], withGlobal[c.params.K:])
	}

	return shards, nil
}

func xorInto(dst, src []byte) {
	for i := range dst {
		dst[i] ^= src[i]
	}
}

func (c *lrcCodec) Decode(present [][]byte, logicalSize int64) ([]byte, error) {
	if len(present) != c.params.Total() {
		return nil, objerr.New(objerr.BadInput, "codec.Decode", nil)
	}

	data := make([][]byte, c.params.K)
	copy(data, present[:c.params.K])

	missingData := 0
	for _, s := range data {
		if s == nil {
			missingData++
		}
	}

	if missingData > 0 {
		// First pass: cheap local recovery, one group at a time.
		for g := 0; g < c.params.L; g++ {
			c.tryFillGroupLocally(data, present, g)
		}
	}

	stillMissing := []int{}
	for i, s := range data {
		if s == nil {
			stillMissing = append(stillMissing, i)
		}
	}

	if len(stillMissing) > 0 {
		if c.params.G == 0 {
			return nil, objerr.New(objerr.InsufficientShards, "codec.Decode",
				objerr.InsufficientShardsInfo{Available: c.params.K - len(stillMissing), Required: c.params.K})
		}
		if err := c.globalReconstruct(data, present); err != nil {
			return nil, err
		}
	}

	var buf bytes.Buffer
	buf.Grow(int(logicalSize))
	splitter, err := reedsolomon.New(c.params.K, 1)
	if err != nil {
		return nil, objerr.New(objerr.BadInput, "codec.Decode", err)
	}
	if err := splitter.Join(&buf, data, int(logicalSize)); err != nil {
		return nil, objerr.New(objerr.Corrupt, "codec.Decode", err)
	}
	return buf.Bytes(), nil
}

// tryFillGroupLocally recovers at most one missing data shard in group g
// by XORing the group's other present data shards with its local parity.
// It is a no-op if more than one member of the group is missing.
func (c *lrcCodec) tryFillGroupLocally(data [][]byte, present [][]byte, g int) {
	start, end := g*c.dataPerGroup, (g+1)*c.dataPerGroup
	localParity := present[c.localParityPosition(g)]

	missingPos := -1
	missingCount := 0
	for i := start; i < end; i++ {
		if data[i] == nil {
			missingCount++
			missingPos = i
		}
	}
	if missingCount != 1 || localParity == nil {
		return
	}

	shardSize := len(localParity)
	recovered := make([]byte, shardSize)
	copy(recovered, localParity)
	for i := start; i < end; i++ {
		if i == missingPos {
			continue
		}
		xorInto(recovered, data[i])
	}
	data[missingPos] = recovered
}

// globalReconstruct uses the K+G Reed-Solomon matrix over data and
// global-parity shards to recover whatever data shards local recovery
// could not.
func (c *lrcCodec) globalReconstruct(data [][]byte, present [][]byte) error {
	withGlobal := make([][]byte, c.params.K+c.params.G)
	copy(withGlobal, data)
	copy(withGlobal[c.params.K:], present[c.globalParityStart():])

	available := 0
	for _, s := range withGlobal {
		if s != nil {
			available++
		}
	}
	if available < c.params.K {
		return objerr.New(objerr.InsufficientShards, "codec.Decode",
			objerr.InsufficientShardsInfo{Available: available, Required: c.params.K})
	}
	if err := c.global.Reconstruct(withGlobal); err != nil {
		return objerr.New(objerr.InsufficientShards, "codec.Decode", err)
	}
	copy(data, withGlobal[:c.params.K])
	return nil
}

func (c *lrcCodec) TryLocalRecovery(present [][]byte, missingPosition int) ([]byte, error) {
	if missingPosition < 0 || missingPosition >= c.params.K {
		return nil, objerr.New(objerr.BadInput, "codec.TryLocalRecovery",
			plainErr("try_local_recovery only recovers data-shard positions"))
	}
	g := c.groupOf(missingPosition)
	start, end := g*c.dataPerGroup, (g+1)*c.dataPerGroup
	localParity := present[c.localParityPosition(g)]
	if localParity == nil {
		return nil, objerr.New(objerr.InsufficientShards, "codec.TryLocalRecovery",
			plainErr("not_locally_recoverable: local parity missing"))
	}

	shardSize := len(localParity)
	recovered := make([]byte, shardSize)
	copy(recovered, localParity)
	for i := start; i < end; i++ {
		if i == missingPosition {
			continue
		}
		if present[i] == nil {
			return nil, objerr.New(objerr.InsufficientShards, "codec.TryLocalRecovery",
				plainErr("not_locally_recoverable: another group member missing"))
		}
		xorInto(recovered, present[i])
	}
	return recovered, nil
}
