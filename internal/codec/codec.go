// Package codec implements the erasure codec of spec §4.1: Reed-Solomon
// (MDS) and Locally Repairable Codes (LRC) over GF(2^8), plus a trivial
// Replication(n) scheme modeled the same way. The matrix arithmetic for
// both MDS and the LRC global parity is delegated to
// klauspost/reedsolomon; local-group parity (XOR) has no pack
// equivalent and is implemented directly.
package codec

import "github.com/cloudomate/objectio/internal/objmodel"

// Params describes one codec instantiation, mirroring objmodel.Protection.
type Params struct {
	ECType    objmodel.ECType
	K         int
	M         int // MDS parity shards
	L         int // LRC local groups
	G         int // LRC global parity shards
	GroupSize int // LRC shards per local group
	N         int // Replication total replicas
}

// Total returns k+m, k+l+g, or n.
func (p Params) Total() int {
	switch p.ECType {
	case objmodel.ECTypeLRC:
		return p.K + p.L + p.G
	case objmodel.ECTypeReplication:
		return p.N
	default:
		return p.K + p.M
	}
}

// Codec is the common interface the gateway stripe engine programs
// against, independent of which concrete scheme backs it.
type Codec interface {
	// Encode splits data into Total() equal-length shards. Input shorter
	// than a multiple of K is zero-padded; callers must record the
	// original (logical) length themselves (StripeMeta.LogicalDataSize)
	// since Encode has no way to tell padding from real trailing zeros.
	Encode(data []byte) ([][]byte, error)

	// Decode reconstructs the original K data shards from whatever
	// subset of `present` is non-nil, then trims the result to
	// logicalSize. Returns *objerr.Error{Kind: InsufficientShards} wrapping
	// an objerr.InsufficientShardsInfo when the present set is not
	// recoverable.
	Decode(present [][]byte, logicalSize int64) ([]byte, error)

	// TryLocalRecovery attempts to reconstruct exactly one missing shard
	// using only its local group (LRC only). Returns
	// *objerr.Error{Kind: BadInput} for non-LRC codecs and
	// *objerr.Error{Kind: InsufficientShards} when the group itself is
	// not locally recoverable.
	TryLocalRecovery(present [][]byte, missingPosition int) ([]byte, error)

	Parameters() Params
}

// New builds the Codec described by p, selecting the given backend for
// any underlying Reed-Solomon matrix work.
func New(p Params, backend Backend) (Codec, error) {
	switch p.ECType {
	case objmodel.ECTypeReplication:
		return newReplication(p)
	case objmodel.ECTypeLRC:
		return newLRC(p, backend)
	default:
		return newMDS(p, backend)
	}
}
