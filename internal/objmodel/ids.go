// Package objmodel holds the wire-level data model of §3: identifiers,
// shard/stripe/object metadata, bucket metadata, the cluster topology
// tree and storage-class descriptors. Nothing here talks to disk or the
// network; it is the shared vocabulary every other package imports.
package objmodel

import (
	"fmt"

	"github.com/google/uuid"
)

// ObjectID is the 128-bit identifier generated at PUT.
type ObjectID [16]byte

// NewObjectID generates a fresh, random ObjectID.
func NewObjectID() ObjectID {
	return ObjectID(uuid.New())
}

func (id ObjectID) String() string {
	return uuid.UUID(id).String()
}

func (id ObjectID) IsZero() bool {
	return id == ObjectID{}
}

// ParseObjectID parses the canonical UUID string form.
func ParseObjectID(s string) (ObjectID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return ObjectID{}, fmt.Errorf("objmodel: parse object id: %w", err)
	}
	return ObjectID(u), nil
}

// StripeID is monotonic per object, starting at 0.
type StripeID uint64

// ShardKind classifies a shard's role within a stripe.
type ShardKind uint8

const (
	ShardData ShardKind = iota
	ShardLocalParity
	ShardGlobalParity
	ShardReplica
)

func (k ShardKind) String() string {
	switch k {
	case ShardData:
		return "data"
	case ShardLocalParity:
		return "local_parity"
	case ShardGlobalParity:
		return "global_parity"
	case ShardReplica:
		return "replica"
	default:
		return "unknown"
	}
}

// ECType selects which erasure scheme a stripe was encoded with.
type ECType uint8

const (
	ECTypeMDS ECType = iota
	ECTypeLRC
	ECTypeReplication
)

func (t ECType) String() string {
	switch t {
	case ECTypeMDS:
		return "mds"
	case ECTypeLRC:
		return "lrc"
	case ECTypeReplication:
		return "replication"
	default:
		return "unknown"
	}
}
