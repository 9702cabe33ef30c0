package objmodel

import "time"

// ShardLocation is where one shard of a stripe physically lives. It is
// stored only inside the ObjectMeta record on the primary OSD — never
// duplicated in the CCS.
type ShardLocation struct {
	Position    int       `json:"position"`
	NodeID      string    `json:"node_id"`
	DiskID      string    `json:"disk_id"`
	BlockNumber uint64    `json:"block_number"`
	ByteLength  uint32    `json:"byte_length"`
	CRC32C      uint32    `json:"crc32c"`
	Kind        ShardKind `json:"kind"`
	LocalGroup  int       `json:"local_group,omitempty"` // meaningful only for LRC data/local-parity shards
	// Tombstone marks a shard that never acked durable at PUT time; the
	// repair manager treats it as missing and attempts to complete it.
	Tombstone bool `json:"tombstone,omitempty"`
}

// StripeMeta describes one erasure-coded stripe of an object.
type StripeMeta struct {
	StripeID        StripeID        `json:"stripe_id"`
	ECType          ECType          `json:"ec_type"`
	K               int             `json:"k"`
	M               int             `json:"m,omitempty"`         // MDS parity count
	L               int             `json:"l,omitempty"`         // LRC local-group count
	G               int             `json:"g,omitempty"`         // LRC global-parity count
	GroupSize       int             `json:"group_size,omitempty"`
	LogicalDataSize int64           `json:"logical_data_size"`
	Shards          []ShardLocation `json:"shards"`
}

// TotalShards returns k+m, k+l+g or n depending on ECType.
func (s *StripeMeta) TotalShards() int {
	switch s.ECType {
	case ECTypeLRC:
		return s.K + s.L + s.G
	case ECTypeReplication:
		return s.K + s.M
	default:
		return s.K + s.M
	}
}

// Quorum returns the minimum number of shard acks needed to consider
// this stripe durable: k for MDS/LRC, 1 for Replication.
func (s *StripeMeta) Quorum() int {
	if s.ECType == ECTypeReplication {
		return 1
	}
	return s.K
}

// ObjectMeta is the single authoritative record for a live object,
// owned by the primary OSD of stripe 0.
type ObjectMeta struct {
	Bucket       string            `json:"bucket"`
	Key          string            `json:"key"`
	ObjectID     ObjectID          `json:"object_id"`
	TotalSize    int64             `json:"total_size"`
	ETag         string            `json:"etag"`
	ContentType  string            `json:"content_type,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	LastModified time.Time         `json:"last_modified"`
	UserMetadata map[string]string `json:"user_metadata,omitempty"`
	Stripes      []StripeMeta      `json:"stripes"`
	// Version is a monotonically increasing token bumped on every
	// PutObjectMeta/CAS update; repair-triggered updates use
	// compare-and-set keyed on this field.
	Version uint64 `json:"version"`
}

// BucketMeta is owned by the CCS.
type BucketMeta struct {
	Name             string        `json:"name"`
	OwnerUserID      string        `json:"owner_user_id"`
	CreatedAt        time.Time     `json:"created_at"`
	StorageClassName string        `json:"storage_class_name"`
	Versioning       VersioningState `json:"versioning"`
}

type VersioningState string

const (
	VersioningOff       VersioningState = "Off"
	VersioningEnabled   VersioningState = "Enabled"
	VersioningSuspended VersioningState = "Suspended"
)
