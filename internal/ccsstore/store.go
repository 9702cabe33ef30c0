// Package ccsstore provides the Cluster Configuration Service's
// bbolt-backed persistence: the cluster topology tree, the
// storage-class table, bucket metadata, and the node_id→address book
// gateways and OSDs use to dial each other. It is the CCS half of
// spec §2's "where should shards for (bucket, key) live?" contract —
// the placement computation itself lives in internal/placement and is
// run by callers against the topology/storage-class snapshot this
// package serves, exactly as the spec's own non-goal carve-out (Raft
// over the CCS is an external collaborator) requires: this package
// owns persistence, not consensus.
package ccsstore

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.etcd.io/bbolt"

	"github.com/cloudomate/objectio/internal/objerr"
	"github.com/cloudomate/objectio/internal/objmodel"
)

var (
	topologyBucket     = []byte("topology")
	storageClassBucket = []byte("storage_classes")
	bucketMetaBucket   = []byte("buckets")
	nodeAddrBucket     = []byte("node_addresses")
)

const topologyKey = "current"

// Store is one bbolt database holding all CCS-owned state. A single
// Store instance is meant to back one CCS process; replication across
// multiple CCS processes is out of scope here (see DESIGN.md).
type Store struct {
	db *bbolt.DB
	mu sync.Mutex // serializes topology_version bumps
}

func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, objerr.New(objerr.Fatal, "ccsstore.Open", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		for _, b := range [][]byte{topologyBucket, storageClassBucket, bucketMetaBucket, nodeAddrBucket} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, objerr.New(objerr.Fatal, "ccsstore.Open", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Topology returns the current cluster topology tree, or a zero-version
// empty topology if none has been set yet.
func (s *Store) Topology() (*objmodel.ClusterTopology, error) {
	var topo objmodel.ClusterTopology
	found := false
	err := s.db.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket(topologyBucket).Get([]byte(topologyKey))
		if raw == nil {
			return nil
		}
		found = true
		return json.Unmarshal(raw, &topo)
	})
	if err != nil {
		return nil, objerr.New(objerr.Corrupt, "ccsstore.Topology", err)
	}
	if !found {
		return &objmodel.ClusterTopology{Root: &objmodel.TopologyNode{ID: "root"}}, nil
	}
	return &topo, nil
}

// SetTopology persists a new topology, bumping topology_version. Used
// at bootstrap and whenever cluster membership or disk liveness changes.
func (s *Store) SetTopology(topo *objmodel.ClusterTopology) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.Topology()
	if err != nil {
		return err
	}
	topo.TopologyVersion = current.TopologyVersion + 1

	raw, err := json.Marshal(topo)
	if err != nil {
		return objerr.New(objerr.BadInput, "ccsstore.SetTopology", err)
	}
	err = s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(topologyBucket).Put([]byte(topologyKey), raw)
	})
	if err != nil {
		return objerr.New(objerr.Fatal, "ccsstore.SetTopology", err)
	}
	return nil
}

func (s *Store) StorageClass(name string) (objmodel.StorageClass, error) {
	var sc objmodel.StorageClass
	found := false
	err := s.db.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket(storageClassBucket).Get([]byte(name))
		if raw == nil {
			return nil
		}
		found = true
		return json.Unmarshal(raw, &sc)
	})
	if err != nil {
		return objmodel.StorageClass{}, objerr.New(objerr.Corrupt, "ccsstore.StorageClass", err)
	}
	if !found {
		return objmodel.StorageClass{}, objerr.New(objerr.NotFound, "ccsstore.StorageClass", fmt.Errorf("storage class %q", name))
	}
	return sc, nil
}

func (s *Store) PutStorageClass(sc objmodel.StorageClass) error {
	raw, err := json.Marshal(sc)
	if err != nil {
		return objerr.New(objerr.BadInput, "ccsstore.PutStorageClass", err)
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(storageClassBucket).Put([]byte(sc.Name), raw)
	})
}

func (s *Store) Bucket(name string) (objmodel.BucketMeta, error) {
	var bm objmodel.BucketMeta
	found := false
	err := s.db.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket(bucketMetaBucket).Get([]byte(name))
		if raw == nil {
			return nil
		}
		found = true
		return json.Unmarshal(raw, &bm)
	})
	if err != nil {
		return objmodel.BucketMeta{}, objerr.New(objerr.Corrupt, "ccsstore.Bucket", err)
	}
	if !found {
		return objmodel.BucketMeta{}, objerr.New(objerr.NotFound, "ccsstore.Bucket", fmt.Errorf("bucket %q", name))
	}
	return bm, nil
}

func (s *Store) PutBucket(bm objmodel.BucketMeta) error {
	raw, err := json.Marshal(bm)
	if err != nil {
		return objerr.New(objerr.BadInput, "ccsstore.PutBucket", err)
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketMetaBucket).Put([]byte(bm.Name), raw)
	})
}

func (s *Store) ListBuckets() ([]objmodel.BucketMeta, error) {
	var out []objmodel.BucketMeta
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketMetaBucket).ForEach(func(_, raw []byte) error {
			var bm objmodel.BucketMeta
			if err := json.Unmarshal(raw, &bm); err != nil {
				return err
			}
			out = append(out, bm)
			return nil
		})
	})
	if err != nil {
		return nil, objerr.New(objerr.Corrupt, "ccsstore.ListBuckets", err)
	}
	return out, nil
}

// RegisterNode records the shard-RPC address a node_id is reachable at.
// Gateways resolve placement's node_ids to addresses through this table.
func (s *Store) RegisterNode(nodeID, addr string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(nodeAddrBucket).Put([]byte(nodeID), []byte(addr))
	})
}

func (s *Store) NodeAddress(nodeID string) (string, bool) {
	var addr string
	found := false
	_ = s.db.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket(nodeAddrBucket).Get([]byte(nodeID))
		if raw != nil {
			addr = string(raw)
			found = true
		}
		return nil
	})
	return addr, found
}

func (s *Store) NodeAddresses() (map[string]string, error) {
	out := make(map[string]string)
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(nodeAddrBucket).ForEach(func(k, v []byte) error {
			out[string(k)] = string(v)
			return nil
		})
	})
	if err != nil {
		return nil, objerr.New(objerr.Corrupt, "ccsstore.NodeAddresses", err)
	}
	return out, nil
}
