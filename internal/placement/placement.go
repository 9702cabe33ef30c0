// Package placement implements the CRUSH-style placement engine of spec
// §4.2: a deterministic, topology-aware mapping from (bucket, key,
// storage class) to an ordered list of disks, using Highest Random
// Weight (HRW) hashing down the failure-domain tree. The seed hash uses
// cespare/xxhash/v2, and the descent is recursive so that it respects a
// configurable failure-domain level.
package placement

import (
	"fmt"
	"math"
	"sort"

	"github.com/cespare/xxhash/v2"

	"github.com/cloudomate/objectio/internal/objerr"
	"github.com/cloudomate/objectio/internal/objmodel"
)

const defaultMaxRetries = 32

// Placement is one chosen (node, disk) pair for a shard position.
type Placement struct {
	Position int
	NodeID   string
	DiskID   string
}

// Place returns exactly totalShards distinct (node, disk) pairs
// satisfying the storage class's failure-domain constraint. Position 0
// is the primary. Deterministic across all callers observing the same
// topology version. Equivalent to PlaceStripe for stripe 0 — stripe 0's
// placement is what determines an object's primary OSD.
func Place(bucket, key string, sc objmodel.StorageClass, topo *objmodel.ClusterTopology) ([]Placement, error) {
	return PlaceStripe(bucket, key, 0, sc, topo)
}

// PlaceStripe places one stripe of an object. The reference choice
// (spec §4.4.1 step 4) is per-stripe placement: stripeID is folded into
// the seed alongside position, so different stripes of a large object
// spread across OSDs instead of all landing on the same total-shards
// set computed for stripe 0.
func PlaceStripe(bucket, key string, stripeID objmodel.StripeID, sc objmodel.StorageClass, topo *objmodel.ClusterTopology) ([]Placement, error) {
	return PlaceStripeExcluding(bucket, key, stripeID, sc, topo, nil)
}

// PlaceStripeExcluding re-runs PlaceStripe's algorithm with the same
// seed but treats every disk ID in exclude as already chosen, so the
// descent picks a different disk for that position. Used by the repair
// manager to relocate shards off a disk that has gone OutOfService
// without perturbing placement for every other position.
func PlaceStripeExcluding(bucket, key string, stripeID objmodel.StripeID, sc objmodel.StorageClass,
	topo *objmodel.ClusterTopology, exclude []string) ([]Placement, error) {

	total := sc.Protection.TotalShards()
	if total <= 0 {
		return nil, objerr.New(objerr.BadInput, "placement.Place", nil)
	}
	if topo == nil || topo.Root == nil {
		return nil, objerr.New(objerr.Fatal, "placement.Place", fmt.Errorf("empty topology"))
	}

	result := make([]Placement, 0, total)
	chosenAtLevel := make(map[string]bool) // ancestor IDs at sc.FailureDomain already used
	chosenDisks := make(map[string]bool)
	for _, id := range exclude {
		chosenDisks[id] = true
	}

	for i := 0; i < total; i++ {
		seed := seedHash(bucket, key, i)
		if stripeID != 0 {
			seed = rehash(seed, uint64(stripeID))
		}
		leaf, err := descend(topo.Root, seed, sc.FailureDomain, chosenAtLevel, chosenDisks, 0)
		if err != nil {
			return nil, objerr.New(objerr.Overloaded, "placement.Place", err)
		}
		ancestorID := ancestorAtLevel(topo.Root, leaf.DiskID, sc.FailureDomain)
		chosenAtLevel[ancestorID] = true
		chosenDisks[leaf.DiskID] = true
		result = append(result, Placement{Position: i, NodeID: leaf.NodeID, DiskID: leaf.DiskID})
	}
	return result, nil
}

// Primary returns position 0 of Place's result — the OSD that owns the
// object's ObjectMeta once stripe 0 is placed.
func Primary(bucket, key string, sc objmodel.StorageClass, topo *objmodel.ClusterTopology) (Placement, error) {
	placements, err := Place(bucket, key, sc, topo)
	if err != nil {
		return Placement{}, err
	}
	return placements[0], nil
}

func seedHash(bucket, key string, position int) uint64 {
	h := xxhash.New()
	_, _ = h.WriteString(bucket)
	_, _ = h.Write([]byte{0})
	_, _ = h.WriteString(key)
	_, _ = h.Write([]byte{0})
	var posBuf [8]byte
	for i := 0; i < 8; i++ {
		posBuf[i] = byte(position >> (8 * i))
	}
	_, _ = h.Write(posBuf[:])
	return h.Sum64()
}

func rehash(seed uint64, salt uint64) uint64 {
	h := xxhash.New()
	var buf [16]byte
	for i := 0; i < 8; i++ {
		buf[i] = byte(seed >> (8 * i))
		buf[8+i] = byte(salt >> (8 * i))
	}
	_, _ = h.Write(buf[:])
	return h.Sum64()
}

// score computes the HRW weight-adjusted rendezvous score
// -ln(u)/weight for child, where u is derived from H(seed, childID).
func score(seed uint64, childID string, weight float64) float64 {
	if weight <= 0 {
		weight = 1e-9
	}
	h := xxhash.New()
	var buf [8]byte
	for i := 0; i < 8; i++ {
		buf[i] = byte(seed >> (8 * i))
	}
	_, _ = h.Write(buf[:])
	_, _ = h.WriteString(childID)
	u := float64(h.Sum64()%1_000_000_000+1) / 1_000_000_000.0 // (0, 1]
	return -math.Log(u) / weight
}

// descend walks the topology tree picking, at each level, the
// highest-scoring child not excluded by an already-chosen ancestor at
// sc's failure-domain level, retrying with a perturbed seed when the
// candidate set at some level is empty.
func descend(root *objmodel.TopologyNode, seed uint64, domain objmodel.FailureDomain,
	chosenAtLevel map[string]bool, chosenDisks map[string]bool, retry int) (*objmodel.TopologyNode, error) {

	node := root
	for !node.IsLeaf() {
		best, err := pickChild(node, seed, domain, chosenAtLevel, chosenDisks)
		if err != nil {
			if retry >= defaultMaxRetries {
				return nil, fmt.Errorf("insufficient capacity at level %s after %d retries", domain, retry)
			}
			return descend(root, rehash(seed, uint64(retry+1)), domain, chosenAtLevel, chosenDisks, retry+1)
		}
		node = best
	}
	if !node.State.Usable() || chosenDisks[node.DiskID] {
		if retry >= defaultMaxRetries {
			return nil, fmt.Errorf("insufficient capacity: no usable disk after %d retries", retry)
		}
		return descend(root, rehash(seed, uint64(retry+1)), domain, chosenAtLevel, chosenDisks, retry+1)
	}
	return node, nil
}

// pickChild selects the highest-scoring eligible child of node. A child
// subtree is excluded if any already-chosen disk already lies beneath an
// ancestor of node.Level==domain within that subtree — enforced by
// checking chosenAtLevel keyed on the subtree's own ID once node.Level
// reaches domain.
func pickChild(node *objmodel.TopologyNode, seed uint64, domain objmodel.FailureDomain,
	chosenAtLevel map[string]bool, chosenDisks map[string]bool) (*objmodel.TopologyNode, error) {

	type scored struct {
		child *objmodel.TopologyNode
		s     float64
	}
	candidates := make([]scored, 0, len(node.Children))
	for _, c := range node.Children {
		if c.Level == domain && chosenAtLevel[c.ID] {
			continue
		}
		if c.IsLeaf() && !c.State.Usable() {
			continue
		}
		if c.IsLeaf() && chosenDisks[c.DiskID] {
			continue
		}
		w := c.Weight
		if w == 0 {
			w = subtreeWeight(c)
		}
		candidates = append(candidates, scored{child: c, s: score(seed, c.ID, w)})
	}
	if len(candidates) == 0 {
		return nil, fmt.Errorf("no eligible children under %s", node.ID)
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].s != candidates[j].s {
			return candidates[i].s > candidates[j].s
		}
		return candidates[i].child.ID < candidates[j].child.ID // tie-break: lexicographic
	})
	return candidates[0].child, nil
}

func subtreeWeight(n *objmodel.TopologyNode) float64 {
	if n.IsLeaf() {
		return n.Weight
	}
	total := 0.0
	for _, c := range n.Children {
		total += subtreeWeight(c)
	}
	if total == 0 {
		return 1
	}
	return total
}

// ancestorAtLevel returns the ID of diskID's ancestor at the given
// failure-domain level (or diskID itself if domain is Disk).
func ancestorAtLevel(root *objmodel.TopologyNode, diskID string, domain objmodel.FailureDomain) string {
	var walk func(n *objmodel.TopologyNode, ancestor string) string
	walk = func(n *objmodel.TopologyNode, ancestor string) string {
		if n.Level == domain {
			ancestor = n.ID
		}
		if n.IsLeaf() {
			if n.DiskID == diskID {
				return ancestor
			}
			return ""
		}
		for _, c := range n.Children {
			if found := walk(c, ancestor); found != "" {
				return found
			}
		}
		return ""
	}
	return walk(root, "")
}
