package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"sort"
	"strings"

	"github.com/cloudomate/objectio/internal/objerr"
	"github.com/cloudomate/objectio/internal/objmodel"
)

const defaultMaxKeys = 1000

// ListObjectsInput mirrors the S3 ListObjectsV2 request shape (spec
// §4.4.3), minus the XML framing that is internal/frontend's concern.
type ListObjectsInput struct {
	Bucket            string
	Prefix            string
	ContinuationToken string
	MaxKeys           int
}

// ListObjectsResult is what the frontend renders as its JSON listing
// response.
type ListObjectsResult struct {
	Objects               []objmodel.ObjectMeta
	IsTruncated           bool
	NextContinuationToken string
	// Partial is set when at least one OSD's ListObjectMeta call failed
	// or timed out; the entries from the other OSDs are still returned.
	// There is no strict mode that fails the listing instead.
	Partial bool
}

type nodeCursor struct {
	LastKey   string `json:"last_key"`
	Exhausted bool   `json:"exhausted"`
}

type cursorState struct {
	TopologyVersion uint64                `json:"topology_version"`
	Cursors         map[string]nodeCursor `json:"cursors"`
}

// ListObjects implements spec §4.4.3: fan out ListObjectMeta to every
// OSD that may hold object metadata for the bucket, k-way merge the
// results by key, and hand back an HMAC-signed continuation token
// recording each node's cursor so the next call resumes without
// rescanning what it already returned.
func (g *Gateway) ListObjects(ctx context.Context, in ListObjectsInput) (ListObjectsResult, error) {
	if len(g.hmacKey) == 0 {
		// Without a signing key continuation tokens cannot be issued.
		return ListObjectsResult{}, objerr.New(objerr.BadInput, "gateway.ListObjects", nil)
	}
	topo, err := g.ccs.Topology(ctx)
	if err != nil {
		return ListObjectsResult{}, err
	}

	state := cursorState{TopologyVersion: topo.TopologyVersion, Cursors: map[string]nodeCursor{}}
	if in.ContinuationToken != "" {
		decoded, err := g.decodeToken(in.ContinuationToken)
		if err != nil {
			return ListObjectsResult{}, err
		}
		if decoded.TopologyVersion != topo.TopologyVersion {
			return ListObjectsResult{}, objerr.New(objerr.TopologyChanged, "gateway.ListObjects", nil)
		}
		state = decoded
	}

	maxKeys := in.MaxKeys
	if maxKeys <= 0 {
		maxKeys = defaultMaxKeys
	}

	nodeIDs := allNodeIDs(topo)
	type tagged struct {
		node string
		om   objmodel.ObjectMeta
	}
	var all []tagged
	filteredCounts := make(map[string]int, len(nodeIDs))
	filteredItems := make(map[string][]objmodel.ObjectMeta, len(nodeIDs))
	newCursors := make(map[string]nodeCursor, len(nodeIDs))
	partial := false

	for _, nodeID := range nodeIDs {
		prev := state.Cursors[nodeID]
		if prev.Exhausted {
			newCursors[nodeID] = prev
			continue
		}
		addr, ok := g.ccs.Address(nodeID)
		if !ok {
			partial = true
			newCursors[nodeID] = prev
			continue
		}
		lctx, cancel := context.WithTimeout(ctx, g.rpcTimeout)
		items, err := g.pool.Client(nodeID, addr).ListObjectMeta(lctx, in.Bucket, in.Prefix)
		cancel()
		if err != nil {
			partial = true
			newCursors[nodeID] = prev
			continue
		}
		sort.Slice(items, func(i, j int) bool { return items[i].Key < items[j].Key })

		var filtered []objmodel.ObjectMeta
		for _, om := range items {
			if om.Key > prev.LastKey {
				filtered = append(filtered, om)
			}
		}
		filteredCounts[nodeID] = len(filtered)
		filteredItems[nodeID] = filtered
		for _, om := range filtered {
			all = append(all, tagged{node: nodeID, om: om})
		}
	}

	sort.Slice(all, func(i, j int) bool { return all[i].om.Key < all[j].om.Key })
	if len(all) > maxKeys {
		all = all[:maxKeys]
	}

	consumed := make(map[string]int, len(nodeIDs))
	objects := make([]objmodel.ObjectMeta, 0, len(all))
	for _, t := range all {
		objects = append(objects, t.om)
		consumed[t.node]++
	}

	for nodeID, items := range filteredItems {
		prev := state.Cursors[nodeID]
		n := consumed[nodeID]
		c := nodeCursor{LastKey: prev.LastKey}
		if n > 0 {
			c.LastKey = items[n-1].Key
		}
		c.Exhausted = n == filteredCounts[nodeID]
		newCursors[nodeID] = c
	}

	isTruncated := false
	for _, nodeID := range nodeIDs {
		if !newCursors[nodeID].Exhausted {
			isTruncated = true
			break
		}
	}

	result := ListObjectsResult{Objects: objects, IsTruncated: isTruncated, Partial: partial}
	if isTruncated {
		token, err := g.encodeToken(cursorState{TopologyVersion: topo.TopologyVersion, Cursors: newCursors})
		if err != nil {
			return ListObjectsResult{}, err
		}
		result.NextContinuationToken = token
	}
	return result, nil
}

// allNodeIDs collects the distinct node_ids of every disk leaf in the
// topology — the set of OSDs that might own object metadata (spec
// §4.4.3 step 1: "in practice, fan out to all OSDs").
func allNodeIDs(topo *objmodel.ClusterTopology) []string {
	seen := make(map[string]bool)
	var ids []string
	var walk func(n *objmodel.TopologyNode)
	walk = func(n *objmodel.TopologyNode) {
		if n == nil {
			return
		}
		if n.IsLeaf() {
			if n.NodeID != "" && !seen[n.NodeID] {
				seen[n.NodeID] = true
				ids = append(ids, n.NodeID)
			}
			return
		}
		for _, c := range n.Children {
			walk(c)
		}
	}
	walk(topo.Root)
	sort.Strings(ids)
	return ids
}

func (g *Gateway) encodeToken(state cursorState) (string, error) {
	payload, err := json.Marshal(state)
	if err != nil {
		return "", objerr.New(objerr.Fatal, "gateway.encodeToken", err)
	}
	mac := hmac.New(sha256.New, g.hmacKey)
	mac.Write(payload)
	sig := mac.Sum(nil)
	return base64.RawURLEncoding.EncodeToString(payload) + "." + base64.RawURLEncoding.EncodeToString(sig), nil
}

func (g *Gateway) decodeToken(token string) (cursorState, error) {
	parts := strings.SplitN(token, ".", 2)
	if len(parts) != 2 {
		return cursorState{}, objerr.New(objerr.BadInput, "gateway.decodeToken", nil)
	}
	payload, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return cursorState{}, objerr.New(objerr.BadInput, "gateway.decodeToken", err)
	}
	sig, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return cursorState{}, objerr.New(objerr.BadInput, "gateway.decodeToken", err)
	}
	mac := hmac.New(sha256.New, g.hmacKey)
	mac.Write(payload)
	expected := mac.Sum(nil)
	if !hmac.Equal(sig, expected) {
		return cursorState{}, objerr.New(objerr.BadInput, "gateway.decodeToken", nil)
	}
	var state cursorState
	if err := json.Unmarshal(payload, &state); err != nil {
		return cursorState{}, objerr.New(objerr.BadInput, "gateway.decodeToken", err)
	}
	return state, nil
}
