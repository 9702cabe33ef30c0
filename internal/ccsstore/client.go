package ccsstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cloudomate/objectio/internal/objerr"
	"github.com/cloudomate/objectio/internal/objmodel"
)

// Client is the gateway/OSD-side view of a remote CCS: it fetches the
// topology and storage-class snapshots that internal/placement runs
// against, and resolves node_ids to dialable addresses.
type Client struct {
	baseURL string
	hc      *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{baseURL: baseURL, hc: &http.Client{Timeout: timeout}}
}

func (c *Client) Topology(ctx context.Context) (*objmodel.ClusterTopology, error) {
	var topo objmodel.ClusterTopology
	if err := c.getJSON(ctx, "/topology", nil, &topo); err != nil {
		return nil, err
	}
	return &topo, nil
}

func (c *Client) StorageClass(ctx context.Context, name string) (objmodel.StorageClass, error) {
	var sc objmodel.StorageClass
	err := c.getJSON(ctx, "/storage-class", map[string]string{"name": name}, &sc)
	return sc, err
}

func (c *Client) Bucket(ctx context.Context, name string) (objmodel.BucketMeta, error) {
	var bm objmodel.BucketMeta
	err := c.getJSON(ctx, "/bucket", map[string]string{"name": name}, &bm)
	return bm, err
}

// ListBuckets returns every bucket the CCS knows about, used at gateway
// startup to seed the repair manager's scrub list.
func (c *Client) ListBuckets(ctx context.Context) ([]objmodel.BucketMeta, error) {
	var list []objmodel.BucketMeta
	err := c.getJSON(ctx, "/buckets", nil, &list)
	return list, err
}

// Address implements gatewayclient.AddressBook.
func (c *Client) Address(nodeID string) (string, bool) {
	var resp struct {
		Address string `json:"address"`
	}
	err := c.getJSON(context.Background(), "/node", map[string]string{"id": nodeID}, &resp)
	if err != nil {
		return "", false
	}
	return resp.Address, true
}

func (c *Client) RegisterNode(ctx context.Context, nodeID, addr string) error {
	payload, _ := json.Marshal(map[string]string{"node_id": nodeID, "address": addr})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/node", bytes.NewReader(payload))
	if err != nil {
		return objerr.New(objerr.Fatal, "ccsstore.Client.RegisterNode", err)
	}
	return c.doNoBody(req)
}

func (c *Client) getJSON(ctx context.Context, path string, query map[string]string, out interface{}) error {
	url := c.baseURL + path
	if len(query) > 0 {
		url += "?"
		first := true
		for k, v := range query {
			if !first {
				url += "&"
			}
			url += fmt.Sprintf("%s=%s", k, v)
			first = false
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return objerr.New(objerr.Fatal, "ccsstore.Client", err)
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return objerr.New(objerr.Timeout, "ccsstore.Client", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return statusErr("ccsstore.Client", resp)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) doNoBody(req *http.Request) error {
	resp, err := c.hc.Do(req)
	if err != nil {
		return objerr.New(objerr.Timeout, "ccsstore.Client", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return statusErr("ccsstore.Client", resp)
	}
	return nil
}

func statusErr(op string, resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)
	kind := objerr.Unknown
	switch resp.StatusCode {
	case http.StatusNotFound:
		kind = objerr.NotFound
	case http.StatusBadRequest:
		kind = objerr.BadInput
	case http.StatusConflict:
		kind = objerr.Conflict
	case http.StatusUnprocessableEntity:
		kind = objerr.Corrupt
	}
	return objerr.New(kind, op, fmt.Errorf("ccs returned %d: %s", resp.StatusCode, string(body)))
}
