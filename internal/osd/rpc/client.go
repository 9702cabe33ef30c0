package rpc

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

// Client is a thin HTTP client for one OSD's shard RPC surface, used by
// gatewayclient's connection pool.
type Client struct {
	baseURL string
	hc      *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{baseURL: baseURL, hc: &http.Client{Timeout: timeout}}
}

func (c *Client) WriteShard(ctx context.Context, stripeID objmodel.StripeID, position int, data []byte) error {
	var body bytes.Buffer
	if err := writeFrameHeader(&body, stripeID, position, len(data)); err != nil {
		return err
	}
	body.Write(data)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/shard/write", &body)
	if err != nil {
		return objerr.New(objerr.Fatal, "rpc.Client.WriteShard", err)
	}
	return c.doNoBody(req)
}

func (c *Client) ReadShard(ctx context.Context, stripeID objmodel.StripeID, position int) ([]byte, error) {
	var body bytes.Buffer
	if err := writeFrameHeader(&body, stripeID, position, 0); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/shard/read", &body)
	if err != nil {
		return nil, objerr.New(objerr.Fatal, "rpc.Client.ReadShard", err)
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, objerr.New(objerr.Timeout, "rpc.Client.ReadShard", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, statusErr("rpc.Client.ReadShard", resp)
	}
	_, _, dataLen, err := readFrameHeader(resp.Body)
	if err != nil {
		return nil, objerr.New(objerr.Corrupt, "rpc.Client.ReadShard", err)
	}
	data := make([]byte, dataLen)
	if _, err := io.ReadFull(resp.Body, data); err != nil {
		return nil, objerr.New(objerr.Corrupt, "rpc.Client.ReadShard", err)
	}
	return data, nil
}

func (c *Client) DeleteShard(ctx context.Context, stripeID objmodel.StripeID, position int) error {
	var body bytes.Buffer
	if err := writeFrameHeader(&body, stripeID, position, 0); err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/shard/delete", &body)
	if err != nil {
		return objerr.New(objerr.Fatal, "rpc.Client.DeleteShard", err)
	}
	return c.doNoBody(req)
}

func (c *Client) PutObjectMeta(ctx context.Context, om objmodel.ObjectMeta) error {
	payload, err := json.Marshal(om)
	if err != nil {
		return objerr.New(objerr.BadInput, "rpc.Client.PutObjectMeta", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/object/put", bytes.NewReader(payload))
	if err != nil {
		return objerr.New(objerr.Fatal, "rpc.Client.PutObjectMeta", err)
	}
	return c.doNoBody(req)
}

func (c *Client) DeleteObjectMeta(ctx context.Context, bucket, key string) error {
	url := fmt.Sprintf("%s/object/delete?bucket=%s&key=%s", c.baseURL, bucket, key)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return objerr.New(objerr.Fatal, "rpc.Client.DeleteObjectMeta", err)
	}
	return c.doNoBody(req)
}

func (c *Client) GetObjectMeta(ctx context.Context, bucket, key string) (objmodel.ObjectMeta, error) {
	url := fmt.Sprintf("%s/object/get?bucket=%s&key=%s", c.baseURL, bucket, key)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return objmodel.ObjectMeta{}, objerr.New(objerr.Fatal, "rpc.Client.GetObjectMeta", err)
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return objmodel.ObjectMeta{}, objerr.New(objerr.Timeout, "rpc.Client.GetObjectMeta", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return objmodel.ObjectMeta{}, statusErr("rpc.Client.GetObjectMeta", resp)
	}
	var om objmodel.ObjectMeta
	if err := json.NewDecoder(resp.Body).Decode(&om); err != nil {
		return objmodel.ObjectMeta{}, objerr.New(objerr.Corrupt, "rpc.Client.GetObjectMeta", err)
	}
	return om, nil
}

func (c *Client) ListObjectMeta(ctx context.Context, bucket, prefix string) ([]objmodel.ObjectMeta, error) {
	url := fmt.Sprintf("%s/object/list?bucket=%s&prefix=%s", c.baseURL, bucket, prefix)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, objerr.New(objerr.Fatal, "rpc.Client.ListObjectMeta", err)
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, objerr.New(objerr.Timeout, "rpc.Client.ListObjectMeta", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, statusErr("rpc.Client.ListObjectMeta", resp)
	}
	var raw []json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, objerr.New(objerr.Corrupt, "rpc.Client.ListObjectMeta", err)
	}
	out := make([]objmodel.ObjectMeta, 0, len(raw))
	for _, r := range raw {
		var om objmodel.ObjectMeta
		if err := json.Unmarshal(r, &om); err != nil {
			continue
		}
		out = append(out, om)
	}
	return out, nil
}

func (c *Client) Heartbeat(ctx context.Context) (HeartbeatReport, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/heartbeat", nil)
	if err != nil {
		return HeartbeatReport{}, objerr.New(objerr.Fatal, "rpc.Client.Heartbeat", err)
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return HeartbeatReport{}, objerr.New(objerr.Timeout, "rpc.Client.Heartbeat", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return HeartbeatReport{}, statusErr("rpc.Client.Heartbeat", resp)
	}
	var report HeartbeatReport
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		return HeartbeatReport{}, objerr.New(objerr.Corrupt, "rpc.Client.Heartbeat", err)
	}
	return report, nil
}

func (c *Client) doNoBody(req *http.Request) error {
	resp, err := c.hc.Do(req)
	if err != nil {
		return objerr.New(objerr.Timeout, "rpc.Client", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return statusErr("rpc.Client", resp)
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
	case http.StatusServiceUnavailable:
		kind = objerr.Overloaded
	case http.StatusUnprocessableEntity:
		kind = objerr.Corrupt
	}
	return objerr.New(kind, op, fmt.Errorf("osd returned %d: %s", resp.StatusCode, string(body)))
}
