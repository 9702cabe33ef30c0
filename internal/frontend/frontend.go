// Package frontend is the minimal, explicitly non-S3-compliant HTTP
// front door SPEC_FULL.md carves out in place of VaultS3's full SigV4 +
// XML internal/s3 package: PUT/GET/DELETE /{bucket}/{key} and
// GET /{bucket}?list-type=2 map directly onto internal/gateway, with
// JSON error bodies instead of S3 XML fault documents. It exists only
// to drive the stripe engine end-to-end; no auth, no bucket policy, no
// virtual-hosted-style routing.
package frontend

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/cloudomate/objectio/internal/gateway"
	"github.com/cloudomate/objectio/internal/objerr"
)

// Handler routes object and listing requests to a Gateway, the same
// separation VaultS3 draws between its top-level s3.Handler and the
// metadata/storage engines it calls into.
type Handler struct {
	gw *gateway.Gateway
}

func New(gw *gateway.Gateway) *Handler {
	return &Handler{gw: gw}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	bucket, key, ok := parsePath(r.URL.Path)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid path: expected /{bucket} or /{bucket}/{key}")
		return
	}

	switch {
	case key == "" && r.Method == http.MethodGet && r.URL.Query().Get("list-type") == "2":
		h.handleList(w, r, bucket)
	case key != "" && r.Method == http.MethodPut:
		h.handlePut(w, r, bucket, key)
	case key != "" && r.Method == http.MethodGet:
		h.handleGet(w, r, bucket, key)
	case key != "" && r.Method == http.MethodDelete:
		h.handleDelete(w, r, bucket, key)
	default:
		writeError(w, http.StatusMethodNotAllowed, "unsupported method/path combination")
	}
}

// parsePath splits "/{bucket}" or "/{bucket}/{key}" out of r.URL.Path.
// key may itself contain slashes; bucket may not.
func parsePath(path string) (bucket, key string, ok bool) {
	trimmed := strings.TrimPrefix(path, "/")
	if trimmed == "" {
		return "", "", false
	}
	parts := strings.SplitN(trimmed, "/", 2)
	bucket = parts[0]
	if bucket == "" {
		return "", "", false
	}
	if len(parts) == 2 {
		key = parts[1]
	}
	return bucket, key, true
}

func (h *Handler) handlePut(w http.ResponseWriter, r *http.Request, bucket, key string) {
	userMeta := map[string]string{}
	for name, values := range r.Header {
		const prefix = "X-Objio-Meta-"
		if len(values) == 0 || !strings.HasPrefix(http.CanonicalHeaderKey(name), prefix) {
			continue
		}
		userMeta[strings.TrimPrefix(http.CanonicalHeaderKey(name), prefix)] = values[0]
	}
	contentType := r.Header.Get("Content-Type")

	om, err := h.gw.PutObject(r.Context(), bucket, key, r.Body, contentType, userMeta)
	if err != nil {
		writeGatewayError(w, err)
		return
	}
	w.Header().Set("ETag", `"`+om.ETag+`"`)
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request, bucket, key string) {
	var rng *gateway.ByteRange
	if spec := r.Header.Get("Range"); spec != "" {
		if parsed, ok := parseRange(spec); ok {
			rng = &parsed
		} else {
			writeError(w, http.StatusRequestedRangeNotSatisfiable, "unsupported Range header")
			return
		}
	}

	// Buffered rather than streamed straight to w: headers (ETag, in
	// particular) aren't known until GetObject returns, and the
	// ResponseWriter can't take them back once the first byte is written.
	var body bytes.Buffer
	result, err := h.gw.GetObject(r.Context(), bucket, key, rng, &body)
	if err != nil {
		writeGatewayError(w, err)
		return
	}
	w.Header().Set("ETag", `"`+result.ETag+`"`)
	if result.ContentType != "" {
		w.Header().Set("Content-Type", result.ContentType)
	}
	w.Header().Set("Content-Length", strconv.FormatInt(result.Written, 10))
	w.Write(body.Bytes())
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request, bucket, key string) {
	if err := h.gw.DeleteObject(r.Context(), bucket, key); err != nil {
		writeGatewayError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type listObjectJSON struct {
	Key          string `json:"key"`
	Size         int64  `json:"size"`
	ETag         string `json:"etag"`
	LastModified string `json:"last_modified"`
}

type listResponseJSON struct {
	Contents              []listObjectJSON `json:"contents"`
	IsTruncated           bool             `json:"is_truncated"`
	NextContinuationToken string           `json:"next_continuation_token,omitempty"`
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request, bucket string) {
	q := r.URL.Query()
	in := gateway.ListObjectsInput{
		Bucket:            bucket,
		Prefix:            q.Get("prefix"),
		ContinuationToken: q.Get("continuation-token"),
	}
	if mk := q.Get("max-keys"); mk != "" {
		if n, err := strconv.Atoi(mk); err == nil {
			in.MaxKeys = n
		}
	}

	res, err := h.gw.ListObjects(r.Context(), in)
	if err != nil {
		writeGatewayError(w, err)
		return
	}

	resp := listResponseJSON{IsTruncated: res.IsTruncated, NextContinuationToken: res.NextContinuationToken}
	for _, om := range res.Objects {
		resp.Contents = append(resp.Contents, listObjectJSON{
			Key: om.Key, Size: om.TotalSize, ETag: om.ETag,
			LastModified: om.LastModified.UTC().Format("2006-01-02T15:04:05Z"),
		})
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// parseRange handles exactly "bytes=start-end" and "bytes=start-",
// enough to exercise GetObject's partial-read path without a full RFC
// 7233 parser.
func parseRange(spec string) (gateway.ByteRange, bool) {
	spec = strings.TrimPrefix(spec, "bytes=")
	parts := strings.SplitN(spec, "-", 2)
	if len(parts) != 2 {
		return gateway.ByteRange{}, false
	}
	start, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return gateway.ByteRange{}, false
	}
	if parts[1] == "" {
		return gateway.ByteRange{Start: start, End: -1}, true
	}
	end, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return gateway.ByteRange{}, false
	}
	return gateway.ByteRange{Start: start, End: end}, true
}

type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

func writeGatewayError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	kind := objerr.KindOf(err)
	switch kind {
	case objerr.NotFound:
		status = http.StatusNotFound
	case objerr.BadInput:
		status = http.StatusBadRequest
	case objerr.Conflict, objerr.TopologyChanged:
		status = http.StatusConflict
	case objerr.Overloaded:
		status = http.StatusServiceUnavailable
	case objerr.Timeout:
		status = http.StatusGatewayTimeout
	case objerr.Corrupt, objerr.InsufficientShards, objerr.Quorum:
		status = http.StatusUnprocessableEntity
	}
	if status == http.StatusInternalServerError {
		slog.Error("frontend: unmapped gateway error", "error", err)
	}
	body, _ := json.Marshal(errorBody{Error: err.Error(), Kind: kind.String()})
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	body, _ := json.Marshal(errorBody{Error: msg})
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(body)
}
