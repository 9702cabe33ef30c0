package ccsstore

import (
	"encoding/json"
	"net/http"

	"github.com/cloudomate/objectio/internal/objerr"
	"github.com/cloudomate/objectio/internal/objmodel"
)

// Server exposes a Store over plain net/http, the same transport choice
// internal/osd/rpc makes for the shard surface — gateways and OSDs both
// talk to the CCS this way.
type Server struct {
	store *Store
}

func NewServer(store *Store) *Server {
	return &Server{store: store}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/topology", s.handleTopology)
	mux.HandleFunc("/storage-class", s.handleStorageClass)
	mux.HandleFunc("/bucket", s.handleBucket)
	mux.HandleFunc("/buckets", s.handleListBuckets)
	mux.HandleFunc("/node", s.handleNode)
	return mux
}

func (s *Server) handleTopology(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		topo, err := s.store.Topology()
		if err != nil {
			writeErr(w, err)
			return
		}
		json.NewEncoder(w).Encode(topo)
	case http.MethodPost:
		var topo objmodel.ClusterTopology
		if err := json.NewDecoder(r.Body).Decode(&topo); err != nil {
			writeErr(w, objerr.New(objerr.BadInput, "ccsstore.Server.handleTopology", err))
			return
		}
		if err := s.store.SetTopology(&topo); err != nil {
			writeErr(w, err)
			return
		}
		w.WriteHeader(http.StatusOK)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleStorageClass(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		name := r.URL.Query().Get("name")
		sc, err := s.store.StorageClass(name)
		if err != nil {
			writeErr(w, err)
			return
		}
		json.NewEncoder(w).Encode(sc)
	case http.MethodPost:
		var sc objmodel.StorageClass
		if err := json.NewDecoder(r.Body).Decode(&sc); err != nil {
			writeErr(w, objerr.New(objerr.BadInput, "ccsstore.Server.handleStorageClass", err))
			return
		}
		if err := s.store.PutStorageClass(sc); err != nil {
			writeErr(w, err)
			return
		}
		w.WriteHeader(http.StatusOK)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleBucket(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		name := r.URL.Query().Get("name")
		bm, err := s.store.Bucket(name)
		if err != nil {
			writeErr(w, err)
			return
		}
		json.NewEncoder(w).Encode(bm)
	case http.MethodPost:
		var bm objmodel.BucketMeta
		if err := json.NewDecoder(r.Body).Decode(&bm); err != nil {
			writeErr(w, objerr.New(objerr.BadInput, "ccsstore.Server.handleBucket", err))
			return
		}
		if err := s.store.PutBucket(bm); err != nil {
			writeErr(w, err)
			return
		}
		w.WriteHeader(http.StatusOK)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleListBuckets(w http.ResponseWriter, r *http.Request) {
	list, err := s.store.ListBuckets()
	if err != nil {
		writeErr(w, err)
		return
	}
	json.NewEncoder(w).Encode(list)
}

func (s *Server) handleNode(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		id := r.URL.Query().Get("id")
		addr, ok := s.store.NodeAddress(id)
		if !ok {
			writeErr(w, objerr.New(objerr.NotFound, "ccsstore.Server.handleNode", nil))
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"node_id": id, "address": addr})
	case http.MethodPost:
		var req struct {
			NodeID  string `json:"node_id"`
			Address string `json:"address"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeErr(w, objerr.New(objerr.BadInput, "ccsstore.Server.handleNode", err))
			return
		}
		if err := s.store.RegisterNode(req.NodeID, req.Address); err != nil {
			writeErr(w, err)
			return
		}
		w.WriteHeader(http.StatusOK)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func writeErr(w http.ResponseWriter, err error) {
	kind := objerr.KindOf(err)
	status := http.StatusInternalServerError
	switch kind {
	case objerr.NotFound:
		status = http.StatusNotFound
	case objerr.BadInput:
		status = http.StatusBadRequest
	case objerr.Conflict:
		status = http.StatusConflict
	case objerr.Corrupt:
		status = http.StatusUnprocessableEntity
	}
	http.Error(w, err.Error(), status)
}
