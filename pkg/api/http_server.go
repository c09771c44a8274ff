package api

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/Diffblue-benchmarks/hydra/pkg/network"
)

type Server struct {
	store *network.KVStore
}

func NewServer(st *network.KVStore) *Server {
	return &Server{store: st}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/get", s.handleGet)
	mux.HandleFunc("/api/put", s.handlePut)
	mux.HandleFunc("/api/delete", s.handleDelete)
	mux.HandleFunc("/api/scan", s.handleScan)
	mux.HandleFunc("/api/nextkey", s.handleNextKey)
	mux.HandleFunc("/api/stats", s.handleStats)
	return mux
}

func (s *Server) Start(addr string) {
	log.Printf("[API] Server listening on %s", addr)
	log.Fatal(http.ListenAndServe(addr, s.Handler()))
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Query().Get("key")
	if key == "" {
		http.Error(w, "Missing key", http.StatusBadRequest)
		return
	}

	start := time.Now()
	val, found, err := s.store.Get([]byte(key))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if !found {
		http.Error(w, "Key not found", http.StatusNotFound)
		return
	}

	writeJSON(w, map[string]interface{}{
		"key":        key,
		"value":      string(val),
		"latency_ns": time.Since(start).Nanoseconds(),
	})
}

func (s *Server) handlePut(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		Key   string `json:"key"`
		Value string `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Key == "" {
		http.Error(w, "Invalid body", http.StatusBadRequest)
		return
	}

	if err := s.store.Put([]byte(req.Key), []byte(req.Value)); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]interface{}{"status": "ok"})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost && r.Method != http.MethodDelete {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	key := r.URL.Query().Get("key")
	if key == "" {
		http.Error(w, "Missing key", http.StatusBadRequest)
		return
	}

	if err := s.store.Remove([]byte(key)); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]interface{}{"status": "ok"})
}

func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	start := r.URL.Query().Get("start")
	limit := 100
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil {
			limit = n
		}
	}

	type rec struct {
		Key   string `json:"key"`
		Value string `json:"value"`
	}
	var out []rec

	it := s.store.Scan([]byte(start))
	for it.Next() {
		out = append(out, rec{Key: string(it.Key()), Value: string(it.Value())})
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	if err := it.Err(); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, map[string]interface{}{
		"count":   len(out),
		"records": out,
	})
}

func (s *Server) handleNextKey(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Query().Get("key")
	next, ok, err := s.store.NextFirstKey([]byte(key))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	resp := map[string]interface{}{"has_next": ok}
	if ok {
		resp["next_first_key"] = string(next)
	}
	writeJSON(w, resp)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	snap := s.store.Stats().Snapshot()
	writeJSON(w, map[string]interface{}{
		"counters":  snap,
		"hit_ratio": s.store.Stats().HitRatio(),
		"pages":     s.store.PageCount(),
	})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
