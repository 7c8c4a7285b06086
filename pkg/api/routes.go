// Package api exposes sketch runs over HTTP: create a run, feed it batches,
// query frequency and F2 estimates, evaluate and persist the result.
package api

import (
	"database/sql"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/mux"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/ValerioRocca/count-sketch/pkg/stream"
)

type JSON map[string]any

// estimateCacheSize bounds the number of cached point estimates.
const estimateCacheSize = 4096

func RegisterRoutes(r *mux.Router, db *sql.DB) (*Handler, error) {
	cache, err := lru.New[string, int64](estimateCacheSize)
	if err != nil {
		return nil, err
	}
	h := &Handler{db: db, runs: make(map[string]*runState), cache: cache}

	r.HandleFunc("/health", h.Health).Methods(http.MethodGet)

	r.HandleFunc("/runs", h.PostCreateRun).Methods(http.MethodPost)
	r.HandleFunc("/runs", h.ListRuns).Methods(http.MethodGet)
	r.HandleFunc("/runs/{id}/batch", h.PostBatch).Methods(http.MethodPost)
	r.HandleFunc("/runs/{id}/frequency/{item}", h.GetFrequency).Methods(http.MethodGet)
	r.HandleFunc("/runs/{id}/f2", h.GetF2).Methods(http.MethodGet)
	r.HandleFunc("/runs/{id}/evaluate", h.PostEvaluate).Methods(http.MethodPost)
	return h, nil
}

// runState is one live run. Its mutex serializes batch folds against
// queries; the driver's accumulator pair has a single writer at a time.
type runState struct {
	mu     sync.Mutex
	driver *stream.Driver
}

type Handler struct {
	db    *sql.DB
	mu    sync.RWMutex
	runs  map[string]*runState
	cache *lru.Cache[string, int64]
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
