package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/ValerioRocca/count-sketch/pkg/countsketch"
	"github.com/ValerioRocca/count-sketch/pkg/evaluate"
	"github.com/ValerioRocca/count-sketch/pkg/storage"
	"github.com/ValerioRocca/count-sketch/pkg/stream"
)

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, JSON{"status": "ok"})
}

type CreateRunRequest struct {
	Depth     int    `json:"depth"`
	Width     int    `json:"width"`
	Seed      uint64 `json:"seed"`
	Left      int64  `json:"left"`
	Right     int64  `json:"right"`
	Threshold uint64 `json:"threshold,omitempty"`
	Workers   int    `json:"workers,omitempty"`
}

func (h *Handler) PostCreateRun(w http.ResponseWriter, r *http.Request) {
	var req CreateRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, JSON{"error": "invalid json"})
		return
	}
	driver, err := stream.NewDriver(stream.Config{
		Depth:     req.Depth,
		Width:     req.Width,
		Base:      req.Seed,
		Left:      req.Left,
		Right:     req.Right,
		Threshold: req.Threshold,
		Workers:   req.Workers,
	})
	if err != nil {
		writeJSON(w, http.StatusBadRequest, JSON{"error": err.Error()})
		return
	}

	id := uuid.NewString()
	h.mu.Lock()
	h.runs[id] = &runState{driver: driver}
	h.mu.Unlock()

	writeJSON(w, http.StatusCreated, JSON{"run_id": id, "depth": req.Depth, "width": req.Width})
}

func (h *Handler) run(id string) *runState {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.runs[id]
}

type BatchRequest struct {
	Items []int64 `json:"items"`
}

func (h *Handler) PostBatch(w http.ResponseWriter, r *http.Request) {
	rs := h.run(mux.Vars(r)["id"])
	if rs == nil {
		writeJSON(w, http.StatusNotFound, JSON{"error": "unknown run"})
		return
	}
	var req BatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, JSON{"error": "invalid json"})
		return
	}

	rs.mu.Lock()
	err := rs.driver.ApplyItems(req.Items)
	total, kept := rs.driver.TotalItems(), rs.driver.KeptItems()
	rs.mu.Unlock()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, JSON{"error": err.Error()})
		return
	}
	// cached point estimates are stale now
	h.cache.Purge()

	writeJSON(w, http.StatusOK, JSON{"items_total": total, "items_kept": kept})
}

func (h *Handler) GetFrequency(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id := vars["id"]
	rs := h.run(id)
	if rs == nil {
		writeJSON(w, http.StatusNotFound, JSON{"error": "unknown run"})
		return
	}
	item, err := strconv.ParseInt(vars["item"], 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, JSON{"error": "item must be an integer"})
		return
	}

	key := id + ":" + vars["item"]
	if est, ok := h.cache.Get(key); ok {
		writeJSON(w, http.StatusOK, JSON{"item": item, "approx_freq": est, "cached": true})
		return
	}

	rs.mu.Lock()
	est, err := rs.driver.Sketch().EstimateFrequency(item)
	rs.mu.Unlock()
	if err != nil {
		writeJSON(w, statusForEstimateError(err), JSON{"error": err.Error()})
		return
	}
	h.cache.Add(key, est)
	writeJSON(w, http.StatusOK, JSON{"item": item, "approx_freq": est})
}

func (h *Handler) GetF2(w http.ResponseWriter, r *http.Request) {
	rs := h.run(mux.Vars(r)["id"])
	if rs == nil {
		writeJSON(w, http.StatusNotFound, JSON{"error": "unknown run"})
		return
	}
	rs.mu.Lock()
	f2, err := rs.driver.Sketch().EstimateF2()
	bound, _ := rs.driver.Sketch().ErrorBound()
	rs.mu.Unlock()
	if err != nil {
		writeJSON(w, statusForEstimateError(err), JSON{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, JSON{"approx_f2": f2, "error_bound": bound})
}

func (h *Handler) PostEvaluate(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	rs := h.run(id)
	if rs == nil {
		writeJSON(w, http.StatusNotFound, JSON{"error": "unknown run"})
		return
	}

	rs.mu.Lock()
	defer rs.mu.Unlock()

	sum, err := evaluate.Evaluate(rs.driver.Sketch(), rs.driver.Exact())
	if err != nil {
		writeJSON(w, statusForEstimateError(err), JSON{"error": err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()
	left, right := rs.driver.Interval()
	run := storage.RunSummary{
		RunID:       id,
		Depth:       rs.driver.Sketch().Depth(),
		Width:       rs.driver.Sketch().Width(),
		Left:        left,
		Right:       right,
		ItemsTotal:  rs.driver.TotalItems(),
		ItemsKept:   rs.driver.KeptItems(),
		Distinct:    sum.Distinct,
		TrueF2:      sum.TrueF2,
		ApproxF2:    sum.ApproxF2,
		AvgRelError: sum.AverageRelError,
	}
	if err := storage.UpsertRun(ctx, h.db, run); err != nil {
		writeJSON(w, http.StatusInternalServerError, JSON{"error": err.Error()})
		return
	}
	if err := storage.UpsertSketch(ctx, h.db, id, rs.driver.Sketch().Serialize()); err != nil {
		writeJSON(w, http.StatusInternalServerError, JSON{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, sum)
}

func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := storage.ListRuns(r.Context(), h.db)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, JSON{"error": err.Error()})
		return
	}
	if runs == nil {
		runs = []storage.RunSummary{}
	}
	writeJSON(w, http.StatusOK, JSON{"runs": runs})
}

// statusForEstimateError maps a query on a never-updated sketch to 409; other
// estimate failures are server-side.
func statusForEstimateError(err error) int {
	if errors.Is(err, countsketch.ErrEmptySketch) {
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}
