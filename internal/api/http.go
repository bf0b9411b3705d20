package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"fxrange/internal/store"
)

// RunLister is implemented by result stores that can list past runs.
type RunLister interface {
	ListRuns(ctx context.Context, limit int) ([]store.RunRecord, error)
}

// RegisterRoutes mounts the JSON view of the report service on mux.
func (s *ReportServer) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/runs/latest", s.handleLatest)
	mux.HandleFunc("GET /api/runs", s.handleRuns)
	mux.HandleFunc("GET /api/results/{key}", s.handleResult)
}

// Handler returns the JSON routes wrapped with CORS headers.
func (s *ReportServer) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return corsMiddleware(mux)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// writeStatus maps a gRPC status error onto an HTTP error response.
func writeStatus(w http.ResponseWriter, err error) {
	st := status.Convert(err)
	code := http.StatusInternalServerError
	switch st.Code() {
	case codes.NotFound:
		code = http.StatusNotFound
	case codes.InvalidArgument:
		code = http.StatusBadRequest
	case codes.Canceled, codes.DeadlineExceeded:
		code = http.StatusServiceUnavailable
	}
	writeError(w, code, st.Message())
}

func (s *ReportServer) handleLatest(w http.ResponseWriter, r *http.Request) {
	view, err := s.latestView(r.Context())
	if err != nil {
		writeStatus(w, err)
		return
	}
	results := make([]map[string]any, len(view.rows))
	for i, row := range view.rows {
		results[i] = rowMap(row)
	}
	writeJSON(w, map[string]any{
		"run_id":      view.id,
		"strategy":    view.strategy,
		"window":      view.window,
		"started_at":  view.startedAt.Format(time.RFC3339),
		"finished_at": view.finishedAt.Format(time.RFC3339),
		"results":     results,
	})
}

func (s *ReportServer) handleResult(w http.ResponseWriter, r *http.Request) {
	key := strings.ToUpper(r.PathValue("key"))
	view, err := s.latestView(r.Context())
	if err != nil {
		writeStatus(w, err)
		return
	}
	for _, row := range view.rows {
		if row.Key == key {
			writeJSON(w, rowMap(row))
			return
		}
	}
	writeError(w, http.StatusNotFound, "no result for "+key)
}

func (s *ReportServer) handleRuns(w http.ResponseWriter, r *http.Request) {
	lister, ok := s.runs.(RunLister)
	if !ok {
		writeError(w, http.StatusNotFound, "run history is not available")
		return
	}
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	runs, err := lister.ListRuns(r.Context(), limit)
	if err != nil {
		s.log.Error("listing runs", "err", err)
		writeError(w, http.StatusInternalServerError, "listing runs failed")
		return
	}
	out := make([]map[string]any, len(runs))
	for i, run := range runs {
		out[i] = map[string]any{
			"run_id":      run.ID,
			"strategy":    run.Strategy,
			"window":      run.Window,
			"started_at":  run.StartedAt.UTC().Format(time.RFC3339),
			"finished_at": run.FinishedAt.UTC().Format(time.RFC3339),
			"series":      run.Series,
			"failures":    run.Failures,
		}
	}
	writeJSON(w, out)
}
