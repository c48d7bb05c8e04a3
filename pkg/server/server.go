// Package server exposes a docq queue over HTTP.
//
// The wire protocol, per module:
//
//	POST /modules/{module}/            submit a document (202, ID header)
//	GET  /modules/{module}/            claim a pending task (200, 404 if empty)
//	HEAD /modules/{module}/{id}        status as response code + Status header
//	GET  /modules/{module}/{id}        fetch the result
//	PUT  /modules/{module}/{id}        store an outcome (error via sentinel content type)
//	POST /modules/{module}/bulk/...    bulk status / result / process
//	GET  /modules/{module}/stats       per-state task counts
//
// pkg/queue's HTTPClient is the matching client; any queue.Client can sit
// behind the service, normally the filesystem backend.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/guido-cesarano/docq/pkg/logger"
	"github.com/guido-cesarano/docq/pkg/modules"
	"github.com/guido-cesarano/docq/pkg/queue"
	"github.com/guido-cesarano/docq/pkg/tasks"
)

// statusCodes maps a task status to the response code of the HEAD route.
var statusCodes = map[tasks.Status]int{
	tasks.StatusUnknown: http.StatusNotFound,
	tasks.StatusPending: http.StatusAccepted,
	tasks.StatusStarted: http.StatusAccepted,
	tasks.StatusDone:    http.StatusOK,
	tasks.StatusError:   http.StatusInternalServerError,
}

// Prometheus metrics for the HTTP surface and queue backlog.
var (
	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "docq_http_requests_total",
		Help: "The total number of handled HTTP requests",
	}, []string{"method", "code"})

	queueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "docq_queue_depth",
		Help: "Number of tasks per module and state",
	}, []string{"module", "state"})
)

// Server serves the docq wire protocol over a queue backend.
type Server struct {
	client queue.Client
	reg    *modules.Registry
}

// New creates a Server over the given backend and module registry.
func New(client queue.Client, reg *modules.Registry) *Server {
	return &Server{client: client, reg: reg}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/modules/{module}/{$}", s.collection)
	mux.HandleFunc("/modules/{module}/stats", s.stats)
	mux.HandleFunc("/modules/{module}/{id}", s.task)
	mux.HandleFunc("POST /modules/{module}/bulk/status", s.bulkStatus)
	mux.HandleFunc("POST /modules/{module}/bulk/result", s.bulkResult)
	mux.HandleFunc("POST /modules/{module}/bulk/process", s.bulkProcess)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /{$}", s.index)
	return logRequests(enableCORS(mux))
}

// collection handles the per-module collection URL: POST submits a new
// document, GET claims the oldest pending task for a worker.
func (s *Server) collection(w http.ResponseWriter, r *http.Request) {
	module := r.PathValue("module")
	switch r.Method {
	case http.MethodPost:
		s.submit(w, r, module)
	case http.MethodGet:
		s.claim(w, r, module)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) submit(w http.ResponseWriter, r *http.Request, module string) {
	if _, err := s.reg.Get(module); err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	doc, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	id, err := s.client.Process(r.Context(), module, string(doc), r.URL.Query().Get("id"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Location", taskLocation(module, id))
	w.Header().Set("ID", id)
	w.WriteHeader(http.StatusAccepted)
	fmt.Fprintln(w, id)
}

func (s *Server) claim(w http.ResponseWriter, r *http.Request, module string) {
	task, err := s.client.GetTask(r.Context(), module)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if task == nil {
		http.Error(w, fmt.Sprintf("Queue %s empty", module), http.StatusNotFound)
		return
	}
	w.Header().Set("Location", taskLocation(module, task.ID))
	w.Header().Set("ID", task.ID)
	io.WriteString(w, task.Doc)
}

// task handles the per-task URL: HEAD for status, GET for the result, PUT
// to store an outcome.
func (s *Server) task(w http.ResponseWriter, r *http.Request) {
	module, id := r.PathValue("module"), r.PathValue("id")
	switch r.Method {
	case http.MethodHead:
		s.status(w, r, module, id)
	case http.MethodGet:
		s.result(w, r, module, id)
	case http.MethodPut:
		s.store(w, r, module, id)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) status(w http.ResponseWriter, r *http.Request, module, id string) {
	status, err := s.client.Status(r.Context(), module, id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Status", string(status))
	w.WriteHeader(statusCodes[status])
}

func (s *Server) result(w http.ResponseWriter, r *http.Request, module, id string) {
	result, err := s.client.Result(r.Context(), module, id, r.URL.Query().Get("format"))
	var procErr *queue.ProcessingError
	switch {
	case err == nil:
		io.WriteString(w, result)
	case errors.Is(err, queue.ErrNotFound), errors.Is(err, modules.ErrUnknown):
		http.Error(w, fmt.Sprintf("Unknown document: %s/%s", module, id), http.StatusNotFound)
	case errors.Is(err, queue.ErrNotReady):
		w.WriteHeader(http.StatusAccepted)
	case errors.As(err, &procErr):
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": procErr.Message})
	default:
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
}

func (s *Server) store(w http.ResponseWriter, r *http.Request, module, id string) {
	text, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if r.Header.Get("Content-Type") == queue.ErrorMime {
		err = s.client.StoreError(r.Context(), module, id, string(text))
	} else {
		err = s.client.StoreResult(r.Context(), module, id, string(text))
	}
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, queue.ErrInvalidTransition):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (s *Server) bulkStatus(w http.ResponseWriter, r *http.Request) {
	ids, ok := decodeIDs(w, r)
	if !ok {
		return
	}
	statuses, err := s.client.BulkStatus(r.Context(), r.PathValue("module"), ids)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, statuses)
}

func (s *Server) bulkResult(w http.ResponseWriter, r *http.Request) {
	ids, ok := decodeIDs(w, r)
	if !ok {
		return
	}
	results, err := s.client.BulkResult(r.Context(), r.PathValue("module"), ids, r.URL.Query().Get("format"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, results)
}

// bulkProcess accepts either a JSON list of documents or an id->document
// map; explicit ids are honored verbatim.
func (s *Server) bulkProcess(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	var docs, ids []string
	if err := json.Unmarshal(body, &docs); err != nil {
		var byID map[string]string
		if err := json.Unmarshal(body, &byID); err != nil || len(byID) == 0 {
			http.Error(w, "Please provide bulk docs as a JSON list or {id: doc} map", http.StatusBadRequest)
			return
		}
		for id, doc := range byID {
			ids = append(ids, id)
			docs = append(docs, doc)
		}
	}
	if len(docs) == 0 {
		http.Error(w, "Empty bulk request", http.StatusBadRequest)
		return
	}

	q := r.URL.Query()
	opts := queue.BulkOptions{
		ResetError:   isSet(q.Get("reset_error")),
		ResetPending: isSet(q.Get("reset_pending")),
	}
	out, err := s.client.BulkProcess(r.Context(), r.PathValue("module"), docs, ids, opts)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	stats, err := s.client.Statistics(r.Context(), r.PathValue("module"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// index reports per-state counts for every registered module.
func (s *Server) index(w http.ResponseWriter, r *http.Request) {
	all := make(map[string]map[tasks.Status]int)
	for _, name := range s.reg.Names() {
		stats, err := s.client.Statistics(r.Context(), name)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		all[name] = stats
	}
	writeJSON(w, http.StatusOK, all)
}

// CollectQueueMetrics refreshes the queue depth gauges from backend
// statistics until the context is cancelled.
func (s *Server) CollectQueueMetrics(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.refreshQueueDepth(ctx)
		}
	}
}

func (s *Server) refreshQueueDepth(ctx context.Context) {
	for _, name := range s.reg.Names() {
		stats, err := s.client.Statistics(ctx, name)
		if err != nil {
			logger.Log.Error().Err(err).Str("module", name).Msg("Queue depth refresh failed")
			continue
		}
		for status, n := range stats {
			queueDepth.WithLabelValues(name, string(status)).Set(float64(n))
		}
	}
}

func taskLocation(module, id string) string {
	return fmt.Sprintf("/modules/%s/%s", module, id)
}

func decodeIDs(w http.ResponseWriter, r *http.Request) ([]string, bool) {
	var ids []string
	if err := json.NewDecoder(r.Body).Decode(&ids); err != nil || len(ids) == 0 {
		http.Error(w, "Please provide bulk IDs as a JSON list", http.StatusBadRequest)
		return nil, false
	}
	return ids, true
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Log.Error().Err(err).Msg("Response encoding failed")
	}
}

func isSet(v string) bool {
	switch v {
	case "1", "Y", "y", "true", "True":
		return true
	}
	return false
}

// enableCORS adds permissive CORS headers and answers preflight requests.
func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, HEAD, OPTIONS, PUT")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type, Content-Length, Accept-Encoding")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// statusRecorder captures the response code for logging and metrics.
type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

// logRequests tags each request with an id and logs method, path, code and
// duration through the global logger.
func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(rec, r)
		httpRequests.WithLabelValues(r.Method, fmt.Sprint(rec.code)).Inc()
		logger.Log.Info().
			Str("request_id", uuid.NewString()).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("code", rec.code).
			Dur("duration", time.Since(start)).
			Msg("Request handled")
	})
}
