package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/crategate/crategate/internal/artifact"
	"github.com/crategate/crategate/internal/config"
	"github.com/crategate/crategate/internal/crate"
	"github.com/crategate/crategate/internal/engine"
	"github.com/crategate/crategate/internal/job"
	"github.com/crategate/crategate/internal/negotiate"
	"github.com/crategate/crategate/internal/queue"
)

// Handler holds the dependencies for all HTTP handlers.
type Handler struct {
	store     job.Store
	artifacts artifact.Store
	queue     *queue.Queue
	scheduler *queue.Scheduler
	cfg       *config.Config
}

// NewHandler constructs a Handler with the given dependencies.
func NewHandler(store job.Store, artifacts artifact.Store, q *queue.Queue, cfg *config.Config) *Handler {
	return &Handler{
		store:     store,
		artifacts: artifacts,
		queue:     q,
		scheduler: queue.NewScheduler(cfg, store, q),
		cfg:       cfg,
	}
}

// RegisterRoutes registers all API routes on mux under cfg.BasePath.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	base := h.cfg.BasePath
	mux.HandleFunc("POST "+base+"/export", h.Export)
	mux.HandleFunc("POST "+base+"/validate", h.Validate)
	mux.HandleFunc("GET "+base+"/status/{jobId}", h.Status)
	mux.HandleFunc("GET "+base+"/download/{artifactId}", h.Download)
	mux.HandleFunc("GET "+base+"/health", h.Health)
}

// Routes returns the routes wrapped in the production middleware stack.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	return Chain(mux,
		CORS(h.cfg.CORSOrigins),
		RequestID,
		Logging,
		Auth(h.cfg.APIKeys, h.cfg.BasePath+"/health"),
		RateLimit(h.cfg.RateLimitRPS),
	)
}

// Export handles POST {base}/export. Small requests answer 200 with the
// crate in the requested format; larger ones answer 202 with a job id.
func (h *Handler) Export(w http.ResponseWriter, r *http.Request) {
	format, err := negotiate.ExportFormat(r.Header)
	if err != nil {
		writeNegotiateError(w, err)
		return
	}
	body, ok := h.readBody(w, r)
	if !ok {
		return
	}
	ids, err := negotiate.Identifiers(body)
	if err != nil {
		writeNegotiateError(w, err)
		return
	}

	req := engine.ExportRequest{
		Identifiers: ids,
		Format:      format,
		Flags:       engine.FlagsFromHeader(r.Header),
	}
	out, err := h.scheduler.SubmitExport(engine.WithAPIKey(r.Context(), r.Header.Get(APIKeyHeader)), req)
	if err != nil {
		h.writeSubmitError(w, r, err)
		return
	}

	switch o := out.(type) {
	case queue.Deferred:
		writeJSON(w, http.StatusAccepted, map[string]string{"jobId": o.JobID})
	case queue.Immediate:
		res := o.Export
		if len(res.Content) == 0 && res.DownloadURL != "" {
			writeJSON(w, http.StatusOK, map[string]string{"downloadUrl": res.DownloadURL})
			return
		}
		ct := res.ContentType
		if ct == "" {
			ct = format
		}
		writeContent(w, ct, "", res.Content)
	}
}

// Validate handles POST {base}/validate. The Accept header is checked before
// the body is read.
func (h *Handler) Validate(w http.ResponseWriter, r *http.Request) {
	if !negotiate.Acceptable(r.Header.Get("Accept")) {
		writeError(w, http.StatusNotAcceptable,
			fmt.Sprintf("cannot produce a response matching Accept %q, supported: %s, %s", r.Header.Get("Accept"), crate.MediaTypeJSON, crate.MediaTypeJSONLD))
		return
	}
	body, ok := h.readBody(w, r)
	if !ok {
		return
	}
	p, err := negotiate.Resolve(r.Header.Get("Content-Type"), body)
	if err != nil {
		writeNegotiateError(w, err)
		return
	}
	g, err := negotiate.Decode(p)
	if err != nil {
		writeNegotiateError(w, err)
		return
	}

	out, err := h.scheduler.SubmitValidate(engine.WithAPIKey(r.Context(), r.Header.Get(APIKeyHeader)), g)
	if err != nil {
		h.writeSubmitError(w, r, err)
		return
	}

	switch o := out.(type) {
	case queue.Deferred:
		writeJSON(w, http.StatusAccepted, map[string]string{"jobId": o.JobID})
	case queue.Immediate:
		writeJSON(w, http.StatusOK, o.Report)
	}
}

// Status handles GET {base}/status/{jobId} and responds 200 with the job.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("jobId")

	j, err := h.store.Get(r.Context(), id)
	if err != nil {
		slog.Error("get job", "job_id", id, "error", err, "request_id", requestID(r.Context()))
		writeError(w, http.StatusInternalServerError, "failed to get job")
		return
	}
	if j == nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}

	writeJSON(w, http.StatusOK, j)
}

// Download handles GET {base}/download/{artifactId} and serves a stored export.
func (h *Handler) Download(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("artifactId")

	a, err := h.artifacts.Get(r.Context(), id)
	if err != nil {
		slog.Error("get artifact", "artifact_id", id, "error", err, "request_id", requestID(r.Context()))
		writeError(w, http.StatusInternalServerError, "failed to get artifact")
		return
	}
	if a == nil {
		writeError(w, http.StatusNotFound, "artifact not found")
		return
	}

	filename := "ro-crate-metadata.json"
	if a.ContentType == crate.MediaTypeZip {
		filename = "ro-crate-" + id[:min(len(id), 16)] + ".zip"
	}
	writeContent(w, a.ContentType, filename, a.Content)
}

// Health handles GET {base}/health and responds 200.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"queueDepth": h.queue.Depth(),
	})
}

// readBody reads at most cfg.MaxBodyBytes; a larger body is answered with 413.
func (h *Handler) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.cfg.MaxBodyBytes))
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit))
		return nil, false
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return nil, false
	}
	return body, true
}

// notFoundResponse is the body of a 404 answering an inline export.
type notFoundResponse struct {
	Message string      `json:"message"`
	Errors  []job.Error `json:"errors"`
}

// writeSubmitError maps scheduler failures onto status codes.
func (h *Handler) writeSubmitError(w http.ResponseWriter, r *http.Request, err error) {
	var nf *engine.NotFoundError
	switch {
	case errors.As(err, &nf):
		resp := notFoundResponse{Message: nf.Error()}
		for _, id := range nf.Identifiers {
			resp.Errors = append(resp.Errors, job.Error{Identifier: id, Message: "identifier not found: " + id})
		}
		writeJSON(w, http.StatusNotFound, resp)
	case errors.Is(err, queue.ErrQueueFull):
		writeError(w, http.StatusServiceUnavailable, "job queue is full, retry later")
	case errors.Is(err, queue.ErrEngine):
		slog.Error("engine call failed", "path", r.URL.Path, "error", err, "request_id", requestID(r.Context()))
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		slog.Error("submit failed", "path", r.URL.Path, "error", err, "request_id", requestID(r.Context()))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeNegotiateError(w http.ResponseWriter, err error) {
	var ne *negotiate.Error
	if errors.As(err, &ne) {
		writeError(w, ne.Status, ne.Error())
		return
	}
	writeError(w, http.StatusBadRequest, err.Error())
}

func writeContent(w http.ResponseWriter, contentType, filename string, content []byte) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(content)))
	if filename != "" {
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	}
	w.WriteHeader(http.StatusOK)
	w.Write(content) //nolint:errcheck
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data) //nolint:errcheck
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"message": message})
}
