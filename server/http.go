package server

import (
	"embed"
	"encoding/json"
	"errors"
	"html/template"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/theleeeo/records/app"
	"github.com/theleeeo/records/resource"
)

const maxBodyBytes = 1 << 20

//go:embed static/index.html
var staticFiles embed.FS

var indexTmpl = template.Must(template.ParseFS(staticFiles, "static/index.html"))

type HTTPServer struct {
	app    *app.App
	logger *slog.Logger

	metrics *metrics

	handler http.Handler
}

// NewHTTP builds the router for every resource of the app. Metrics are
// registered on a dedicated registry, exposed under /metrics.
func NewHTTP(a *app.App, logger *slog.Logger) *HTTPServer {
	if logger == nil {
		logger = slog.Default()
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	s := &HTTPServer{
		app:     a,
		logger:  logger,
		metrics: newMetrics(reg),
	}

	mux := http.NewServeMux()
	for _, rc := range a.Resources() {
		s.registerResource(mux, rc)
	}
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	s.handler = withRequestID(s.withLogging(s.withRecover(s.withMetrics(s.withJSONFallback(mux)))))
	return s
}

func (s *HTTPServer) Handler() http.Handler {
	return s.handler
}

func (s *HTTPServer) registerResource(mux *http.ServeMux, rc *resource.Config) {
	name := rc.Resource
	collection := rc.Path
	item := rc.Path + "/{id}"

	mux.HandleFunc("GET "+collection, func(w http.ResponseWriter, r *http.Request) {
		records, err := s.app.List(r.Context(), name)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, records)
	})

	mux.HandleFunc("POST "+collection, func(w http.ResponseWriter, r *http.Request) {
		body, err := readBody(w, r)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		rec, err := s.app.Create(r.Context(), name, body)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusCreated, rec)
	})

	mux.HandleFunc("GET "+collection+"/_search", func(w http.ResponseWriter, r *http.Request) {
		size, err := parseSize(r.URL.Query().Get("size"))
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		res, err := s.app.Search(r.Context(), name, r.URL.Query().Get("q"), size)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, res)
	})

	mux.HandleFunc("GET "+item, func(w http.ResponseWriter, r *http.Request) {
		rec, err := s.app.Get(r.Context(), name, r.PathValue("id"))
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, rec)
	})

	mux.HandleFunc("PUT "+item, func(w http.ResponseWriter, r *http.Request) {
		body, err := readBody(w, r)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		rec, err := s.app.Update(r.Context(), name, r.PathValue("id"), body)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, rec)
	})

	mux.HandleFunc("PATCH "+item, func(w http.ResponseWriter, r *http.Request) {
		body, err := readBody(w, r)
		if err != nil {
			s.writeError(w, r, err)
			return
		}

		update := s.app.Update
		if isJSONPatch(r) {
			update = s.app.Patch
		}
		rec, err := update(r.Context(), name, r.PathValue("id"), body)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, rec)
	})

	mux.HandleFunc("DELETE "+item, func(w http.ResponseWriter, r *http.Request) {
		res, err := s.app.Delete(r.Context(), name, r.PathValue("id"))
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, res)
	})
}

func (s *HTTPServer) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := indexTmpl.Execute(w, s.app.Resources()); err != nil {
		s.logger.ErrorContext(r.Context(), "render index page", "error", err)
	}
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *HTTPServer) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		ve  *app.ValidationError
		ide *app.InvalidIDError
		nfe *app.NotFoundError
	)

	switch {
	case errors.As(err, &ve):
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: ve.Msg})
	case errors.As(err, &ide):
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: ide.Error()})
	case errors.As(err, &nfe):
		s.writeJSON(w, http.StatusNotFound, errorResponse{Error: nfe.Error()})
	case errors.Is(err, app.ErrUnknownResource):
		s.writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
	case errors.Is(err, app.ErrSearchDisabled):
		s.writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: err.Error()})
	default:
		s.logger.ErrorContext(r.Context(), "request failed", "method", r.Method, "path", r.URL.Path, "request_id", requestIDFrom(r.Context()), "error", err)
		s.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "An internal error occurred"})
	}
}

func (s *HTTPServer) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("failed to encode JSON", "error", err)
	}
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			return nil, &app.ValidationError{Msg: "Request body too large"}
		}
		return nil, &app.ValidationError{Msg: "Request must be JSON"}
	}
	return body, nil
}

// parseSize reads the optional size query parameter. Zero means the default.
func parseSize(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	size, err := strconv.Atoi(raw)
	if err != nil || size < 0 {
		return 0, &app.ValidationError{Msg: "Invalid size: " + raw}
	}
	return size, nil
}

func isJSONPatch(r *http.Request) bool {
	ct := r.Header.Get("Content-Type")
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	return strings.EqualFold(strings.TrimSpace(ct), "application/json-patch+json")
}
