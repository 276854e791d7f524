package rest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/mohitkumar/eventflow/action"
	"github.com/mohitkumar/eventflow/engine"
	"github.com/mohitkumar/eventflow/inbox"
	"github.com/mohitkumar/eventflow/logger"
	"github.com/mohitkumar/eventflow/metadata"
	"github.com/mohitkumar/eventflow/metrics"
	"go.uber.org/zap"
)

// UserHeader carries the id of the caller acting on executions and tasks.
const UserHeader = "X-User-Id"

type Server struct {
	http.Server
	Port            int
	metadataService metadata.MetadataService
	registry        *action.Registry
	engine          *engine.Engine
	tasks           *inbox.Service
	metrics         *metrics.Metrics
}

func NewServer(httpPort int, metadataService metadata.MetadataService, registry *action.Registry, eng *engine.Engine, tasks *inbox.Service, m *metrics.Metrics) *Server {
	s := &Server{
		Server: http.Server{
			Addr:              fmt.Sprintf(":%d", httpPort),
			IdleTimeout:       30 * time.Second,
			ReadHeaderTimeout: 5 * time.Second,
		},
		metadataService: metadataService,
		registry:        registry,
		engine:          eng,
		tasks:           tasks,
		metrics:         m,
		Port:            httpPort,
	}

	router := mux.NewRouter()
	router.HandleFunc("/metadata/workflow", s.HandleCreateFlow).Methods(http.MethodPost)
	router.HandleFunc("/metadata/workflow/{name}", s.HandleGetFlow).Methods(http.MethodGet)
	router.HandleFunc("/metadata/action", s.HandleListActions).Methods(http.MethodGet)

	router.HandleFunc("/tenant/{tenant}/execution", s.HandleStartExecution).Methods(http.MethodPost)
	router.HandleFunc("/tenant/{tenant}/execution/{id}", s.HandleGetExecution).Methods(http.MethodGet)
	router.HandleFunc("/tenant/{tenant}/execution/{id}/state", s.HandleGetState).Methods(http.MethodGet)
	router.HandleFunc("/tenant/{tenant}/execution/{id}/event", s.HandleSendEvent).Methods(http.MethodPost)
	router.HandleFunc("/tenant/{tenant}/execution/{id}/cancel", s.HandleCancelExecution).Methods(http.MethodPost)
	router.HandleFunc("/tenant/{tenant}/execution/{id}/events", s.HandleListEvents).Methods(http.MethodGet)
	router.HandleFunc("/tenant/{tenant}/execution/{id}/replay", s.HandleReplay).Methods(http.MethodGet)
	router.HandleFunc("/tenant/{tenant}/event/{eventId}/requeue", s.HandleRequeue).Methods(http.MethodPost)

	router.HandleFunc("/tenant/{tenant}/task/{id}", s.HandleGetTask).Methods(http.MethodGet)
	router.HandleFunc("/tenant/{tenant}/task/{id}/history", s.HandleTaskHistory).Methods(http.MethodGet)
	router.HandleFunc("/tenant/{tenant}/task/{id}/claim", s.HandleClaimTask).Methods(http.MethodPost)
	router.HandleFunc("/tenant/{tenant}/task/{id}/complete", s.HandleCompleteTask).Methods(http.MethodPost)
	router.HandleFunc("/tenant/{tenant}/task/{id}/cancel", s.HandleCancelTask).Methods(http.MethodPost)

	router.Handle("/metrics", m.Handler()).Methods(http.MethodGet)

	router.Use(loggingMiddleware)
	router.Use(s.metricsMiddleware)
	s.Handler = router
	return s
}

func (s *Server) Start() error {
	logger.Info("starting http server on", zap.Int("port", s.Port))
	if err := s.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	logger.Info("stopping http server")
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := s.Shutdown(ctx); err != nil {
		logger.Error("error shutting down http server", zap.Error(err))
		return err
	}
	return nil
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger.Debug("http request", zap.String("method", r.Method), zap.String("uri", r.RequestURI))
		next.ServeHTTP(w, r)
	})
}

// statusWriter remembers the status code written by a handler.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (s *Server) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		pattern := r.URL.Path
		if route := mux.CurrentRoute(r); route != nil {
			if tpl, err := route.GetPathTemplate(); err == nil {
				pattern = tpl
			}
		}
		s.metrics.HTTPObserved(r.Method, pattern, strconv.Itoa(sw.status), time.Since(start))
	})
}

func respondWithJSON(w http.ResponseWriter, code int, payload any) {
	response, err := json.Marshal(payload)
	if err != nil {
		logger.Error("error encoding response", zap.Error(err))
		code = http.StatusInternalServerError
		response = []byte(`{"error":"error encoding response"}`)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(response)
}

func respondOK(w http.ResponseWriter, message map[string]any) {
	respondWithJSON(w, http.StatusOK, message)
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}

// decode reads a JSON body into v. An empty body leaves v untouched.
func decode(r *http.Request, v any) error {
	defer r.Body.Close()
	if r.ContentLength == 0 {
		return nil
	}
	return json.NewDecoder(r.Body).Decode(v)
}
