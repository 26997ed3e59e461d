package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"qforge/internal/api"
	"qforge/internal/logging"
	"qforge/internal/services"
	"qforge/internal/store"
	"qforge/internal/supervisor"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
	maxBodyBytes     = 64 << 10
)

type apiServer struct {
	bind   string
	logger *slog.Logger
	daemon *Daemon

	mu       sync.Mutex
	listener net.Listener
	server   *http.Server
}

func newAPIServer(bind, token string, d *Daemon, logger *slog.Logger) *apiServer {
	bind = strings.TrimSpace(bind)
	if bind == "" {
		return nil
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	srv := &apiServer{
		bind:   bind,
		logger: logging.NewComponentLogger(logger, "api-server"),
		daemon: d,
	}
	srv.server = &http.Server{
		Handler:           withRequestID(authMiddleware(token, srv.routes())),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// reset-store may wait out the stop grace period.
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return srv
}

func (s *apiServer) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("POST /api/augment", s.handleAugment)
	mux.HandleFunc("POST /api/stop", s.handleStop)
	mux.HandleFunc("POST /api/reset-store", s.handleResetStore)
	mux.HandleFunc("GET /api/stats", s.handleStats)
	mux.HandleFunc("GET /api/chapters", s.handleChapters)
	mux.HandleFunc("GET /api/checkpoints", s.handleCheckpoints)
	mux.HandleFunc("GET /api/variants", s.handleVariants)
	mux.HandleFunc("GET /api/variants/next", s.handleNextPending)
	mux.HandleFunc("POST /api/variants/approve-pending", s.handleApprovePending)
	mux.HandleFunc("POST /api/variants/{id}/review", s.handleReview)
	return mux
}

func (s *apiServer) start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", logging.Error(err))
		}
	}()
	go func() {
		<-ctx.Done()
		s.stop()
	}()

	s.logger.Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

func (s *apiServer) stop() {
	if s == nil {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = s.server.Shutdown(shutdownCtx)
	s.mu.Lock()
	if s.listener != nil {
		_ = s.listener.Close()
		s.listener = nil
	}
	s.mu.Unlock()
}

func (s *apiServer) addr() string {
	if s == nil {
		return ""
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.daemon.Status(r.Context())
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, status)
}

func (s *apiServer) handleAugment(w http.ResponseWriter, r *http.Request) {
	req, err := decodeAugmentRequest(w, r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	result, err := s.daemon.Augment(r.Context(), req.Subject, req.Chapter)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, api.AugmentResponse{
		Status:  "success",
		Message: fmt.Sprintf("Started augmentation for %s.", req.Chapter),
		PGID:    result.PGID,
	})
}

// decodeAugmentRequest accepts a JSON body or form fields. The form variant
// also accepts chapter="<subject>|<chapter>" as sent by the dashboard's
// chapter selector.
func decodeAugmentRequest(w http.ResponseWriter, r *http.Request) (api.AugmentRequest, error) {
	var req api.AugmentRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return req, fmt.Errorf("invalid request body: %w", err)
		}
	} else {
		if err := r.ParseForm(); err != nil {
			return req, fmt.Errorf("invalid form: %w", err)
		}
		req.Subject = r.PostFormValue("subject")
		req.Chapter = r.PostFormValue("chapter")
	}
	if strings.TrimSpace(req.Subject) == "" {
		if subject, chapter, ok := strings.Cut(req.Chapter, "|"); ok {
			req.Subject, req.Chapter = subject, chapter
		}
	}
	req.Subject = strings.TrimSpace(req.Subject)
	req.Chapter = strings.TrimSpace(req.Chapter)
	if req.Subject == "" || req.Chapter == "" {
		return req, errors.New("subject and chapter are required")
	}
	return req, nil
}

func (s *apiServer) handleStop(w http.ResponseWriter, r *http.Request) {
	result, err := s.daemon.StopPipeline(r.Context())
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	message := "No process was running."
	if result.Signalled {
		message = "Process terminated."
	}
	s.writeJSON(w, http.StatusOK, api.MessageResponse{Status: "success", Message: message})
}

func (s *apiServer) handleResetStore(w http.ResponseWriter, r *http.Request) {
	if err := s.daemon.ResetStore(r.Context()); err != nil {
		s.writeFailure(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.MessageResponse{Status: "success", Message: "Database has been successfully reset."})
}

func (s *apiServer) handleApprovePending(w http.ResponseWriter, r *http.Request) {
	stopped, approved, err := s.daemon.ApprovePending(r.Context())
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	message := fmt.Sprintf("Approved %d pending variants.", approved)
	if stopped.Signalled {
		message = "Process terminated. " + message
	}
	s.writeJSON(w, http.StatusOK, api.MessageResponse{Status: "success", Message: message})
}

func (s *apiServer) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.daemon.review.Stats(r.Context())
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}

func (s *apiServer) handleChapters(w http.ResponseWriter, _ *http.Request) {
	chapters := make([]api.Chapter, 0, len(s.daemon.cfg.Chapters))
	for _, entry := range s.daemon.cfg.Chapters {
		chapters = append(chapters, api.Chapter{
			Subject:   entry.Subject,
			Chapter:   entry.Chapter,
			Document:  entry.Document,
			StartPage: entry.StartPage,
			EndPage:   entry.EndPage,
		})
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"chapters": chapters})
}

func (s *apiServer) handleCheckpoints(w http.ResponseWriter, r *http.Request) {
	checkpoints, err := s.daemon.review.Checkpoints(r.Context(), strings.TrimSpace(r.URL.Query().Get("document")))
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"items": checkpoints})
}

func (s *apiServer) handleVariants(w http.ResponseWriter, r *http.Request) {
	filter, err := parseVariantFilter(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	items, err := s.daemon.review.Variants(r.Context(), filter)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	if items == nil {
		items = []api.Variant{}
	}
	s.writeJSON(w, http.StatusOK, api.VariantListResponse{Items: items})
}

func parseVariantFilter(r *http.Request) (store.VariantFilter, error) {
	query := r.URL.Query()
	filter := store.VariantFilter{
		Subject: strings.TrimSpace(query.Get("subject")),
		Chapter: strings.TrimSpace(query.Get("chapter")),
		Limit:   defaultListLimit,
	}
	if value := strings.TrimSpace(query.Get("status")); value != "" {
		status, ok := store.ParseReviewStatus(value)
		if !ok {
			return filter, fmt.Errorf("unknown review status %q", value)
		}
		filter.Status = status
	}
	if value := strings.TrimSpace(query.Get("parent")); value != "" {
		id, err := strconv.ParseInt(value, 10, 64)
		if err != nil || id <= 0 {
			return filter, fmt.Errorf("invalid parent id %q", value)
		}
		filter.ParentID = id
	}
	if value := strings.TrimSpace(query.Get("limit")); value != "" {
		limit, err := strconv.Atoi(value)
		if err != nil || limit <= 0 {
			return filter, fmt.Errorf("invalid limit %q", value)
		}
		filter.Limit = min(limit, maxListLimit)
	}
	if value := strings.TrimSpace(query.Get("offset")); value != "" {
		offset, err := strconv.Atoi(value)
		if err != nil || offset < 0 {
			return filter, fmt.Errorf("invalid offset %q", value)
		}
		filter.Offset = offset
	}
	return filter, nil
}

func (s *apiServer) handleNextPending(w http.ResponseWriter, r *http.Request) {
	next, err := s.daemon.review.NextPending(r.Context())
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, next)
}

func (s *apiServer) handleReview(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		s.writeError(w, http.StatusBadRequest, "invalid variant id")
		return
	}
	var req api.ReviewRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	variant, err := s.daemon.review.Review(r.Context(), id, req.Status)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, variant)
}

// writeFailure maps domain errors onto HTTP status codes.
func (s *apiServer) writeFailure(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, supervisor.ErrAlreadyRunning), errors.Is(err, supervisor.ErrControlBusy):
		status = http.StatusConflict
	case errors.Is(err, services.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, services.ErrValidation), errors.Is(err, services.ErrConfiguration):
		status = http.StatusBadRequest
	}
	if status == http.StatusInternalServerError {
		logging.WithContext(r.Context(), s.logger).Error("api request failed",
			logging.String("method", r.Method),
			logging.String("path", r.URL.Path),
			logging.Error(err),
		)
	}
	s.writeError(w, status, err.Error())
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to encode response", logging.Error(err))
	}
}

func (s *apiServer) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"status": "error", "error": message})
}
