package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/educapro/notifier/internal/services/notifier"
)

// Server exposes the notification REST surface.
type Server struct {
	log        *zap.Logger
	engine     *notifier.Engine
	reconciler *notifier.Reconciler
	http       *http.Server
}

func NewServer(log *zap.Logger, addr string, engine *notifier.Engine, reconciler *notifier.Reconciler) *Server {
	s := &Server{
		log:        log.With(zap.String("component", "httpapi")),
		engine:     engine,
		reconciler: reconciler,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(s.requestLog)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Route("/api/notifications", func(r chi.Router) {
		r.Post("/new-task", s.createHandler(engine.CreateForNewTask, true))
		r.Post("/reminder", s.createHandler(engine.CreateReminder, false))
		r.Post("/graded", s.createHandler(engine.CreateForGrade, false))
		r.Post("/updated", s.createHandler(engine.CreateForUpdate, false))
		r.Post("/overdue", s.createHandler(engine.CreateForOverdue, false))

		r.Get("/history", s.history)
		r.Get("/stats", s.stats)
		r.Post("/process-pending", s.processPending)

		r.Get("/{id}", s.get)
		r.Post("/{id}/resend", s.resend)
		r.Delete("/{id}", s.delete)
	})

	s.http = &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Run serves until ctx is canceled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http server started", zap.String("addr", s.http.Addr))
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.http.Shutdown(shutdownCtx); err != nil {
			return err
		}
		s.log.Info("http server stopped")
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

func (s *Server) requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("took", time.Since(start)),
		)
	})
}
