package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"hushd/pkg/logx"
)

func (s *Server) buildRouter(cfg Config) http.Handler {
	r := chi.NewRouter()

	reqTimeout := cfg.RequestTimeout
	if reqTimeout <= 0 {
		reqTimeout = 30 * time.Second
	}

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(s.log))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(reqTimeout))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Route("/v1", func(r chi.Router) {
		r.Use(bearerAuth(cfg.Token))

		r.Post("/notifications", s.handleIngest)

		r.Route("/users/{user_id}", func(r chi.Router) {
			r.Route("/dnd", func(r chi.Router) {
				r.Get("/", s.handleDNDStatus)
				r.Get("/schedules", s.handleListSchedules)
				r.Post("/schedules", s.handleCreateSchedule)
				r.Patch("/schedules/{schedule_id}", s.handleUpdateSchedule)
				r.Delete("/schedules/{schedule_id}", s.handleDeleteSchedule)
				r.Post("/manual", s.handleStartManual)
				r.Delete("/manual", s.handleStopManual)
				r.Post("/favorites", s.handleAddFavorite)
				r.Post("/contacts", s.handleAddContact)
			})
			r.Route("/queue", func(r chi.Router) {
				r.Get("/", s.handleQueueStats)
				r.Patch("/{queue_id}", s.handleQueueReprioritize)
				r.Delete("/{queue_id}", s.handleQueueCancel)
			})
			r.Get("/bundles", s.handleBundleStats)
		})
	})

	return r
}

// requestLogger logs each request at debug with method/path/status/duration.
func requestLogger(log logx.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			log.Debug("http request",
				logx.String("method", r.Method),
				logx.String("path", r.URL.Path),
				logx.Int("status", ww.Status()),
				logx.Duration("duration", time.Since(start)),
				logx.String("remote_addr", r.RemoteAddr),
			)
		})
	}
}

func bearerAuth(token string) func(http.Handler) http.Handler {
	tok := strings.TrimSpace(token)
	return func(next http.Handler) http.Handler {
		if tok == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			const p = "Bearer "
			ah := r.Header.Get("Authorization")
			if strings.HasPrefix(ah, p) && strings.TrimSpace(strings.TrimPrefix(ah, p)) == tok {
				next.ServeHTTP(w, r)
				return
			}
			w.Header().Set("WWW-Authenticate", "Bearer")
			writeError(w, http.StatusUnauthorized, "unauthorized")
		})
	}
}
