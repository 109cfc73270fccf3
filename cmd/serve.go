package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/project-link/internal/model"
	"github.com/sells-group/project-link/internal/resilience"
)

// linkService resolves client links.
type linkService interface {
	LinksForClient(ctx context.Context, contactID, email string) ([]model.Link, error)
	ProjectIDsForContact(ctx context.Context, contactID string) ([]string, error)
}

// catalogService lists portal projects.
type catalogService interface {
	ListAll(ctx context.Context, status string, pageSize int) ([]model.Project, error)
}

// taskService lists project tasks.
type taskService interface {
	AllProjectTasks(ctx context.Context, projectID string, pageSize int) ([]model.Task, error)
}

// portalService reports routing state.
type portalService interface {
	PortalConfigured() bool
	Routes(ctx context.Context) ([]model.Route, error)
}

type services struct {
	Links   linkService
	Catalog catalogService
	Tasks   taskService
	Portal  portalService
}

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx, "serve")
		if err != nil {
			return err
		}
		defer env.Close()

		router := buildRouter(services{
			Links:   env.Linker,
			Catalog: env.Catalog,
			Tasks:   env.Tasks,
			Portal:  env.Resolver,
		}, cfg.Server.AllowedOrigins)

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

// buildRouter mounts the API. Handlers only translate results to HTTP.
func buildRouter(svc services, allowedOrigins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Get("/contacts/{id}/projects", func(w http.ResponseWriter, r *http.Request) {
		links, err := svc.Links.LinksForClient(r.Context(), chi.URLParam(r, "id"), r.URL.Query().Get("email"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"links": links})
	})

	r.Get("/contacts/{id}/project-ids", func(w http.ResponseWriter, r *http.Request) {
		ids, err := svc.Links.ProjectIDsForContact(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"project_ids": ids})
	})

	r.Get("/projects", func(w http.ResponseWriter, r *http.Request) {
		pageSize, ok := intParam(w, r, "page_size", 100)
		if !ok {
			return
		}
		list, err := svc.Catalog.ListAll(r.Context(), r.URL.Query().Get("status"), pageSize)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"projects": list})
	})

	r.Get("/projects/{id}/tasks", func(w http.ResponseWriter, r *http.Request) {
		pageSize, ok := intParam(w, r, "page_size", 100)
		if !ok {
			return
		}
		list, err := svc.Tasks.AllProjectTasks(r.Context(), chi.URLParam(r, "id"), pageSize)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"tasks": list})
	})

	r.Get("/portal/status", func(w http.ResponseWriter, r *http.Request) {
		resp := map[string]any{"configured": svc.Portal.PortalConfigured()}
		if r.URL.Query().Get("discover") == "true" {
			routes, err := svc.Portal.Routes(r.Context())
			if err != nil {
				writeError(w, err)
				return
			}
			resp["routes"] = routes
		}
		writeJSON(w, http.StatusOK, resp)
	})

	return r
}

func intParam(w http.ResponseWriter, r *http.Request, name string, def int) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": name + " must be a positive integer"})
		return 0, false
	}
	return n, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Debug("write response failed", zap.Error(err))
	}
}

// writeError maps rate limiting to 429 and every other failure to 502.
func writeError(w http.ResponseWriter, err error) {
	var rl *resilience.RateLimitError
	if errors.As(err, &rl) {
		if rl.RetryAfter > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(int(rl.RetryAfter.Seconds())))
		}
		writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "upstream rate limit"})
		return
	}
	zap.L().Warn("request failed", zap.Error(err))
	writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
}
