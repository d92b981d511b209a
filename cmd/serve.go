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

	"github.com/sells-group/funnel-agent/internal/experience"
	"github.com/sells-group/funnel-agent/internal/model"
	"github.com/sells-group/funnel-agent/internal/registry"
	"github.com/sells-group/funnel-agent/internal/resilience"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if servePort != 0 {
			cfg.Server.Port = servePort
		}

		env, err := initAgent(ctx, "serve")
		if err != nil {
			return err
		}
		defer env.Close()

		srv := &http.Server{
			Addr: fmt.Sprintf(":%d", cfg.Server.Port),
			Handler: newRouter(&apiServer{
				agent:    env.Orchestrator,
				registry: env.Registry,
				breakers: env.Breakers,
				store:    env.Store,
			}),
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

// analyzer runs one request through the provider chain.
type analyzer interface {
	Analyze(ctx context.Context, req model.AnalysisRequest) (model.AnalysisResult, error)
}

type apiServer struct {
	agent    analyzer
	registry *registry.Registry
	breakers *resilience.Breakers
	store    experience.Store
}

func newRouter(s *apiServer) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/v1", func(r chi.Router) {
		r.Post("/analyze", s.handleAnalyze)
		r.Post("/optimize", s.handleOptimize)
		r.Get("/providers", s.handleProviders)
		r.Get("/experience", s.handleExperience)
	})

	return r
}

func (s *apiServer) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Funnel json.RawMessage `json:"funnel"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.run(w, r, model.NewAnalysisRequest(model.KindFunnelAnalysis, body.Funnel, nil))
}

func (s *apiServer) handleOptimize(w http.ResponseWriter, r *http.Request) {
	var body stepDocument
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.run(w, r, model.NewAnalysisRequest(model.KindStepOptimization, body.Step, body.Context))
}

func (s *apiServer) run(w http.ResponseWriter, r *http.Request, req model.AnalysisRequest) {
	res, err := s.agent.Analyze(r.Context(), req)
	if err != nil {
		var ve *model.ValidationError
		if errors.As(err, &ve) {
			writeError(w, http.StatusBadRequest, ve.Error())
			return
		}
		zap.L().Error("analyze request", zap.String("request_id", req.RequestID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *apiServer) handleProviders(w http.ResponseWriter, r *http.Request) {
	circuits := []resilience.BreakerStatus{}
	if s.breakers != nil {
		circuits = s.breakers.Snapshot()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"providers": s.registry.Describe(),
		"circuits":  circuits,
	})
}

func (s *apiServer) handleExperience(w http.ResponseWriter, r *http.Request) {
	entries := s.store.Entries()
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		entries = lastEntries(entries, limit)
	}
	if entries == nil {
		entries = []model.ExperienceEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"count":   len(entries),
		"entries": entries,
	})
}

// lastEntries returns the most recent limit entries. Zero or less means all.
func lastEntries(entries []model.ExperienceEntry, limit int) []model.ExperienceEntry {
	if limit <= 0 || len(entries) <= limit {
		return entries
	}
	return entries[len(entries)-limit:]
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("write response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
