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

	"github.com/sells-group/contract-compliance/internal/engine"
	"github.com/sells-group/contract-compliance/internal/graph"
	"github.com/sells-group/contract-compliance/internal/model"
	"github.com/sells-group/contract-compliance/internal/resilience"
	"github.com/sells-group/contract-compliance/internal/store"
)

var servePort int

// apiStore is the store surface the HTTP API reads.
type apiStore interface {
	Ping(ctx context.Context) error
	ListBreaches(ctx context.Context, filter store.BreachFilter) ([]model.BreachRecord, error)
	ListVerdicts(ctx context.Context, breachID string) ([]model.VerdictRecord, error)
}

// reportNotifier sends alerts for a finished run.
type reportNotifier interface {
	Notify(ctx context.Context, rep *engine.Report) int
}

// apiEngine is the engine surface the HTTP API drives.
type apiEngine interface {
	Refresh(ctx context.Context) (*graph.Snapshot, error)
	Evaluate(ctx context.Context, task engine.Task) (*engine.Report, error)
	EvaluateBatch(ctx context.Context, tasks []engine.Task) (*engine.Report, error)
	TasksForPeriod(ctx context.Context, periodKey string, force bool) ([]engine.Task, error)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the evaluation HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx, "serve")
		if err != nil {
			return err
		}
		defer env.Close()

		if _, err := env.Engine.Refresh(ctx); err != nil {
			return eris.Wrap(err, "load graph")
		}

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           newRouter(env.Store, env.Engine, env.Alerter, cfg.Server.CORSOrigins),
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
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

// evaluationRequest evaluates one contract when ContractID is set, the named
// contracts when ContractIDs is set, and every known contract otherwise.
type evaluationRequest struct {
	ContractID  string   `json:"contract_id"`
	ContractIDs []string `json:"contract_ids"`
	PeriodKey   string   `json:"period_key"`
	Force       bool     `json:"force"`
}

func newRouter(st apiStore, eng apiEngine, alerts reportNotifier, origins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := st.Ping(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/v1", func(api chi.Router) {
		api.Post("/evaluations", func(w http.ResponseWriter, r *http.Request) {
			var req evaluationRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				writeError(w, http.StatusBadRequest, "invalid request body")
				return
			}
			if _, err := model.ParsePeriod(req.PeriodKey); err != nil {
				writeError(w, http.StatusBadRequest, "period_key: "+err.Error())
				return
			}

			ctx := r.Context()
			var (
				rep *engine.Report
				err error
			)
			if req.ContractID != "" {
				// Batches refresh on their own; a single task would otherwise see
				// the snapshot loaded at startup.
				if _, err := eng.Refresh(ctx); err != nil {
					zap.L().Error("graph refresh failed", zap.String("contract_id", req.ContractID), zap.Error(err))
					status := http.StatusInternalServerError
					if resilience.IsTransient(err) {
						status = http.StatusServiceUnavailable
					}
					writeError(w, status, err.Error())
					return
				}
				rep, err = eng.Evaluate(ctx, engine.Task{ContractID: req.ContractID, PeriodKey: req.PeriodKey, Force: req.Force})
			} else {
				var tasks []engine.Task
				tasks, err = requestTasks(ctx, eng, req)
				if err == nil {
					rep, err = eng.EvaluateBatch(ctx, tasks)
				}
			}
			if err != nil {
				zap.L().Error("evaluation failed", zap.String("period", req.PeriodKey), zap.Error(err))
				status := http.StatusUnprocessableEntity
				if resilience.IsTransient(err) {
					status = http.StatusServiceUnavailable
				}
				writeError(w, status, err.Error())
				return
			}
			alerts.Notify(ctx, rep)
			writeJSON(w, http.StatusOK, rep)
		})

		api.Get("/breaches", func(w http.ResponseWriter, r *http.Request) {
			q := r.URL.Query()
			filter := store.BreachFilter{
				ContractID:   q.Get("contract"),
				ObligationID: q.Get("obligation"),
				PeriodKey:    q.Get("period"),
			}
			if v := q.Get("include_superseded"); v != "" {
				b, err := strconv.ParseBool(v)
				if err != nil {
					writeError(w, http.StatusBadRequest, "include_superseded must be a boolean")
					return
				}
				filter.IncludeSuperseded = b
			}
			if v := q.Get("limit"); v != "" {
				n, err := strconv.Atoi(v)
				if err != nil || n <= 0 {
					writeError(w, http.StatusBadRequest, "limit must be a positive integer")
					return
				}
				filter.Limit = n
			}
			breaches, err := st.ListBreaches(r.Context(), filter)
			if err != nil {
				writeError(w, http.StatusInternalServerError, err.Error())
				return
			}
			if breaches == nil {
				breaches = []model.BreachRecord{}
			}
			writeJSON(w, http.StatusOK, map[string]any{"breaches": breaches})
		})

		api.Get("/breaches/{id}/verdicts", func(w http.ResponseWriter, r *http.Request) {
			verdicts, err := st.ListVerdicts(r.Context(), chi.URLParam(r, "id"))
			if err != nil {
				writeError(w, http.StatusInternalServerError, err.Error())
				return
			}
			if verdicts == nil {
				verdicts = []model.VerdictRecord{}
			}
			writeJSON(w, http.StatusOK, map[string]any{"verdicts": verdicts})
		})
	})

	return r
}

func requestTasks(ctx context.Context, eng apiEngine, req evaluationRequest) ([]engine.Task, error) {
	if len(req.ContractIDs) == 0 {
		return eng.TasksForPeriod(ctx, req.PeriodKey, req.Force)
	}
	tasks := make([]engine.Task, 0, len(req.ContractIDs))
	for _, id := range req.ContractIDs {
		tasks = append(tasks, engine.Task{ContractID: id, PeriodKey: req.PeriodKey, Force: req.Force})
	}
	return tasks, nil
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
