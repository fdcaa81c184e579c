package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/Sternrassler/dashboard-sync/pkg/client"
	"github.com/Sternrassler/dashboard-sync/pkg/metrics"
	"github.com/Sternrassler/dashboard-sync/pkg/orchestrator"
	"github.com/Sternrassler/dashboard-sync/pkg/screen"
	"github.com/Sternrassler/dashboard-sync/pkg/view"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

func newServeCmd(a *app) *cobra.Command {
	var listen, screensDir string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve computed screen views, health and metrics over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Flags().Changed("listen") {
				a.cfg.ListenAddr = listen
			}
			if cmd.Flags().Changed("screens") {
				a.cfg.ScreensDir = screensDir
			}
			return a.runServe(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "listen address (env DASHSYNC_LISTEN_ADDR)")
	cmd.Flags().StringVar(&screensDir, "screens", "", "directory of screen definitions (env DASHSYNC_SCREENS_DIR)")
	return cmd
}

func (a *app) runServe(ctx context.Context) error {
	defs, err := screen.ParseDir(a.cfg.ScreensDir)
	if err != nil {
		return err
	}
	if len(defs) == 0 {
		return fmt.Errorf("no screen definitions in %s", a.cfg.ScreensDir)
	}

	b, err := a.connect(ctx)
	if err != nil {
		return err
	}
	defer b.Close()

	srv := &http.Server{
		Addr:              a.cfg.ListenAddr,
		Handler:           newRouter(a, b, defs),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info().Str("addr", srv.Addr).Int("screens", len(defs)).Msg("Starting server")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	a.logger.Info().Msg("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// viewResponse is the body of /screens/{name}/view.
type viewResponse struct {
	Screen     string          `json:"screen"`
	Items      []screen.Record `json:"items"`
	Pagination paginationBody  `json:"pagination"`
	Degraded   bool            `json:"degraded"`
	References string          `json:"references"`
}

type paginationBody struct {
	Page       int `json:"page"`
	PageSize   int `json:"pageSize"`
	Total      int `json:"total"`
	TotalPages int `json:"totalPages"`
}

func newRouter(a *app, b *backend, defs []*screen.Definition) chi.Router {
	byName := make(map[string]*screen.Definition, len(defs))
	names := make([]string, 0, len(defs))
	for _, d := range defs {
		byName[d.Name] = d
		names = append(names, d.Name)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestLogger(a.logger))
	r.Use(middleware.Recoverer)

	r.Get("/health", healthHandler)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Get("/screens", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"screens": names})
	})

	r.Get("/screens/{name}/view", func(w http.ResponseWriter, r *http.Request) {
		def, ok := byName[chi.URLParam(r, "name")]
		if !ok {
			writeError(w, http.StatusNotFound, "unknown screen")
			return
		}
		params, err := def.ParseQuery(r.URL.Query())
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		s, err := a.newSession(b, def)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if err := s.SetParams(params); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if err := s.Load(r.Context()); err != nil {
			writeError(w, loadStatus(err), err.Error())
			return
		}

		snap := s.Snapshot()
		writeJSON(w, http.StatusOK, viewResponse{
			Screen: def.Name,
			Items:  snap.Items,
			Pagination: paginationBody{
				Page:       snap.Params.Page,
				PageSize:   snap.Params.PageSize,
				Total:      snap.Total,
				TotalPages: snap.TotalPages,
			},
			Degraded:   snap.Degraded,
			References: string(snap.References.Status),
		})
	})

	return r
}

func healthHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "OK")
}

// loadStatus maps a load error to the status reported to the caller.
func loadStatus(err error) int {
	switch {
	case errors.Is(err, view.ErrInvalidParams), errors.Is(err, client.ErrInvalidPage):
		return http.StatusBadRequest
	case errors.Is(err, orchestrator.ErrExhausted), client.ClassOf(err) == client.ErrorClassRateLimit:
		return http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled):
		return 499
	default:
		return http.StatusBadGateway
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func requestLogger(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Debug().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Str("request_id", middleware.GetReqID(r.Context())).
				Dur("duration", time.Since(start)).
				Msg("HTTP request")
		})
	}
}
