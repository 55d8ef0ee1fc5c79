package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"forge-coach/handler"
	"forge-coach/internal/bootstrap"
	"forge-coach/internal/config"
	"forge-coach/internal/observability"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the forge HTTP API",
	Long: `Starts the HTTP server with the routes:
  GET  /         banner
  GET  /health   liveness
  POST /forge    one coaching exchange
  GET  /metrics  Prometheus metrics

The server shuts down gracefully on SIGINT or SIGTERM.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := newRuntime(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = rt.logger.Sync() }()

	srvCfg, err := config.ServerConfig(rt.v)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	deps := rt.deps()
	deps.Metrics = observability.NewMetrics(reg)
	svc, err := bootstrap.ForgeService(rt.v, deps)
	if err != nil {
		return err
	}
	h, err := handler.NewHandler(svc, handler.WithLogger(rt.logger), handler.WithBodyLimit(srvCfg.BodyLimit))
	if err != nil {
		return err
	}

	gin.SetMode(gin.ReleaseMode)
	srv := &http.Server{
		Addr: srvCfg.Addr(),
		Handler: handler.NewRouter(h, handler.RouterConfig{
			CORSOrigins: srvCfg.CORSOrigins,
			RateLimit:   srvCfg.RateLimit,
			RateBurst:   srvCfg.RateBurst,
			Metrics:     observability.NewHTTPMetrics(reg),
			Gatherer:    reg,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		rt.logger.Info("forge server listening",
			zap.String("addr", srv.Addr),
			zap.String("backend", rt.v.GetString("backend")),
			zap.Bool("local", local),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		rt.logger.Info("forge server shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
