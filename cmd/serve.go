package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/khanhnv2901/netlab/internal/api"
	"github.com/khanhnv2901/netlab/internal/probe"
	"github.com/khanhnv2901/netlab/internal/ratelimit"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run netlab as a REST API service",
	RunE: func(cmd *cobra.Command, args []string) error {
		appCtx := getAppContext(cmd)
		logger := appCtx.Logger
		cfg := appCtx.Config.Server

		svc, limiter, err := buildProbeService(appCtx)
		if err != nil {
			return err
		}

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()
		go limiter.Run(ctx, defaultLimiterSweep)

		if viper.ConfigFileUsed() != "" {
			viper.OnConfigChange(func(e fsnotify.Event) {
				if e.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					return
				}
				reloadRuntimePolicy(svc, limiter, logger)
			})
			viper.WatchConfig()
		}

		jobManager := api.NewJobManager()
		defer jobManager.Close()
		if cfg.MaxJobs > 0 {
			jobManager.SetMaxJobs(cfg.MaxJobs)
		}

		health := &healthAPIService{appCtx: appCtx}
		server := api.NewServer(api.Config{
			Probes:      svc,
			Health:      health,
			Jobs:        api.NewProbeJobService(jobManager, svc, logger, cfg.JobTimeout),
			AuthToken:   cfg.AuthToken,
			Logger:      logger,
			CORSOrigins: cfg.CORSOrigins,
		})

		listener, err := net.Listen("tcp", cfg.Addr)
		if err != nil {
			return fmt.Errorf("listen on %s: %w", cfg.Addr, err)
		}

		httpServer := &http.Server{
			Handler:           server,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       15 * time.Second,
			IdleTimeout:       120 * time.Second,
			BaseContext:       func(net.Listener) context.Context { return ctx },
		}

		// Channel to listen for errors from the server
		serverErrors := make(chan error, 1)
		go func() {
			serverErrors <- httpServer.Serve(listener)
		}()
		health.ready.Store(true)

		fmt.Fprintf(cmd.OutOrStdout(), "%s API server listening on %s (results dir: %s)\n", colorInfo("→"), listener.Addr(), appCtx.ResultsDir)
		fmt.Fprintf(cmd.OutOrStdout(), "%s Press Ctrl+C to gracefully shutdown\n", colorInfo("→"))
		logger.Info("api server started", zap.String("addr", listener.Addr().String()), zap.Bool("auth", cfg.AuthToken != ""))

		// Block until we receive a signal or an error
		select {
		case err := <-serverErrors:
			if !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server error: %w", err)
			}
		case <-cmd.Context().Done():
			health.ready.Store(false)
			fmt.Fprintf(cmd.OutOrStdout(), "\n%s Shutdown requested, draining connections...\n", colorInfo("→"))

			shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
			defer cancelShutdown()

			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				// Force close if graceful shutdown fails
				if closeErr := httpServer.Close(); closeErr != nil {
					return fmt.Errorf("failed to gracefully shutdown server: %w (close error: %v)", err, closeErr)
				}
				return fmt.Errorf("failed to gracefully shutdown server: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s Server shutdown complete\n", colorSuccess("✓"))
		}

		return nil
	},
}

func init() {
	serveCmd.Flags().StringVar(&cliConfig.Server.Addr, "addr", cliConfig.Server.Addr, "Address for the API server")
	serveCmd.Flags().StringVar(&cliConfig.Server.AuthToken, "auth-token", "", "Optional shared secret for API requests (X-Auth-Token)")
	serveCmd.Flags().DurationVar(&cliConfig.Server.ShutdownTimeout, "shutdown-timeout", cliConfig.Server.ShutdownTimeout, "Graceful shutdown timeout")
	serveCmd.Flags().StringSliceVar(&cliConfig.Server.CORSOrigins, "cors-origins", nil, "Allowed CORS origins (empty = allow all)")
	rootCmd.AddCommand(serveCmd)
}

// reloadRuntimePolicy re-reads the denylist and rate-limit policies after the
// config file changed. Other settings need a restart.
func reloadRuntimePolicy(svc *probe.Service, limiter *ratelimit.WindowLimiter, logger *zap.Logger) {
	if viper.IsSet("probe.denylist") {
		denylist := viper.GetStringSlice("probe.denylist")
		svc.Validator().SetDenylist(denylist)
		logger.Info("denylist reloaded", zap.Strings("denylist", svc.Validator().Denylist()))
	}

	policies := loadRateLimitPolicies(ratelimit.DefaultPolicies())
	for _, op := range probe.Operations {
		current, _ := limiter.Policy(op)
		next := policies[op]
		if current == next {
			continue
		}
		limiter.SetPolicy(op, next)
		logger.Info("rate limit policy reloaded",
			zap.String("operation", string(op)),
			zap.Int("max", next.Max),
			zap.Duration("window", next.Window),
		)
	}
}

type healthAPIService struct {
	appCtx *AppContext
	ready  atomic.Bool
}

func (s *healthAPIService) Check(ctx context.Context) error {
	if s.appCtx.ResultsDir == "" {
		return fmt.Errorf("results directory not configured")
	}
	return nil
}

func (s *healthAPIService) Ready(ctx context.Context) error {
	if !s.ready.Load() {
		return errors.New("server is not accepting probes")
	}
	return nil
}
