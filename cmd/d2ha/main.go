package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/d2ha/d2ha/lib/logger"
	mw "github.com/d2ha/d2ha/lib/middleware"
	"github.com/d2ha/d2ha/lib/providers"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/riandyrn/otelchi"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const mqttRetryInterval = 30 * time.Second

func main() {
	if err := rootCmd().Execute(); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "d2ha",
		Short:         "Publish a Docker host to Home Assistant over MQTT",
		Version:       providers.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context())
		},
	}
	cmd.AddCommand(serveCmd(), syncCmd(), versionCmd())
	return cmd
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the bridge and the ops API until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context())
		},
	}
}

func syncCmd() *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Publish discovery and state once, then exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			return syncOnce(ctx)
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Minute, "Overall deadline")
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), providers.Version)
		},
	}
}

func syncOnce(ctx context.Context) error {
	app, cleanup, err := initializeApp()
	if err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	defer cleanup()
	if app.Config.MQTTBroker == "" {
		return errors.New("MQTT_BROKER is not set")
	}
	ctx = logger.AddToContext(ctx, app.Logger)

	if err := app.MQTTClient.Connect(ctx); err != nil {
		return err
	}
	if err := app.FleetManager.Refresh(ctx); err != nil {
		return fmt.Errorf("refresh fleet: %w", err)
	}
	if err := app.DiscoveryManager.SyncOnce(ctx); err != nil {
		return err
	}
	app.Logger.InfoContext(ctx, "sync complete", "containers", len(app.DiscoveryManager.SlugMap()))
	return nil
}

func serve(parent context.Context) error {
	app, cleanup, err := initializeApp()
	if err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	defer cleanup()

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()
	log := app.Logger
	ctx = logger.AddToContext(ctx, log)
	log.InfoContext(ctx, "starting d2ha", "version", providers.Version, "port", app.Config.Port)

	app.FleetManager.StartRefresher(ctx, app.Config.RefreshInterval())

	grp, gctx := errgroup.WithContext(ctx)
	if app.Config.MQTTBroker != "" {
		grp.Go(func() error {
			runBridge(gctx, app)
			return nil
		})
	} else {
		log.WarnContext(ctx, "MQTT_BROKER is not set, Home Assistant discovery disabled")
	}

	srv := &http.Server{
		Addr:              net.JoinHostPort("", app.Config.Port),
		Handler:           newRouter(app),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return gctx },
	}
	grp.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	grp.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		log.InfoContext(shutdownCtx, "shutting down")
		return srv.Shutdown(shutdownCtx)
	})

	return grp.Wait()
}

// runBridge connects to the broker, retrying until ctx is done, then
// subscribes to commands and publishes periodically.
func runBridge(ctx context.Context, app *application) {
	log := logger.FromContext(ctx)
	for {
		err := app.MQTTClient.Connect(ctx)
		if err == nil {
			break
		}
		log.ErrorContext(ctx, "mqtt connection failed", "error", err, "retry_in", mqttRetryInterval)
		select {
		case <-ctx.Done():
			return
		case <-time.After(mqttRetryInterval):
		}
	}
	if err := app.DiscoveryManager.Subscribe(); err != nil {
		log.ErrorContext(ctx, "failed to subscribe to commands", "error", err)
	}
	app.DiscoveryManager.PeriodicPublisher(ctx)
}

func newRouter(app *application) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(otelchi.Middleware("d2ha", otelchi.WithChiRoutes(r)))

	accessLog := mw.NewAccessLogger(app.LogConfig, app.Otel.LogHandler("api"))
	r.Use(mw.InjectLogger(accessLog))
	r.Use(mw.AccessLogger(accessLog))
	if meter := app.Otel.Meter("http"); meter != nil {
		httpMetrics, err := mw.NewHTTPMetrics(meter)
		if err != nil {
			app.Logger.Warn("http metrics disabled", "error", err)
		} else {
			r.Use(httpMetrics.Middleware)
		}
	} else {
		r.Use(mw.NoopHTTPMetrics())
	}
	r.Use(mw.VerifyJWT(app.Config.JwtSecret, "/healthz"))

	app.ApiService.Routes(r)
	return r
}
