package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/xregistry/xrbridge/internal/api/common"
	"github.com/xregistry/xrbridge/internal/bridge"
	"github.com/xregistry/xrbridge/internal/cache"
	"github.com/xregistry/xrbridge/internal/config"
	"github.com/xregistry/xrbridge/internal/facade"
	"github.com/xregistry/xrbridge/internal/logger"
	"github.com/xregistry/xrbridge/internal/rewrite"
	"github.com/xregistry/xrbridge/internal/telemetry"
	"github.com/xregistry/xrbridge/internal/upstream"
	"github.com/xregistry/xrbridge/internal/upstream/maven"
	"github.com/xregistry/xrbridge/internal/upstream/mcp"
	"github.com/xregistry/xrbridge/internal/upstream/npm"
	"github.com/xregistry/xrbridge/internal/upstream/oci"
	"github.com/xregistry/xrbridge/internal/upstream/pypi"
)

const (
	gracefulTimeout    = 30 * time.Second
	serverReadTimeout  = 10 * time.Second
	serverWriteTimeout = 60 * time.Second
	serverIdleTimeout  = 60 * time.Second
)

func newServeCmd() *cobra.Command {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the bridge and facade servers",
		Long: `Start the bridge server plus one HTTP server per enabled facade.
Configuration comes from the optional YAML file plus the documented
environment variables (PORT, HOST, API_PATH_PREFIX, XREGISTRY_<SVC>_*).`,
		RunE: runServe,
	}

	serveCmd.Flags().String("config", "", "Path to configuration file (YAML format)")
	if err := viper.BindPFlag("config", serveCmd.Flags().Lookup("config")); err != nil {
		logger.Fatalf("Failed to bind config flag: %v", err)
	}
	return serveCmd
}

// facadeStack is one assembled facade plus its serving metadata.
type facadeStack struct {
	cfg     config.FacadeConfig
	facade  *facade.Facade
	client  *upstream.Client
	handler http.Handler
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(viper.GetString("config"))
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger.Initialize(cfg.Quiet)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tp, shutdownTracing, err := telemetry.Setup(ctx, cfg.OTLPEndpoint)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.Warnf("Tracing shutdown failed: %v", err)
		}
	}()

	metrics := telemetry.NewMetrics()

	stacks, err := buildFacades(ctx, cfg, metrics, tp)
	if err != nil {
		return err
	}

	servers := make([]*http.Server, 0, len(stacks)+1)
	g, gctx := errgroup.WithContext(ctx)

	// One server per facade on its own port.
	for _, st := range stacks {
		handler := rewrite.Middleware(st.cfg.UpstreamURL, cfg.APIPathPrefix)(st.handler)
		srv := &http.Server{
			Addr:         fmt.Sprintf("%s:%d", cfg.Host, st.cfg.Port),
			Handler:      handler,
			ReadTimeout:  serverReadTimeout,
			WriteTimeout: serverWriteTimeout,
			IdleTimeout:  serverIdleTimeout,
		}
		servers = append(servers, srv)
		g.Go(func() error {
			logger.Infof("%s facade listening on %s", st.cfg.Type, srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("%s facade server: %w", st.cfg.Type, err)
			}
			return nil
		})
	}

	// The bridge on the front port, with the metrics endpoint alongside.
	mounts := make([]bridge.Mount, 0, len(stacks))
	for _, st := range stacks {
		mounts = append(mounts, bridge.Mount{
			GroupPlural:    st.cfg.GroupPlural,
			UpstreamOrigin: st.cfg.UpstreamURL,
			Handler:        st.handler,
		})
	}
	br := bridge.New(cfg, mounts)

	root := chi.NewRouter()
	root.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer)
	root.Use(common.CORSMiddleware, common.TracingMiddleware)
	root.Handle("/metrics", metrics.Handler())
	root.Mount("/", br)

	bridgeSrv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      root,
		ReadTimeout:  serverReadTimeout,
		WriteTimeout: serverWriteTimeout,
		IdleTimeout:  serverIdleTimeout,
	}
	servers = append(servers, bridgeSrv)
	g.Go(func() error {
		logger.Infof("bridge listening on %s", bridgeSrv.Addr)
		if err := bridgeSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("bridge server: %w", err)
		}
		return nil
	})

	// Shut every server down when the context ends, whether from a signal
	// or a bind failure.
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down servers...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), gracefulTimeout)
		defer cancel()
		for _, srv := range servers {
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Errorf("Server forced to shutdown: %v", err)
			}
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("Server shutdown complete")
	return nil
}

// buildFacades assembles cache, client, adapter, facade, and middleware
// chain for every enabled ecosystem. Each facade gets a disjoint cache
// directory.
func buildFacades(
	ctx context.Context,
	cfg *config.Config,
	metrics *telemetry.Metrics,
	tp trace.TracerProvider,
) ([]*facadeStack, error) {
	stacks := make([]*facadeStack, 0, len(cfg.Facades))
	for _, fc := range cfg.Facades {
		disk, err := cache.NewDiskTier(fc.CacheDir)
		if err != nil {
			return nil, fmt.Errorf("failed to create cache dir for %s: %w", fc.Type, err)
		}
		mgr, err := cache.NewManager(cfg.MaxCacheSize, disk)
		if err != nil {
			return nil, fmt.Errorf("failed to create cache for %s: %w", fc.Type, err)
		}
		client := upstream.NewClient(mgr, cfg.UpstreamTimeout, cfg.UpstreamConcurrency)

		eco, err := newEcosystem(fc, client)
		if err != nil {
			return nil, err
		}

		f, err := facade.New(fc, facade.Options{
			Ecosystem:          eco,
			Client:             client,
			PathPrefix:         cfg.APIPathPrefix,
			FilterDeadline:     cfg.FilterDeadline,
			MaxMetadataFetches: cfg.MaxMetadataFetches,
			Concurrency:        cfg.UpstreamConcurrency,
			FilterCacheSize:    cfg.FilterCacheSize,
			FilterCacheAge:     cfg.FilterCacheAge,
			SnapshotDir:        fc.CacheDir + "/index",
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create %s facade: %w", fc.Type, err)
		}
		f.Start(ctx)

		metrics.RegisterCacheStats(string(fc.Type), client.Stats)

		// The middleware chain matches the bridge's: the rewrite layer is
		// applied by whichever server fronts this handler.
		r := chi.NewRouter()
		r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer)
		r.Use(common.CORSMiddleware, common.TracingMiddleware)
		r.Use(telemetry.Middleware(tp, string(fc.Type), fc.GroupPlural, fc.UpstreamURL))
		r.Use(metrics.Middleware(string(fc.Type)))
		r.Use(common.AuthMiddleware(fc.APIKey))
		r.Mount("/", f.Router())

		stacks = append(stacks, &facadeStack{
			cfg:     fc,
			facade:  f,
			client:  client,
			handler: r,
		})
	}
	return stacks, nil
}

// newEcosystem picks the adapter for a facade type.
func newEcosystem(fc config.FacadeConfig, client *upstream.Client) (facade.Ecosystem, error) {
	switch fc.Type {
	case config.FacadeNPM:
		return npm.New(client, fc.UpstreamURL), nil
	case config.FacadePyPI:
		return pypi.New(client, fc.UpstreamURL), nil
	case config.FacadeMaven:
		return maven.New(client, fc.UpstreamURL), nil
	case config.FacadeOCI:
		return oci.New(client, fc.UpstreamURL), nil
	case config.FacadeMCP:
		return mcp.New(client, fc.UpstreamURL), nil
	default:
		return nil, fmt.Errorf("unknown facade type: %q", fc.Type)
	}
}
