package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/common-nighthawk/go-figure"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/storefront-labs/authcore/audit"
	"github.com/storefront-labs/authcore/authflow"
	"github.com/storefront-labs/authcore/authstate"
	"github.com/storefront-labs/authcore/identity"
	"github.com/storefront-labs/authcore/internal/config"
	"github.com/storefront-labs/authcore/netmon"
	"github.com/storefront-labs/authcore/offline"
	"github.com/storefront-labs/authcore/recovery"
	"github.com/storefront-labs/authcore/server"
	"github.com/storefront-labs/authcore/sessionsec"
)

func main() {
	log := zerolog.New(os.Stderr).With().Timestamp().Logger()
	if err := run(log); err != nil {
		log.Fatal().Err(err).Msg("server exited")
	}
	log.Info().Msg("server stopped")
}

func run(log zerolog.Logger) (returnError error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("recovered from panic")
			debug.PrintStack()
			returnError = errors.New("panic recovered")
		}
	}()

	cfg, err := config.Load()
	if err != nil {
		return errors.Wrap(err, "load config")
	}
	displayAppname(cfg.AppName)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	srv, err := buildServer(ctx, cfg, log)
	if err != nil {
		return errors.Wrap(err, "build server")
	}

	httpServer := &http.Server{Addr: cfg.Addr(), Handler: srv}
	go func() {
		log.Info().Str("addr", httpServer.Addr).Msg("server listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("listen failed")
		}
	}()

	waitForStopSignal()
	cancel()
	return shutdown(httpServer)
}

// buildServer wires every service explicitly; nothing here is a singleton,
// so tests can assemble the same pieces with fakes.
func buildServer(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*server.Server, error) {
	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			return nil, errors.Wrap(err, "redis ping")
		}
	}

	var stateRepo authstate.Repo
	var sessionRepo sessionsec.Repo
	var queueStore offline.QueueStore
	if redisClient != nil {
		stateRepo = authstate.NewRedisRepo(redisClient)
		sessionRepo = sessionsec.NewRedisRepo(redisClient, cfg.Session.TTL*2)
		queueStore = offline.NewRedisStore(redisClient, cfg.Queue.StorageKey)
	} else {
		log.Warn().Msg("no redis configured, using in-memory stores")
		stateRepo = authstate.NewInMemoryRepo()
		sessionRepo = sessionsec.NewInMemoryRepo()
		queueStore = offline.NewInMemoryStore()
	}

	sink := audit.NewLoggerSink(log.With().Str("component", "audit").Logger())
	engine := recovery.NewEngine(log.With().Str("component", "recovery").Logger(),
		recovery.WithAttemptTTL(cfg.Retry.AttemptTTL))

	issuer, err := sessionsec.NewTokenIssuer(cfg.BaseURL, cfg.Session.SigningSecret, cfg.Session.CookieMaxAge)
	if err != nil {
		return nil, err
	}
	hardening, err := sessionsec.NewHardening(sessionRepo, issuer, sessionsec.HardeningConfig{
		SessionTTL:            cfg.Session.TTL,
		InactivityTimeout:     cfg.Session.InactivityTimeout,
		MaxConcurrentSessions: cfg.Session.MaxConcurrentSessions,
		MaxRiskScore:          cfg.Session.MaxRiskScore,
	}, log.With().Str("component", "sessionsec").Logger(), sessionsec.WithAuditSink(sink))
	if err != nil {
		return nil, err
	}

	// The backing identity store is an external collaborator; the
	// in-memory repo stands in for it until the data backend is attached.
	userRepo := identity.UserRepo(identity.NewInMemoryUserRepo())
	resolver, err := identity.NewResolver(userRepo, log.With().Str("component", "identity").Logger())
	if err != nil {
		return nil, err
	}

	provider, err := authflow.NewOIDCProvider(ctx,
		cfg.Provider.IssuerURL,
		cfg.Provider.ClientID,
		cfg.Provider.ClientSecret,
		cfg.BaseURL+cfg.Provider.RedirectPath,
	)
	if err != nil {
		return nil, errors.Wrap(err, "provider discovery")
	}

	callbacks, err := authflow.NewCallbackService(authflow.Deps{
		States:    stateRepo,
		Provider:  provider,
		Resolver:  resolver,
		Users:     userRepo,
		Hardening: hardening,
		Engine:    engine,
	}, log.With().Str("component", "authflow").Logger(), authflow.WithAuditSink(sink))
	if err != nil {
		return nil, err
	}

	monitor := netmon.NewMonitor(
		netmon.NewHTTPProbeSource(cfg.Provider.IssuerURL),
		log.With().Str("component", "netmon").Logger(),
		netmon.WithProbeInterval(cfg.Queue.ProbeInterval),
	)
	queue, err := offline.NewQueue(queueStore, replayHandler(engine, log), log.With().Str("component", "offline").Logger(),
		offline.WithMaxAttempts(cfg.Queue.MaxReplayAttempts))
	if err != nil {
		return nil, err
	}
	queue.AttachMonitor(ctx, monitor)
	go monitor.Run(ctx)

	return server.New(cfg, callbacks, hardening, log.With().Str("component", "server").Logger())
}

// replayHandler routes deferred actions back into the same operations the
// online path uses, with the recovery engine absorbing transient failures.
func replayHandler(engine *recovery.Engine, log zerolog.Logger) offline.Handler {
	return func(ctx context.Context, action offline.Action) error {
		_, err := recovery.ExecuteWithRetry(ctx, engine, "offline-replay:"+action.ID,
			func(ctx context.Context) (struct{}, error) {
				// Replay targets arrive with the data backend
				// integration; until then a replayed action only
				// exercises the retry path.
				log.Info().Str("action_id", action.ID).Str("type", string(action.Type)).Msg("replaying action")
				return struct{}{}, nil
			}, nil)
		return err
	}
}

func waitForStopSignal() {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
}

func shutdown(server *http.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return errors.Wrap(err, "server.Shutdown")
	}
	return nil
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}
