// internal/app/server.go
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"condo-session/internal/analytics"
	"condo-session/internal/config"
	"condo-session/internal/db"
	deeplinkHandler "condo-session/internal/handlers/deeplink"
	deviceHandler "condo-session/internal/handlers/device"
	notifyHandler "condo-session/internal/handlers/notification"
	sessionHandler "condo-session/internal/handlers/session"
	"condo-session/internal/identity"
	"condo-session/internal/middleware"
	"condo-session/internal/network"
	"condo-session/internal/offlinequeue"
	"condo-session/internal/pkg/clock"
	"condo-session/internal/repository/postgres"
	"condo-session/internal/service/deeplink"
	notifyService "condo-session/internal/service/notification"
	"condo-session/internal/service/profile"
	"condo-session/internal/service/push"
	"condo-session/internal/service/session"
	"condo-session/internal/storage"
	"condo-session/internal/tokenstore"
	"condo-session/internal/websocket"
	wsHandlers "condo-session/internal/websocket/handler"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type Server struct {
	cfg    config.AppConfig
	engine *gin.Engine
	logger *zap.Logger
}

func NewServer(cfg config.AppConfig, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if !cfg.LogDev {
		gin.SetMode(gin.ReleaseMode)
	}
	return &Server{cfg: cfg, engine: gin.New(), logger: logger}
}

// Start builds the agent, serves the local API and blocks until ctx ends.
func (s *Server) Start(ctx context.Context) error {
	logger := s.logger
	clk := clock.Real()

	// ----- Storage tiers -----
	if err := os.MkdirAll(s.cfg.DataDir, 0o700); err != nil {
		return fmt.Errorf("failed to create data dir: %w", err)
	}
	secureFile, err := storage.OpenFileKV(s.cfg.SecureStorePath())
	if err != nil {
		return err
	}
	secure, err := storage.NewSealedKV(secureFile, []byte(s.cfg.StorageSecret), s.cfg.StorageSalt, storage.DefaultSealedEntryLimit)
	if err != nil {
		return err
	}

	var redisClient redis.UniversalClient
	var fallback storage.KV
	if s.cfg.Redis.Enabled() {
		redisClient, err = db.NewRedisClient(ctx, s.cfg.Redis)
		if err != nil {
			return err
		}
		defer redisClient.Close()
		fallback = storage.NewRedisKV(redisClient, s.cfg.RedisPrefix)
		logger.Info("using redis fallback storage tier",
			zap.Strings("addrs", s.cfg.Redis.Addresses),
			zap.Bool("cluster", s.cfg.Redis.ClusterMode),
		)
	} else {
		fallback, err = storage.OpenFileKV(s.cfg.FallbackStorePath())
		if err != nil {
			return err
		}
	}
	tokens := tokenstore.New(secure, fallback,
		tokenstore.WithClock(clk),
		tokenstore.WithLogger(logger.Named("tokenstore")),
		tokenstore.WithSaveDebounce(s.cfg.TokenSaveDebounce),
	)

	// ----- PostgreSQL -----
	pool, err := db.ConnectDB(ctx, s.cfg.Postgres)
	if err != nil {
		return err
	}
	defer pool.Close()
	profileRepo := postgres.NewProfileRepository(pool)

	// ----- Analytics -----
	sinks := []analytics.Sink{analytics.NewLogSink(logger.Named("analytics"))}
	metricsSink, err := analytics.NewMetricsSink(prometheus.DefaultRegisterer)
	if err != nil {
		return err
	}
	sinks = append(sinks, metricsSink)
	if redisClient != nil && s.cfg.AnalyticsStream != "" {
		sinks = append(sinks, analytics.NewStreamSink(redisClient, s.cfg.AnalyticsStream, 10000))
	}
	recorder := analytics.NewRecorder(s.cfg.AnalyticsBuffer, clk, logger.Named("analytics"), sinks...)

	// ----- Connectivity -----
	observer := network.NewObserver(clk, s.cfg.NetworkDebounce, logger.Named("network"))
	defer observer.Close()

	// ----- Session -----
	provider := identity.NewOAuthProvider(s.cfg.OAuth, tokens, logger.Named("identity"))
	resolver := profile.NewResolver(profileRepo, tokens,
		profile.WithClock(clk),
		profile.WithLogger(logger.Named("profile")),
		profile.WithCooldown(s.cfg.ProfileCooldown),
		profile.WithLastSeenInterval(s.cfg.LastSeenInterval),
	)
	queue := offlinequeue.New(fallback, clk, logger.Named("queue"))
	manager := session.NewManager(session.Deps{
		Provider: provider,
		Tokens:   tokens,
		Profiles: resolver,
		Network:  observer,
		Queue:    queue,
		Writer:   profileRepo,
		Notifier: session.LogNotifier{Logger: logger.Named("session")},
		Tracker:  recorder,
		Clock:    clk,
		Logger:   logger.Named("session"),
	}, s.cfg.Session)
	defer manager.Close()

	registrar := push.NewRegistrar(push.StaticTokenSource(s.cfg.DevicePushToken), manager, logger.Named("push"))
	if s.cfg.DevicePushToken != "" {
		manager.SetPushRegistrar(registrar)
	}

	// ----- Inbox & deep links -----
	inbox := notifyService.NewInboxService(fallback, clk, logger.Named("inbox"))
	dispatcher := deeplink.NewDispatcher(s.cfg.DeepLinkSchemes, manager,
		deeplink.WithClock(clk),
		deeplink.WithLogger(logger.Named("deeplink")),
		deeplink.WithTracker(recorder),
	)
	registerDeepLinkRoutes(dispatcher, inbox, logger.Named("deeplink"))
	queue.Handle(offlinequeue.TypeNotificationReceived, inbox.HandleQueued)
	queue.Handle(offlinequeue.TypeDeepLink, dispatcher.HandleQueued)
	clearInboxOnSignOut(ctx, manager, inbox, logger)

	// ----- Background workers -----
	var wg sync.WaitGroup
	run := func(fn func(context.Context)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn(ctx)
		}()
	}
	defer wg.Wait()

	run(recorder.Run)
	defer recorder.Close()
	run(dispatcher.Run)
	if s.cfg.DevicePushToken != "" {
		run(registrar.Run)
	}
	if s.cfg.HealthURL != "" {
		prober := network.NewProber(s.cfg.HealthURL, s.cfg.ProbeInterval, logger.Named("prober"))
		run(func(ctx context.Context) { prober.Run(ctx, observer) })
	}
	if s.cfg.Realtime.URL != "" {
		rt := websocket.NewClient(s.cfg.Realtime, manager, logger.Named("realtime"))
		rt.RegisterHandler(wsHandlers.NewNotificationHandler(inbox, queue, manager, logger.Named("realtime")))
		rt.RegisterHandler(wsHandlers.NewDeepLinkHandler(dispatcher, queue, manager))
		rt.RegisterHandler(wsHandlers.NewSessionHandler(manager, logger.Named("realtime")))
		run(rt.Run)
	}
	run(manager.Start)

	// ----- Local API -----
	authMiddleware := middleware.NewAuthMiddleware(manager)
	s.engine.Use(
		middleware.RecoveryMiddleware(logger),
		middleware.LoggingMiddleware(logger.Named("http")),
	)
	SetupRouter(s.engine, &Handlers{
		SessionHandler:  sessionHandler.NewSessionHandler(manager, logger.Named("http")),
		DeviceHandler:   deviceHandler.NewDeviceHandler(manager, observer, queue),
		NotifHandler:    notifyHandler.NewNotificationHandler(inbox),
		DeepLinkHandler: deeplinkHandler.NewDeepLinkHandler(dispatcher, queue, manager),
		AuthMiddleware:  authMiddleware,
		Metrics:         promhttp.Handler(),
	})

	return s.serve(ctx)
}

func (s *Server) serve(ctx context.Context) error {
	httpSrv := &http.Server{
		Addr:              s.cfg.HTTPAddr,
		Handler:           s.engine,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("local api listening", zap.String("addr", s.cfg.HTTPAddr))
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("local api failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("local api shutdown: %w", err)
	}
	return nil
}

// clearInboxOnSignOut empties the inbox when a signed-in user goes away.
func clearInboxOnSignOut(ctx context.Context, manager *session.Manager, inbox *notifyService.InboxService, logger *zap.Logger) {
	var hadUser atomic.Bool
	unsubscribe := manager.Subscribe(func(st session.State) {
		if st.User != nil {
			hadUser.Store(true)
			return
		}
		if hadUser.Swap(false) {
			if err := inbox.Clear(context.WithoutCancel(ctx)); err != nil {
				logger.Warn("failed to clear inbox after sign out", zap.Error(err))
			}
		}
	})
	go func() {
		<-ctx.Done()
		unsubscribe()
	}()
}
