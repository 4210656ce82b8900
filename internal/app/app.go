package app

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	activityhandlers "apview/internal/api/handlers/activity"
	"apview/internal/api/handlers/instance"
	mediahandlers "apview/internal/api/handlers/media"
	webfingerhandlers "apview/internal/api/handlers/webfinger"
	"apview/internal/api/middleware"
	"apview/internal/api/routes"
	"apview/internal/config"
	"apview/internal/core/activity"
	"apview/internal/core/breaker"
	"apview/internal/core/cache"
	"apview/internal/core/media"
	"apview/internal/core/netguard"
	"apview/internal/core/signing"
	"apview/internal/core/webfinger"
	"apview/internal/federation"
)

// App is a fully wired apview server.
type App struct {
	Handler http.Handler
	Store   cache.Store
	Signer  *signing.Signer

	closers []func() error
}

// NewSigner builds the media URL signer from cfg, generating a random key
// when no secret is configured.
func NewSigner(cfg *config.Config) (*signing.Signer, error) {
	if cfg.MediaSecret != "" {
		return signing.NewSigner([]byte(cfg.MediaSecret))
	}
	key, err := signing.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("generate media signing key: %w", err)
	}
	slog.Warn("[SIGNING] MEDIA_HMAC_SECRET is not set; using a random key. " +
		"Media URLs signed by this process stop verifying after a restart.")
	return signing.NewSigner(key)
}

// New wires every component described by cfg.
func New(cfg *config.Config, logger *slog.Logger) (*App, error) {
	a := &App{}
	ok := false
	defer func() {
		if !ok {
			_ = a.Close()
		}
	}()

	signer, err := NewSigner(cfg)
	if err != nil {
		return nil, err
	}
	a.Signer = signer

	store, closeStore, err := OpenCache(cfg)
	if err != nil {
		return nil, fmt.Errorf("open cache: %w", err)
	}
	a.Store = store
	a.closers = append(a.closers, closeStore)

	guard := netguard.New(cfg.MaxRedirects)

	hostBreaker := breaker.New(cfg.BreakerThreshold, cfg.BreakerOpenFor)
	fetchOpts := activity.FetcherOptions{
		Timeout:      cfg.ActivityTimeout,
		Guard:        guard,
		MaxRedirects: cfg.MaxRedirects,
		Breaker:      hostBreaker,
	}
	var instanceHandler *instance.Handler
	if cfg.SignedFetch {
		keys, err := federation.LoadOrGenerateKeyPair(cfg.PrivateKeyPath, cfg.PublicKeyPath)
		if err != nil {
			return nil, fmt.Errorf("load instance key: %w", err)
		}
		fetchOpts.Signer = federation.NewRequestSigner(keys, federation.KeyIDFor(cfg.PublicURL))
		instanceHandler, err = instance.NewHandler(federation.InstanceActor(cfg.PublicURL, keys))
		if err != nil {
			return nil, fmt.Errorf("render instance actor: %w", err)
		}
		slog.Info("[FEDERATION] signed fetch enabled", "key_id", federation.KeyIDFor(cfg.PublicURL))
	}
	fetcher := activity.NewHTTPFetcher(fetchOpts)

	activityResolver := activity.NewResolver(fetcher, store, signer,
		activity.WithTTL(cfg.ActivityTTL),
		activity.WithGuard(guard),
	)
	actorResolver := activity.NewResolver(fetcher, store, signer,
		activity.WithTTL(cfg.ActivityTTL),
		activity.WithGuard(guard),
		activity.WithAccept(activity.AcceptWebfinger),
	)
	webfingerResolver := webfinger.NewResolver(fetcher, actorResolver, guard)

	mediaCfg := media.DefaultConfig()
	mediaCfg.TTL = cfg.MediaTTL
	mediaCfg.FetchTimeout = cfg.MediaTimeout
	mediaCfg.Dedup = cfg.FetchDedup
	mediaService, err := media.NewService(signer, guard, store,
		media.NewHTTPFetcher(guard, cfg.MediaTimeout, mediaCfg.MaxMediaBytes).WithBreaker(hostBreaker), mediaCfg)
	if err != nil {
		return nil, fmt.Errorf("create media service: %w", err)
	}

	var limiter *middleware.RateLimiter
	if cfg.RateLimit > 0 {
		limiter = middleware.NewRateLimiter(cfg.RateLimit, time.Minute)
		a.closers = append(a.closers, func() error {
			limiter.Stop()
			return nil
		})
	}

	a.Handler = routes.NewRouter(routes.Handlers{
		Activity:  activityhandlers.NewHandler(activityResolver, cfg.ActivityTTL),
		Webfinger: webfingerhandlers.NewHandler(webfingerResolver, cfg.ActivityTTL),
		Media:     mediahandlers.NewHandler(mediaService),
		Instance:  instanceHandler,
	}, routes.RouterOptions{
		Logger:            logger,
		RateLimiter:       limiter,
		TrustProxyHeaders: cfg.TrustProxy,
	})

	ok = true
	return a, nil
}

// Close releases everything New opened, in reverse order.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
