package main

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/AlexKimmel/courtgate/internal/auth"
	"github.com/AlexKimmel/courtgate/internal/config"
	"github.com/AlexKimmel/courtgate/internal/gateway"
	"github.com/AlexKimmel/courtgate/internal/obs"
	"github.com/AlexKimmel/courtgate/internal/proxy"
	"github.com/AlexKimmel/courtgate/internal/ratelimit"
	"github.com/AlexKimmel/courtgate/internal/ratelimit/stats"
	"github.com/AlexKimmel/courtgate/internal/routing"
)

func buildRouter(routes []config.Routes) (*routing.Router, error) {
	rr := routing.New()
	for _, r := range routes {
		u, err := url.Parse(r.Upstream.URL)
		if err != nil {
			return nil, fmt.Errorf("route %s: %w", r.ID, err)
		}
		methods := make(map[string]struct{}, len(r.Match.Methods))
		for _, m := range r.Match.Methods {
			methods[strings.ToUpper(m)] = struct{}{}
		}
		rr.Add(&routing.Route{
			ID:          r.ID,
			Methods:     methods,
			Prefix:      r.Match.PathPrefix,
			UpURL:       u,
			Timeout:     r.Timeout(),
			RateLimited: r.RateLimited,
		})
	}
	return rr, nil
}

// newHandler wires ops endpoints and the gateway chain in front of the
// upstream proxy.
func newHandler(
	cfg *config.Root,
	logger zerolog.Logger,
	gatherer prometheus.Gatherer,
	metrics *obs.Metrics,
	lim ratelimit.Limiter,
	rec stats.Recorder,
) (http.Handler, error) {
	rr, err := buildRouter(cfg.Routes)
	if err != nil {
		return nil, err
	}

	authStore := auth.NewStatic(auth.Options{
		Header:        cfg.Auth.Header,
		SessionHeader: cfg.Auth.SessionHeader,
		SessionCookie: cfg.Auth.SessionCookie,
		SecureCookie:  cfg.Auth.SecureCookie,
	}, cfg.Auth.Secrets())

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(obs.Logger(logger))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	})
	r.Get("/version", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(version))
	})
	r.Method(http.MethodGet, cfg.Observability.PrometheusPath, obs.Handler(gatherer))

	r.Handle("/*", gateway.Chain(
		proxy.Handler(proxy.NewHTTPTransport()),
		metrics.Middleware(nil),
		gateway.BodyLimit(int(cfg.Server.MaxBody())),
		gateway.RouteMatcher(rr, nil),
		obs.CaptureRoute(),
		authStore.Middleware(nil),
		gateway.RateLimit(lim, rec, metrics.OnLimited),
	))

	return r, nil
}
