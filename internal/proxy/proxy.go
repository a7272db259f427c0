package proxy

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httputil"
	"time"

	"github.com/rs/zerolog/hlog"

	"github.com/AlexKimmel/courtgate/internal/auth"
	"github.com/AlexKimmel/courtgate/internal/routing"
)

// Headers the upstream can trust; any client supplied values are dropped.
const (
	HeaderUserID    = "X-Courtgate-User"
	HeaderSessionID = "X-Courtgate-Session"
)

func NewHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 60 * time.Second}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          200,
		MaxIdleConnsPerHost:   100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}

// Handler returns a handler that proxies to the upstream specified by the matched route.
func Handler(tr http.RoundTripper) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rt, ok := routing.RouteFrom(r)
		if !ok || rt.UpURL == nil {
			writeJSON(w, http.StatusInternalServerError, "no_route_ctx", "route not in context")
			return
		}

		proxy := &httputil.ReverseProxy{
			Rewrite: func(pr *httputil.ProxyRequest) {
				pr.SetURL(rt.UpURL)
				pr.SetXForwarded()
				pr.Out.Host = rt.UpURL.Host

				pr.Out.Header.Del(HeaderUserID)
				pr.Out.Header.Del(HeaderSessionID)
				if p, ok := auth.PrincipalFrom(pr.In.Context()); ok {
					if p.Authenticated {
						pr.Out.Header.Set(HeaderUserID, p.UserID)
					} else if p.SessionID != "" {
						pr.Out.Header.Set(HeaderSessionID, p.SessionID)
					}
				}
			},
			Transport: tr,
			ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
				code, errCode := http.StatusBadGateway, "upstream_error"
				if errors.Is(err, context.DeadlineExceeded) || errors.Is(r.Context().Err(), context.DeadlineExceeded) {
					code, errCode = http.StatusGatewayTimeout, "upstream_timeout"
				}
				hlog.FromRequest(r).Error().Err(err).Str("route", rt.ID).Msg("proxy")
				writeJSON(w, code, errCode, "upstream request failed")
			},
		}

		// per-route timeout
		if rt.Timeout > 0 {
			ctx, cancel := context.WithTimeout(r.Context(), rt.Timeout)
			defer cancel()
			r = r.WithContext(ctx)
		}
		proxy.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, code int, errCode, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write([]byte(`{"error":{"code":"` + errCode + `","message":"` + msg + `"}}`))
}
