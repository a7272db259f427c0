package gateway

import (
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/hlog"

	"github.com/AlexKimmel/courtgate/internal/auth"
	"github.com/AlexKimmel/courtgate/internal/ratelimit"
	"github.com/AlexKimmel/courtgate/internal/ratelimit/stats"
	"github.com/AlexKimmel/courtgate/internal/routing"
)

// RateLimit admits or rejects requests on routes marked RateLimited.
// Rejected requests get 429 with Retry-After and never reach next.
func RateLimit(
	lim ratelimit.Limiter,
	rec stats.Recorder,
	onLimited func(routeID string, c ratelimit.Class),
) Middleware {
	if rec == nil {
		rec = stats.Nop{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rt, ok := routing.RouteFrom(r)
			if !ok || rt == nil || !rt.RateLimited {
				next.ServeHTTP(w, r)
				return
			}

			// caller key from the resolved principal, client address otherwise
			p, ok := auth.PrincipalFrom(r.Context())
			if !ok || p.Key == "" {
				p = auth.Principal{Key: "ip:" + clientHost(r)}
			}
			class := ratelimit.ClassOf(p.Authenticated)

			now := time.Now()

			// limiter key = routeID:principal (per-route per-caller)
			dec := lim.Check(rt.ID+":"+p.Key, class, now)

			if err := rec.Record(r.Context(), stats.Event{
				Key:     p.Key,
				Class:   class,
				Limited: dec.Limited,
				Route:   rt.ID,
				At:      now,
			}); err != nil {
				hlog.FromRequest(r).Warn().Err(err).Str("route", rt.ID).Msg("rate limit stats")
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(dec.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(max(dec.Remaining, 0)))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(dec.ResetAt.Unix(), 10))

			if dec.Limited {
				if onLimited != nil {
					onLimited(rt.ID, class)
				}
				hlog.FromRequest(r).Debug().
					Str("route", rt.ID).
					Str("class", class.String()).
					Int("retry_after", dec.RetryAfter).
					Msg("rate limited")

				w.Header().Set("Retry-After", strconv.Itoa(dec.RetryAfter))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				_, _ = w.Write([]byte(`{"error":{"code":"rate_limited","message":"Too many requests","retry_after":` +
					strconv.Itoa(dec.RetryAfter) + `}}`))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func clientHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil && host != "" {
		return host
	}
	if r.RemoteAddr != "" {
		return r.RemoteAddr
	}
	return "unknown"
}

// local tiny JSON helper to avoid coupling to auth package
func writeJSON(w http.ResponseWriter, code int, errCode, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write([]byte(`{"error":{"code":"` + errCode + `","message":"` + msg + `"}}`))
}
