package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

type ctxKey int

const keyPrincipal ctxKey = 0

// Principal identifies the caller for rate limiting.
// Key is "user:<id>" for members and "anon:<session>" for visitors.
type Principal struct {
	Key           string
	UserID        string
	SessionID     string
	Authenticated bool
}

// Store is a static in-memory credential store: secret -> userID
type Store struct {
	header        string
	sessionHeader string
	cookie        string
	secureCookie  bool
	bySecret      map[string]string
}

type Options struct {
	Header        string // credential header, "Authorization" accepts "Bearer <secret>"
	SessionHeader string // anonymous session id header
	SessionCookie string // anonymous session cookie name
	SecureCookie  bool
}

// NewStatic creates a new static credential store.
// pairs: map of secret -> userID
func NewStatic(opts Options, pairs map[string]string) *Store {
	s := &Store{
		header:        opts.Header,
		sessionHeader: opts.SessionHeader,
		cookie:        opts.SessionCookie,
		secureCookie:  opts.SecureCookie,
		bySecret:      pairs,
	}
	if s.header == "" {
		s.header = "Authorization"
	}
	if s.sessionHeader == "" {
		s.sessionHeader = "X-Session-ID"
	}
	if s.cookie == "" {
		s.cookie = "cg_session"
	}
	return s
}

func (s *Store) userIDFor(secret string) (string, bool) {
	id, ok := s.bySecret[secret]
	return id, ok
}

// WithPrincipal injects the principal into context.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, keyPrincipal, p)
}

// PrincipalFrom extracts the principal from context (if present).
func PrincipalFrom(ctx context.Context) (Principal, bool) {
	v := ctx.Value(keyPrincipal)
	if v == nil {
		return Principal{}, false
	}
	p, ok := v.(Principal)
	return p, ok
}

func (s *Store) credential(r *http.Request) string {
	v := strings.TrimSpace(r.Header.Get(s.header))
	if strings.EqualFold(s.header, "Authorization") {
		scheme, token, ok := strings.Cut(v, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") {
			return v
		}
		return strings.TrimSpace(token)
	}
	return v
}

// sessionID returns the caller supplied anonymous session id, header first.
func (s *Store) sessionID(r *http.Request) string {
	if v := strings.TrimSpace(r.Header.Get(s.sessionHeader)); v != "" {
		return v
	}
	if c, err := r.Cookie(s.cookie); err == nil {
		return strings.TrimSpace(c.Value)
	}
	return ""
}

// Middleware resolves the caller principal and writes JSON errors on failure.
// Requests without credentials continue as anonymous; a session cookie is
// issued when the caller has none. It skips any path in skipPaths.
func (s *Store) Middleware(skipPaths map[string]struct{}) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := skipPaths[r.URL.Path]; ok {
				next.ServeHTTP(w, r)
				return
			}

			var p Principal
			if secret := s.credential(r); secret != "" {
				id, ok := s.userIDFor(secret)
				if !ok {
					writeJSON(w, http.StatusUnauthorized, "invalid_api_key", "API key not recognized")
					return
				}
				p = Principal{Key: "user:" + id, UserID: id, Authenticated: true}
			} else {
				sid := s.sessionID(r)
				if sid == "" {
					sid = uuid.NewString()
					http.SetCookie(w, &http.Cookie{
						Name:     s.cookie,
						Value:    sid,
						Path:     "/",
						HttpOnly: true,
						Secure:   s.secureCookie,
						SameSite: http.SameSiteLaxMode,
					})
				}
				p = Principal{Key: "anon:" + sid, SessionID: sid}
			}

			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
		})
	}
}

func writeJSON(w http.ResponseWriter, code int, errCode, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write([]byte(`{"error":{"code":"` + errCode + `","message":"` + msg + `"}}`))
}
