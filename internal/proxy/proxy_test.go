package proxy

import (
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AlexKimmel/courtgate/internal/auth"
	"github.com/AlexKimmel/courtgate/internal/routing"
)

func routed(r *http.Request, rt *routing.Route, p *auth.Principal) *http.Request {
	r = routing.WithRoute(r, rt)
	if p != nil {
		r = r.WithContext(auth.WithPrincipal(r.Context(), *p))
	}
	return r
}

func TestHandler_ForwardsToUpstream(t *testing.T) {
	var gotPath, gotUser, gotSession, gotBody string
	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotUser = r.Header.Get(HeaderUserID)
		gotSession = r.Header.Get(HeaderSessionID)
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		_, _ = io.WriteString(w, `{"reply":"Courts open at 8."}`)
	}))
	defer up.Close()

	u, err := url.Parse(up.URL)
	require.NoError(t, err)
	rt := &routing.Route{ID: "assistant", Prefix: "/api/assistant", UpURL: u, Timeout: time.Second}

	r := httptest.NewRequest(http.MethodPost, "/api/assistant", strings.NewReader(`{"message":"hours?"}`))
	r.Header.Set(HeaderUserID, "spoofed")
	r = routed(r, rt, &auth.Principal{Key: "user:42", UserID: "42", Authenticated: true})
	w := httptest.NewRecorder()

	Handler(NewHTTPTransport()).ServeHTTP(w, r)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, `{"reply":"Courts open at 8."}`, w.Body.String())
	assert.Equal(t, "/api/assistant", gotPath)
	assert.Equal(t, "42", gotUser)
	assert.Empty(t, gotSession)
	assert.Equal(t, `{"message":"hours?"}`, gotBody)
}

func TestHandler_AnonymousSessionForwarded(t *testing.T) {
	var gotUser, gotSession string
	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser = r.Header.Get(HeaderUserID)
		gotSession = r.Header.Get(HeaderSessionID)
	}))
	defer up.Close()

	u, _ := url.Parse(up.URL)
	r := httptest.NewRequest(http.MethodPost, "/api/assistant", nil)
	r.Header.Set(HeaderUserID, "spoofed")
	r = routed(r, &routing.Route{ID: "assistant", UpURL: u}, &auth.Principal{Key: "anon:s1", SessionID: "s1"})

	Handler(NewHTTPTransport()).ServeHTTP(httptest.NewRecorder(), r)

	assert.Empty(t, gotUser)
	assert.Equal(t, "s1", gotSession)
}

func TestHandler_UpstreamTimeout(t *testing.T) {
	release := make(chan struct{})
	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer up.Close()
	defer close(release)

	u, _ := url.Parse(up.URL)
	rt := &routing.Route{ID: "assistant", UpURL: u, Timeout: 20 * time.Millisecond}
	w := httptest.NewRecorder()

	Handler(NewHTTPTransport()).ServeHTTP(w, routed(httptest.NewRequest(http.MethodPost, "/api/assistant", nil), rt, nil))

	assert.Equal(t, http.StatusGatewayTimeout, w.Code)
	assert.Contains(t, w.Body.String(), "upstream_timeout")
}

func TestHandler_UpstreamDown(t *testing.T) {
	up := httptest.NewServer(http.NotFoundHandler())
	u, _ := url.Parse(up.URL)
	up.Close()

	w := httptest.NewRecorder()
	rt := &routing.Route{ID: "assistant", UpURL: u}
	Handler(NewHTTPTransport()).ServeHTTP(w, routed(httptest.NewRequest(http.MethodPost, "/api/assistant", nil), rt, nil))

	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Contains(t, w.Body.String(), "upstream_error")
}

func TestHandler_NoRoute(t *testing.T) {
	w := httptest.NewRecorder()
	Handler(NewHTTPTransport()).ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/x", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}
