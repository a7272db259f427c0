package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Server struct {
	Addr           string `yaml:"addr"`
	ReadTimeoutMS  int    `yaml:"read_timeout_ms"`
	WriteTimeoutMS int    `yaml:"write_timeout_ms"`
	IdleTimeoutMS  int    `yaml:"idle_timeout_ms"`
	MaxBodyBytes   int64  `yaml:"max_body_bytes"`
}

type Observability struct {
	LogLevel       string `yaml:"log_level"`       // "debug","info","warn","error"
	PrometheusPath string `yaml:"prometheus_path"` // e.g. "/metrics"
}

const (
	SweepInline     = "inline"
	SweepBackground = "background"
)

// Limits only selects where expired entries are swept; window and per-class
// limits are fixed in ratelimit.DefaultPolicy.
type Limits struct {
	SweepMode string `yaml:"sweep_mode"` // "inline" or "background"
}

type APIKey struct {
	UserID string `yaml:"user_id"`
	Secret string `yaml:"secret"`
}

type Auth struct {
	Header        string   `yaml:"header"`
	SessionHeader string   `yaml:"session_header"`
	SessionCookie string   `yaml:"session_cookie"`
	SecureCookie  bool     `yaml:"secure_cookie"`
	Keys          []APIKey `yaml:"keys"`
}

type Stats struct {
	Enabled   bool   `yaml:"enabled"`
	RedisAddr string `yaml:"redis_addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	Prefix    string `yaml:"prefix"`
	TTLMS     int    `yaml:"ttl_ms"`
	TrackKeys bool   `yaml:"track_keys"`
}

type Routes struct {
	ID    string `yaml:"id"`
	Match struct {
		PathPrefix string   `yaml:"path_prefix"`
		Methods    []string `yaml:"methods"`
	} `yaml:"match"`

	Upstream struct {
		URL       string `yaml:"url"`
		TimeoutMS int    `yaml:"timeout_ms"`
	} `yaml:"upstream"`

	RateLimited bool `yaml:"rate_limited"`
}

type Root struct {
	Server        Server        `yaml:"server"`
	Observability Observability `yaml:"observability"`
	Auth          Auth          `yaml:"auth"`
	Limits        Limits        `yaml:"limits"`
	Stats         Stats         `yaml:"stats"`
	Routes        []Routes      `yaml:"routes"`
}

func (s Server) ReadTimeout() time.Duration {
	if s.ReadTimeoutMS == 0 {
		return 5 * time.Second
	}
	return time.Duration(s.ReadTimeoutMS) * time.Millisecond
}

func (s Server) WriteTimeout() time.Duration {
	if s.WriteTimeoutMS == 0 {
		return 30 * time.Second
	}
	return time.Duration(s.WriteTimeoutMS) * time.Millisecond
}

func (s Server) IdleTimeout() time.Duration {
	if s.IdleTimeoutMS == 0 {
		return 60 * time.Second
	}
	return time.Duration(s.IdleTimeoutMS) * time.Millisecond
}

func (s Server) MaxBody() int64 {
	if s.MaxBodyBytes == 0 {
		return 1 << 20
	}
	return s.MaxBodyBytes
} // default 1MB

func (s Stats) TTL() time.Duration {
	return time.Duration(s.TTLMS) * time.Millisecond
}

func (r Routes) Timeout() time.Duration {
	return time.Duration(r.Upstream.TimeoutMS) * time.Millisecond
}

// Load reads the file, expands ${VAR} references from the environment and
// parses the result.
func Load(path string) (*Root, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse([]byte(os.ExpandEnv(string(b))))
}

// Parse decodes YAML and applies defaults. It does not validate.
func Parse(b []byte) (*Root, error) {
	var cfg Root
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	for i := range cfg.Routes {
		if cfg.Routes[i].Upstream.TimeoutMS <= 0 {
			cfg.Routes[i].Upstream.TimeoutMS = 30000
		}
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.Observability.LogLevel == "" {
		cfg.Observability.LogLevel = "info"
	}
	if cfg.Observability.PrometheusPath == "" {
		cfg.Observability.PrometheusPath = "/metrics"
	}
	if cfg.Auth.Header == "" {
		cfg.Auth.Header = "Authorization"
	}
	if cfg.Auth.SessionHeader == "" {
		cfg.Auth.SessionHeader = "X-Session-ID"
	}
	if cfg.Auth.SessionCookie == "" {
		cfg.Auth.SessionCookie = "cg_session"
	}
	if cfg.Limits.SweepMode == "" {
		cfg.Limits.SweepMode = SweepInline
	}
	if cfg.Stats.RedisAddr == "" {
		cfg.Stats.RedisAddr = "localhost:6379"
	}
	if cfg.Stats.Prefix == "" {
		cfg.Stats.Prefix = "courtgate:ratelimit"
	}
	if cfg.Stats.TTLMS <= 0 {
		cfg.Stats.TTLMS = int((24 * time.Hour).Milliseconds())
	}

	return &cfg, nil
}

// Validate reports every problem found, joined.
func (c *Root) Validate() error {
	var errs []error

	switch c.Limits.SweepMode {
	case SweepInline, SweepBackground:
	default:
		errs = append(errs, fmt.Errorf("limits.sweep_mode: unknown mode %q", c.Limits.SweepMode))
	}

	seen := map[string]struct{}{}
	for i, k := range c.Auth.Keys {
		if k.UserID == "" || k.Secret == "" {
			errs = append(errs, fmt.Errorf("auth.keys[%d]: user_id and secret are required", i))
			continue
		}
		if _, dup := seen[k.Secret]; dup {
			errs = append(errs, fmt.Errorf("auth.keys[%d]: duplicate secret", i))
		}
		seen[k.Secret] = struct{}{}
	}

	if len(c.Routes) == 0 {
		errs = append(errs, errors.New("routes: at least one route is required"))
	}
	ids := map[string]struct{}{}
	for i, rt := range c.Routes {
		if strings.TrimSpace(rt.ID) == "" {
			errs = append(errs, fmt.Errorf("routes[%d]: id is required", i))
		} else if _, dup := ids[rt.ID]; dup {
			errs = append(errs, fmt.Errorf("routes[%d]: duplicate id %q", i, rt.ID))
		}
		ids[rt.ID] = struct{}{}

		u, err := url.Parse(rt.Upstream.URL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("routes[%d]: upstream.url %q must be an absolute URL", i, rt.Upstream.URL))
		}
	}

	return errors.Join(errs...)
}

// Secrets maps API key secrets to user ids.
func (a Auth) Secrets() map[string]string {
	pairs := make(map[string]string, len(a.Keys))
	for _, k := range a.Keys {
		if k.Secret != "" && k.UserID != "" {
			pairs[k.Secret] = k.UserID
		}
	}
	return pairs
}
