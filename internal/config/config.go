package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"verichat/internal/common"
)

// DefaultAllowedOrigins mirrors the origins the web client is deployed on.
// Entries of the form scheme://*.suffix match any subdomain of suffix.
var DefaultAllowedOrigins = []string{
	"http://localhost:3000",
	"https://localhost:3000",
	"https://verichat-1.vercel.app",
	"https://*.vercel.app",
}

// Config configures the assertion backend (cmd/server).
type Config struct {
	Port               int
	GinMode            string
	TLSCertFile        string
	TLSKeyFile         string
	PartnerID          string
	PrivateKeyFile     string
	PublicKeyFile      string
	AllowedOrigins     []string
	AssertionRateLimit int
	KeyCacheTTL        time.Duration
	LogEnv             string
	LogLevel           string
}

// AgentConfig configures the client session agent (cmd/agent).
type AgentConfig struct {
	Port        int
	PartnerID   string
	BackendURL  string
	IssuerID    string
	IdentityURL string
	AppName     string
	AppURL      string
	// AllowedOrigins gates browser access to the agent API and websocket.
	AllowedOrigins []string
	PrefsDriver    string
	PrefsFile      string
	RedisAddr      string
	RedisDB        int
	HTTPTimeout    time.Duration
	LogEnv         string
	LogLevel       string
}

type Env interface {
	Getenv(key string) string
}

type osEnv struct{}

func (osEnv) Getenv(key string) string { return os.Getenv(key) }

func LoadConfig() (Config, error) {
	return LoadConfigFromEnv(osEnv{})
}

func LoadAgentConfig() (AgentConfig, error) {
	return LoadAgentConfigFromEnv(osEnv{})
}

// LoadConfigFromEnv reads the backend configuration. A missing PARTNER_ID is
// not a load error: the signer reports it on every issuance so the endpoint
// answers 500 instead of the process refusing to serve the key set.
func LoadConfigFromEnv(env Env) (Config, error) {
	cfg := Config{
		Port:               4000,
		GinMode:            "release",
		PrivateKeyFile:     "private.key",
		PublicKeyFile:      "public.key",
		AllowedOrigins:     append([]string(nil), DefaultAllowedOrigins...),
		AssertionRateLimit: 60,
		KeyCacheTTL:        5 * time.Minute,
		LogEnv:             "prod",
		LogLevel:           "info",
	}

	if raw := env.Getenv("PORT"); raw != "" {
		port, err := parsePort(raw)
		if err != nil {
			return Config{}, fmt.Errorf("invalid PORT")
		}
		cfg.Port = port
	}

	if raw := env.Getenv("GIN_MODE"); raw != "" {
		cfg.GinMode = raw
	}

	cfg.TLSCertFile = env.Getenv("TLS_CERT_FILE")
	cfg.TLSKeyFile = env.Getenv("TLS_KEY_FILE")
	cfg.PartnerID = strings.TrimSpace(env.Getenv("PARTNER_ID"))

	if raw := env.Getenv("PRIVATE_KEY_FILE"); raw != "" {
		cfg.PrivateKeyFile = raw
	}
	if raw := env.Getenv("PUBLIC_KEY_FILE"); raw != "" {
		cfg.PublicKeyFile = raw
	}
	if raw := env.Getenv("CORS_ALLOWED_ORIGINS"); raw != "" {
		cfg.AllowedOrigins = splitList(raw)
	}

	if raw := env.Getenv("ASSERTION_RATE_LIMIT"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return Config{}, fmt.Errorf("invalid ASSERTION_RATE_LIMIT")
		}
		cfg.AssertionRateLimit = n
	}

	if raw := env.Getenv("KEY_CACHE_SECONDS"); raw != "" {
		seconds, err := strconv.Atoi(raw)
		if err != nil || seconds < 0 {
			return Config{}, fmt.Errorf("invalid KEY_CACHE_SECONDS")
		}
		cfg.KeyCacheTTL = time.Duration(seconds) * time.Second
	}

	if raw := env.Getenv("LOG_ENV"); raw != "" {
		cfg.LogEnv = raw
	}
	if raw := env.Getenv("LOG_LEVEL"); raw != "" {
		cfg.LogLevel = raw
	}

	return cfg, nil
}

// LoadAgentConfigFromEnv reads the agent configuration. The partner id, backend
// URL, issuer id and identity service URL are all required.
func LoadAgentConfigFromEnv(env Env) (AgentConfig, error) {
	cfg := AgentConfig{
		Port:           4100,
		AppName:        "verichat",
		AppURL:         "http://localhost:3000",
		AllowedOrigins: append([]string(nil), DefaultAllowedOrigins...),
		PrefsDriver:    "file",
		PrefsFile:      "verichat-prefs.json",
		HTTPTimeout:    15 * time.Second,
		LogEnv:         "dev",
		LogLevel:       "info",
	}

	if raw := env.Getenv("AGENT_PORT"); raw != "" {
		port, err := parsePort(raw)
		if err != nil {
			return AgentConfig{}, fmt.Errorf("invalid AGENT_PORT")
		}
		cfg.Port = port
	}

	cfg.PartnerID = strings.TrimSpace(env.Getenv("PARTNER_ID"))
	cfg.BackendURL = strings.TrimRight(env.Getenv("BACKEND_URL"), "/")
	cfg.IssuerID = strings.TrimSpace(env.Getenv("ISSUER_ID"))
	cfg.IdentityURL = strings.TrimRight(env.Getenv("IDENTITY_URL"), "/")

	if raw := env.Getenv("APP_NAME"); raw != "" {
		cfg.AppName = raw
	}
	if raw := env.Getenv("APP_URL"); raw != "" {
		cfg.AppURL = strings.TrimRight(raw, "/")
	}
	if raw := env.Getenv("CORS_ALLOWED_ORIGINS"); raw != "" {
		cfg.AllowedOrigins = splitList(raw)
	}
	if raw := env.Getenv("PREFS_DRIVER"); raw != "" {
		cfg.PrefsDriver = strings.ToLower(raw)
	}
	if raw := env.Getenv("PREFS_FILE"); raw != "" {
		cfg.PrefsFile = raw
	}
	cfg.RedisAddr = env.Getenv("REDIS_ADDR")
	if raw := env.Getenv("REDIS_DB"); raw != "" {
		db, err := strconv.Atoi(raw)
		if err != nil || db < 0 {
			return AgentConfig{}, fmt.Errorf("invalid REDIS_DB")
		}
		cfg.RedisDB = db
	}
	if raw := env.Getenv("HTTP_TIMEOUT_SECONDS"); raw != "" {
		seconds, err := strconv.Atoi(raw)
		if err != nil || seconds <= 0 {
			return AgentConfig{}, fmt.Errorf("invalid HTTP_TIMEOUT_SECONDS")
		}
		cfg.HTTPTimeout = time.Duration(seconds) * time.Second
	}
	if raw := env.Getenv("LOG_ENV"); raw != "" {
		cfg.LogEnv = raw
	}
	if raw := env.Getenv("LOG_LEVEL"); raw != "" {
		cfg.LogLevel = raw
	}

	if err := cfg.Validate(); err != nil {
		return AgentConfig{}, fmt.Errorf("%w: %v", common.ErrConfiguration, err)
	}
	return cfg, nil
}

func (c AgentConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.PartnerID, validation.Required),
		validation.Field(&c.BackendURL, validation.Required, validation.By(absoluteURL)),
		validation.Field(&c.IssuerID, validation.Required),
		validation.Field(&c.IdentityURL, validation.Required, validation.By(absoluteURL)),
		validation.Field(&c.AppName, validation.Required, validation.Length(1, 64)),
		validation.Field(&c.PrefsDriver, validation.In("file", "memory", "redis")),
		validation.Field(&c.PrefsFile, validation.By(requiredFor(c.PrefsDriver == "file"))),
		validation.Field(&c.RedisAddr, validation.By(requiredFor(c.PrefsDriver == "redis"))),
	)
}

func requiredFor(cond bool) validation.RuleFunc {
	return func(value interface{}) error {
		if !cond {
			return nil
		}
		return validation.Validate(value, validation.Required)
	}
}

func absoluteURL(value interface{}) error {
	s, _ := value.(string)
	if s == "" {
		return nil
	}
	u, err := url.Parse(s)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("must be an absolute URL")
	}
	return nil
}

func parsePort(raw string) (int, error) {
	port, err := strconv.Atoi(raw)
	if err != nil || port <= 0 || port > 65535 {
		return 0, fmt.Errorf("invalid port %q", raw)
	}
	return port, nil
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
