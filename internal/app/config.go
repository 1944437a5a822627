package app

import "time"

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	HTTPAddr string
	LogLevel string

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration

	// WriteTimeout defaults to 0 (disabled): the event-stream endpoints hold
	// connections open indefinitely and enforce their own per-frame write
	// deadlines instead.
	WriteTimeout time.Duration

	IdleTimeout    time.Duration
	MaxHeaderBytes int

	DatabaseURL string
	DBMaxConns  int32
	DBMinConns  int32

	// If true, /readyz returns 503 unless DB is configured and reachable.
	ReadinessRequireDB bool

	// Credential signing.
	CredentialIssuer    string
	CredentialTTL       time.Duration
	CredentialClockSkew time.Duration
	SecretKeyHex        string

	// Session cookie.
	SessionTTL   time.Duration
	CookieSecure bool

	// Stream session tuning.
	StreamQueueSize    int
	StreamKeepAlive    time.Duration
	StreamWriteTimeout time.Duration

	// WSOrigins authorizes cross-origin WebSocket upgrades.
	WSOrigins []string
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	return Config{
		HTTPAddr: EnvString("PLUME_HTTP_ADDR", "0.0.0.0:8080"),
		LogLevel: EnvString("PLUME_LOG_LEVEL", "info"),

		ReadHeaderTimeout: EnvDuration("PLUME_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("PLUME_HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      EnvDuration("PLUME_HTTP_WRITE_TIMEOUT", 0),
		IdleTimeout:       EnvDuration("PLUME_HTTP_IDLE_TIMEOUT", 60*time.Second),

		MaxHeaderBytes: EnvInt("PLUME_HTTP_MAX_HEADER_BYTES", 1<<20),

		DatabaseURL: EnvString("PLUME_DATABASE_URL", ""),
		DBMaxConns:  EnvInt32("PLUME_DB_MAX_CONNS", 10),
		DBMinConns:  EnvInt32("PLUME_DB_MIN_CONNS", 0),

		ReadinessRequireDB: EnvBool("PLUME_READINESS_REQUIRE_DB", false),

		CredentialIssuer:    EnvString("PLUME_CREDENTIAL_ISSUER", "plume"),
		CredentialTTL:       EnvDuration("PLUME_CREDENTIAL_TTL", 24*time.Hour),
		CredentialClockSkew: EnvDuration("PLUME_CREDENTIAL_CLOCK_SKEW", 30*time.Second),
		SecretKeyHex:        EnvString("PLUME_PASETO_V4_SECRET_KEY_HEX", ""),

		SessionTTL:   EnvDuration("PLUME_SESSION_TTL", 24*time.Hour),
		CookieSecure: EnvBool("PLUME_COOKIE_SECURE", false),

		StreamQueueSize:    EnvInt("PLUME_STREAM_QUEUE_SIZE", 256),
		StreamKeepAlive:    EnvDuration("PLUME_STREAM_KEEPALIVE", 25*time.Second),
		StreamWriteTimeout: EnvDuration("PLUME_STREAM_WRITE_TIMEOUT", 5*time.Second),

		WSOrigins: EnvStrings("PLUME_WS_ORIGINS", nil),
	}
}
