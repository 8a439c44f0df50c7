// Package logging provides structured logging configuration.
package logging

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds logging configuration options.
type Config struct {
	Level  string // debug|info|warn|error
	Format string // json|console
}

// New creates a new configured zap logger.
func New(cfg Config) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if cfg.Level != "" {
		if err := level.Set(strings.ToLower(cfg.Level)); err != nil {
			return nil, err
		}
	}

	format := strings.ToLower(cfg.Format)
	if format == "" {
		format = "json"
	}

	var zcfg zap.Config
	if format == "console" {
		zcfg = zap.NewDevelopmentConfig()
	} else {
		zcfg = zap.NewProductionConfig()
	}

	zcfg.Level = zap.NewAtomicLevelAt(level)
	zcfg.EncoderConfig.TimeKey = "ts"
	zcfg.EncoderConfig.LevelKey = "level"
	zcfg.EncoderConfig.MessageKey = "msg"
	zcfg.EncoderConfig.CallerKey = "caller"
	zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := zcfg.Build(zap.AddCaller(), zap.AddCallerSkip(0))
	if err != nil {
		return nil, err
	}

	logger = logger.With(zap.String("service", "fiscalgate"))

	return logger, nil
}

// Sync flushes any buffered log entries.
func Sync(logger *zap.Logger) {
	_ = logger.Sync()
}

// FromEnv creates a Config from environment variables.
func FromEnv() Config {
	return Config{
		Level:  getenv("FISCALGATE_LOG_LEVEL", "info"),
		Format: getenv("FISCALGATE_LOG_FORMAT", "json"),
	}
}

func getenv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

// Component returns a zap field for the component name.
func Component(name string) zap.Field { return zap.String("component", name) }

// Port returns a zap field for the port number.
func Port(port int) zap.Field { return zap.Int("port", port) }

// Addr returns a zap field for an address.
func Addr(addr string) zap.Field { return zap.String("addr", addr) }

// Method returns a zap field for an HTTP method.
func Method(method string) zap.Field { return zap.String("method", method) }

// Path returns a zap field for a URL path.
func Path(path string) zap.Field { return zap.String("path", path) }

// RemoteIP returns a zap field for a remote IP address.
func RemoteIP(ip string) zap.Field { return zap.String("remote_ip", ip) }

// Endpoint returns a zap field for an upstream endpoint path.
func Endpoint(endpoint string) zap.Field { return zap.String("endpoint", endpoint) }

// StatusCode returns a zap field for an HTTP status code.
func StatusCode(code int) zap.Field { return zap.Int("status_code", code) }

// Attempt returns a zap field for a retry attempt number.
func Attempt(n int) zap.Field { return zap.Int("attempt", n) }

// ClientID returns a zap field for an accounting client identifier.
func ClientID(id string) zap.Field { return zap.String("client_id", id) }

// ProtocolID returns a zap field for an upstream protocol identifier.
func ProtocolID(id string) zap.Field { return zap.String("protocol_id", id) }

// DocumentType returns a zap field for a fiscal document type.
func DocumentType(t string) zap.Field { return zap.String("document_type", t) }

// FileName returns a zap field for an uploaded file name.
func FileName(name string) zap.Field { return zap.String("file_name", name) }

// CacheKey returns a zap field for a cache key.
func CacheKey(key string) zap.Field { return zap.String("cache_key", key) }

// Subject returns a zap field for an authenticated subject identifier.
func Subject(id string) zap.Field { return zap.String("subject", id) }
