// Package config resolves and validates per-connection configuration for the
// Codemaster gateway. Clients pass configuration as flat, dot-notation query
// parameters on their first request; the resolver expands them into a typed
// Config, applies defaults, and enforces the declared bounds.
package config

import "time"

// Session timeout bounds, in minutes. Values outside this range are rejected
// with a SchemaViolationError, never clamped.
const (
	DefaultSessionTimeoutMinutes = 30
	MinSessionTimeoutMinutes     = 5
	MaxSessionTimeoutMinutes     = 120
)

// Config is the validated per-connection configuration. It is captured as an
// immutable snapshot at session creation time.
type Config struct {
	// APIKey is an optional credential forwarded to the tool invoker.
	// The gateway never checks it server-side.
	APIKey string `json:"apiKey,omitempty"`

	// Debug enables verbose per-session diagnostics.
	Debug bool `json:"debug"`

	// SessionTimeout is the idle timeout for the session, in minutes.
	SessionTimeout int `json:"sessionTimeout"`
}

// Default returns a Config with every field set to its documented default.
func Default() Config {
	return Config{
		Debug:          false,
		SessionTimeout: DefaultSessionTimeoutMinutes,
	}
}

// Timeout returns the session idle timeout as a duration.
func (c Config) Timeout() time.Duration {
	return time.Duration(c.SessionTimeout) * time.Minute
}
