package counter

import (
	"github.com/pkg/errors"
)

// ConfigError reports a problem detected while setting up counters or loading
// configuration. It is fatal: the affected entity type cannot be used.
type ConfigError struct {
	Entity  string
	Name    string
	Message string
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	switch {
	case e.Entity != "" && e.Name != "":
		return "config error in " + e.Entity + "." + e.Name + ": " + e.Message
	case e.Entity != "":
		return "config error in " + e.Entity + ": " + e.Message
	case e.Name != "":
		return "config error in field " + e.Name + ": " + e.Message
	default:
		return "config error: " + e.Message
	}
}

// IsConfigError reports whether err is, or wraps, a *ConfigError.
func IsConfigError(err error) bool {
	var cfgErr *ConfigError
	return errors.As(err, &cfgErr)
}
