package config

import "fmt"

// ConfigurationError reports one malformed configuration value. Field is the
// dotted path of the offending entry, e.g. server.proxy["/checks"].target.
type ConfigurationError struct {
	Field  string
	Value  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("%s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("%s: %s (got %q)", e.Field, e.Reason, e.Value)
}
