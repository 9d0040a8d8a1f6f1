package privacy

import (
	"errors"
	"fmt"
)

// ErrConfiguration is matched by every *ConfigurationError.
var ErrConfiguration = errors.New("invalid redaction rule configuration")

// ConfigurationError reports a rule that cannot be used.
type ConfigurationError struct {
	RuleType string
	Reason   string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("redaction rule %q: %s", e.RuleType, e.Reason)
}

// Is lets errors.Is(err, ErrConfiguration) match.
func (e *ConfigurationError) Is(target error) bool {
	return target == ErrConfiguration
}
