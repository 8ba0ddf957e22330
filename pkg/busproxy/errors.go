package busproxy

import (
	"errors"
	"fmt"
)

// ErrProxyClosed is the failure of a call made after the proxy was closed.
var ErrProxyClosed = errors.New("proxy is closed")

// ConfigError reports a proxy that cannot be created or a call that does not
// match the registered interface.
type ConfigError struct {
	Interface string
	Reason    string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%s - %s: %s", logPrefix, e.Interface, e.Reason)
}
