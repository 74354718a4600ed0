package types

import (
	"errors"
	"fmt"
	"time"
)

// Config holds backend selection and the lifecycle settings the service
// needs. The CLI fills it from viper.
type Config struct {
	Backend        string         `json:"backend" yaml:"backend"`
	DataDir        string         `json:"data_dir" yaml:"data_dir"`
	UnfreezePolicy UnfreezePolicy `json:"unfreeze_policy" yaml:"unfreeze_policy"`
	Administrators []string       `json:"administrators" yaml:"administrators"`
	StaleAfter     time.Duration  `json:"stale_after" yaml:"stale_after"`
}

// Supported backend names.
const (
	BackendSQLite = "sqlite"
)

// Config validation errors.
var (
	ErrBackendEmpty          = errors.New("backend must not be empty")
	ErrBackendUnknown        = errors.New("unknown backend")
	ErrUnfreezePolicyMissing = errors.New("unfreeze_policy must be set explicitly (admin, freezer or any)")
	ErrUnfreezePolicyUnknown = errors.New("unknown unfreeze_policy")
	ErrStaleAfterInvalid     = errors.New("stale_after must not be negative")
)

// knownBackends lists the backends that Validate accepts.
var knownBackends = map[string]bool{
	BackendSQLite: true,
}

// Validate checks that the Config is well-formed. It returns a sentinel
// error from this package on failure.
func (c Config) Validate() error {
	if c.Backend == "" {
		return ErrBackendEmpty
	}
	if !knownBackends[c.Backend] {
		return fmt.Errorf("%w: %q", ErrBackendUnknown, c.Backend)
	}
	if c.UnfreezePolicy == "" {
		return ErrUnfreezePolicyMissing
	}
	if !c.UnfreezePolicy.Valid() {
		return fmt.Errorf("%w: %q", ErrUnfreezePolicyUnknown, c.UnfreezePolicy)
	}
	if c.StaleAfter < 0 {
		return ErrStaleAfterInvalid
	}
	return nil
}
