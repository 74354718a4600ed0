// Config loading for receiptctl.
package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/mesh-intelligence/receipts/internal/lock"
	"github.com/mesh-intelligence/receipts/internal/paths"
	"github.com/mesh-intelligence/receipts/internal/telemetry"
	"github.com/mesh-intelligence/receipts/pkg/types"
)

const (
	configFileName = "config"
	configFileType = "yaml"
	envPrefix      = "RECEIPTS"

	cfgKeyBackend        = "backend"
	cfgKeyDataDir        = "data_dir"
	cfgKeyLogLevel       = "log.level"
	cfgKeyLogFormat      = "log.format"
	cfgKeyLedgerDriver   = "ledger.driver"
	cfgKeyBreakerFails   = "ledger.breaker.consecutive_failures"
	cfgKeyBreakerTimeout = "ledger.breaker.open_timeout"
	cfgKeyLockDriver     = "lock.driver"
	cfgKeyLockRedisAddr  = "lock.redis_addr"
	cfgKeyLockExpiry     = "lock.expiry"
	cfgKeyLockTries      = "lock.tries"
	cfgKeyLockRetryDelay = "lock.retry_delay"
	cfgKeyEventsDriver   = "events.driver"
	cfgKeyEventsBrokers  = "events.brokers"
	cfgKeyEventsTopic    = "events.topic"
	cfgKeyUnfreeze       = "unfreeze_policy"
	cfgKeyAdmins         = "administrators"
	cfgKeyParties        = "parties"
	cfgKeyStaleAfter     = "stale_after"
	cfgKeyTraceEnabled   = "tracing.enabled"
	cfgKeyTraceEndpoint  = "tracing.endpoint"
	cfgKeyTraceInsecure  = "tracing.insecure"

	driverDevnet = "devnet"
	driverLocal  = "local"
	driverRedis  = "redis"
	driverNop    = "nop"
	driverKafka  = "kafka"
)

// defaultConfigYAML is written to config.yaml on first run. The unfreeze
// policy is left commented out: operators must choose one.
const defaultConfigYAML = `# receiptctl configuration

backend: sqlite

# Data directory (optional; overridable by --data-dir)
# data_dir:

log:
  level: info
  format: console

ledger:
  driver: devnet
  breaker:
    consecutive_failures: 5
    open_timeout: 30s

lock:
  driver: local
  # redis_addr: localhost:6379

events:
  driver: nop
  # brokers: [localhost:9092]
  # topic: receipt-status

# Ledger call spans, exported over OTLP/gRPC when enabled.
tracing:
  enabled: false
  # endpoint: localhost:4317
  # insecure: true

# Who may unfreeze: admin, freezer or any. Required.
# unfreeze_policy: admin

administrators: []

# Known actors and the ledger addresses they sign with.
parties: []
#  - id: owner-1
#    address: "0x1111111111111111111111111111111111111111"

stale_after: 5m
`

// settings is the resolved configuration.
type settings struct {
	Store     types.Config
	LogLevel  string
	LogFormat string

	LedgerDriver   string
	BreakerFails   uint32
	BreakerTimeout time.Duration

	LockDriver string
	RedisAddr  string
	Redis      lock.RedisOptions

	EventsDriver  string
	EventsBrokers []string
	EventsTopic   string

	Tracing telemetry.Config

	Parties []types.Party
}

// loadConfig loads the optional .env, then config.yaml with RECEIPTS_*
// environment overrides. It writes a default config.yaml on first run.
func loadConfig(configDir string) (*viper.Viper, error) {
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return nil, fmt.Errorf("ensure config dir: %w", err)
	}
	if err := ensureDefaultConfigFile(configDir); err != nil {
		return nil, fmt.Errorf("ensure default config: %w", err)
	}
	if err := godotenv.Load(paths.EnvFile(configDir)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)
	v.SetConfigName(configFileName)
	v.SetConfigType(configFileType)
	v.AddConfigPath(configDir)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return v, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	return v, nil
}

func setDefaults(v *viper.Viper) {
	redis := lock.DefaultRedisOptions()
	v.SetDefault(cfgKeyBackend, types.BackendSQLite)
	v.SetDefault(cfgKeyLogLevel, "info")
	v.SetDefault(cfgKeyLogFormat, "console")
	v.SetDefault(cfgKeyLedgerDriver, driverDevnet)
	v.SetDefault(cfgKeyBreakerFails, 5)
	v.SetDefault(cfgKeyBreakerTimeout, 30*time.Second)
	v.SetDefault(cfgKeyLockDriver, driverLocal)
	v.SetDefault(cfgKeyLockExpiry, redis.Expiry)
	v.SetDefault(cfgKeyLockTries, redis.Tries)
	v.SetDefault(cfgKeyLockRetryDelay, redis.RetryDelay)
	v.SetDefault(cfgKeyEventsDriver, driverNop)
	v.SetDefault(cfgKeyStaleAfter, 5*time.Minute)
	v.SetDefault(cfgKeyTraceEnabled, false)
}

func ensureDefaultConfigFile(configDir string) error {
	path := paths.ConfigFile(configDir)
	_, err := os.Stat(path)
	if err == nil {
		return nil
	}
	if !os.IsNotExist(err) {
		return fmt.Errorf("stat config file: %w", err)
	}
	return os.WriteFile(path, []byte(defaultConfigYAML), 0o644)
}

// resolveSettings turns the viper view into settings and validates them.
func resolveSettings(v *viper.Viper, dataDir string) (settings, error) {
	var parties []types.Party
	if err := v.UnmarshalKey(cfgKeyParties, &parties); err != nil {
		return settings{}, fmt.Errorf("parse %s: %w", cfgKeyParties, err)
	}
	for i, p := range parties {
		if err := p.Validate(fmt.Sprintf("%s[%d]", cfgKeyParties, i)); err != nil {
			return settings{}, err
		}
	}

	s := settings{
		Store: types.Config{
			Backend:        v.GetString(cfgKeyBackend),
			DataDir:        dataDir,
			UnfreezePolicy: types.UnfreezePolicy(strings.ToLower(v.GetString(cfgKeyUnfreeze))),
			Administrators: v.GetStringSlice(cfgKeyAdmins),
			StaleAfter:     v.GetDuration(cfgKeyStaleAfter),
		},
		LogLevel:       v.GetString(cfgKeyLogLevel),
		LogFormat:      v.GetString(cfgKeyLogFormat),
		LedgerDriver:   v.GetString(cfgKeyLedgerDriver),
		BreakerFails:   v.GetUint32(cfgKeyBreakerFails),
		BreakerTimeout: v.GetDuration(cfgKeyBreakerTimeout),
		LockDriver:     v.GetString(cfgKeyLockDriver),
		RedisAddr:      v.GetString(cfgKeyLockRedisAddr),
		Redis: lock.RedisOptions{
			Prefix:     lock.DefaultRedisOptions().Prefix,
			Expiry:     v.GetDuration(cfgKeyLockExpiry),
			Tries:      v.GetInt(cfgKeyLockTries),
			RetryDelay: v.GetDuration(cfgKeyLockRetryDelay),
		},
		EventsDriver:  v.GetString(cfgKeyEventsDriver),
		EventsBrokers: v.GetStringSlice(cfgKeyEventsBrokers),
		EventsTopic:   v.GetString(cfgKeyEventsTopic),
		Tracing: telemetry.Config{
			Enabled:        v.GetBool(cfgKeyTraceEnabled),
			Endpoint:       v.GetString(cfgKeyTraceEndpoint),
			Insecure:       v.GetBool(cfgKeyTraceInsecure),
			ServiceName:    binaryName,
			ServiceVersion: Version,
		},
		Parties: parties,
	}
	if err := s.Store.Validate(); err != nil {
		return settings{}, fmt.Errorf("config: %w", err)
	}
	if s.LedgerDriver != driverDevnet {
		return settings{}, fmt.Errorf("config: unknown %s %q", cfgKeyLedgerDriver, s.LedgerDriver)
	}
	switch s.LockDriver {
	case driverLocal:
	case driverRedis:
		if s.RedisAddr == "" {
			return settings{}, fmt.Errorf("config: %s is required for the redis lock", cfgKeyLockRedisAddr)
		}
		if err := s.Redis.Validate(); err != nil {
			return settings{}, fmt.Errorf("config: %w", err)
		}
	default:
		return settings{}, fmt.Errorf("config: unknown %s %q", cfgKeyLockDriver, s.LockDriver)
	}
	switch s.EventsDriver {
	case driverNop, driverKafka:
	default:
		return settings{}, fmt.Errorf("config: unknown %s %q", cfgKeyEventsDriver, s.EventsDriver)
	}
	if err := s.Tracing.Validate(); err != nil {
		return settings{}, fmt.Errorf("config: %s: %w", cfgKeyTraceEndpoint, err)
	}
	return s, nil
}
