package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// SyncConfig holds configuration for the chain sync command.
type SyncConfig struct {
	RPCURL            string
	ChainID           uint64
	Pools             []string
	FromBlock         uint64
	ToBlock           uint64
	BatchSize         uint64
	EventsOut         string
	ErrorsOut         string
	SnapshotsOut      string
	Checkpoint        string
	CheckpointEnabled bool
	PGDSN             string
	Topic0Map         map[string]string
	MaxRetries        int
	RetryBackoff      time.Duration
	LogLevel          string
}

// ReplayConfig holds configuration for the offline replay command.
type ReplayConfig struct {
	ChainID      uint64
	EventsIn     string
	SnapshotsOut string
	PGDSN        string
	LogLevel     string
}

// QuoteConfig holds configuration for the quote command.
type QuoteConfig struct {
	ChainID     uint64
	SnapshotsIn string
	PGDSN       string
	Pool        string
	Token       string
	Side        string
	Amounts     []string
	LogLevel    string
}

// LoadSync merges config file, environment variables, and flags.
func LoadSync(cfgFile string, flags *pflag.FlagSet) (SyncConfig, error) {
	v, err := newViper(cfgFile, flags, func(v *viper.Viper) {
		v.SetDefault("chain-id", uint64(1))
		v.SetDefault("batch-size", uint64(2000))
		v.SetDefault("events-out", "./data/events.jsonl")
		v.SetDefault("errors-out", "./data/decode_errors.jsonl")
		v.SetDefault("snapshots-out", "./data/snapshots.jsonl")
		v.SetDefault("checkpoint", "./data/checkpoint.json")
		v.SetDefault("checkpoint-enabled", true)
		v.SetDefault("max-retries", 5)
		v.SetDefault("retry-backoff", 500*time.Millisecond)
		v.SetDefault("log-level", "info")
	})
	if err != nil {
		return SyncConfig{}, err
	}

	return SyncConfig{
		RPCURL:            v.GetString("rpc"),
		ChainID:           v.GetUint64("chain-id"),
		Pools:             getStringSlice(v, "pool"),
		FromBlock:         v.GetUint64("from"),
		ToBlock:           v.GetUint64("to"),
		BatchSize:         v.GetUint64("batch-size"),
		EventsOut:         v.GetString("events-out"),
		ErrorsOut:         v.GetString("errors-out"),
		SnapshotsOut:      v.GetString("snapshots-out"),
		Checkpoint:        v.GetString("checkpoint"),
		CheckpointEnabled: v.GetBool("checkpoint-enabled"),
		PGDSN:             v.GetString("pg-dsn"),
		Topic0Map:         getStringMap(v, "topic0-map"),
		MaxRetries:        v.GetInt("max-retries"),
		RetryBackoff:      v.GetDuration("retry-backoff"),
		LogLevel:          v.GetString("log-level"),
	}, nil
}

// LoadReplay merges config file, environment variables, and flags.
func LoadReplay(cfgFile string, flags *pflag.FlagSet) (ReplayConfig, error) {
	v, err := newViper(cfgFile, flags, func(v *viper.Viper) {
		v.SetDefault("chain-id", uint64(1))
		v.SetDefault("events-in", "./data/events.jsonl")
		v.SetDefault("snapshots-out", "./data/snapshots.jsonl")
		v.SetDefault("log-level", "info")
	})
	if err != nil {
		return ReplayConfig{}, err
	}

	return ReplayConfig{
		ChainID:      v.GetUint64("chain-id"),
		EventsIn:     v.GetString("events-in"),
		SnapshotsOut: v.GetString("snapshots-out"),
		PGDSN:        v.GetString("pg-dsn"),
		LogLevel:     v.GetString("log-level"),
	}, nil
}

// LoadQuote merges config file, environment variables, and flags.
func LoadQuote(cfgFile string, flags *pflag.FlagSet) (QuoteConfig, error) {
	v, err := newViper(cfgFile, flags, func(v *viper.Viper) {
		v.SetDefault("chain-id", uint64(1))
		v.SetDefault("snapshots-in", "./data/snapshots.jsonl")
		v.SetDefault("side", "sell")
		v.SetDefault("log-level", "info")
	})
	if err != nil {
		return QuoteConfig{}, err
	}

	return QuoteConfig{
		ChainID:     v.GetUint64("chain-id"),
		SnapshotsIn: v.GetString("snapshots-in"),
		PGDSN:       v.GetString("pg-dsn"),
		Pool:        v.GetString("pool"),
		Token:       v.GetString("token"),
		Side:        v.GetString("side"),
		Amounts:     getStringSlice(v, "amount"),
		LogLevel:    v.GetString("log-level"),
	}, nil
}

func newViper(cfgFile string, flags *pflag.FlagSet, defaults func(*viper.Viper)) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix("PRICER")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	defaults(v)

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	return v, nil
}

func getStringSlice(v *viper.Viper, key string) []string {
	if !v.IsSet(key) {
		return nil
	}

	val := v.Get(key)
	switch typed := val.(type) {
	case []string:
		return cleanStrings(typed)
	case string:
		return splitAndClean(typed)
	case []interface{}:
		items := make([]string, 0, len(typed))
		for _, item := range typed {
			items = append(items, fmt.Sprintf("%v", item))
		}
		return cleanStrings(items)
	default:
		return nil
	}
}

func getStringMap(v *viper.Viper, key string) map[string]string {
	if !v.IsSet(key) {
		return map[string]string{}
	}

	val := v.Get(key)
	switch typed := val.(type) {
	case map[string]string:
		return typed
	case map[string]interface{}:
		out := make(map[string]string, len(typed))
		for k, item := range typed {
			out[k] = fmt.Sprintf("%v", item)
		}
		return out
	case string:
		return parseStringMap(typed)
	default:
		return map[string]string{}
	}
}

func parseStringMap(input string) map[string]string {
	out := make(map[string]string)
	if strings.TrimSpace(input) == "" {
		return out
	}
	pairs := strings.Split(input, ",")
	for _, pair := range pairs {
		parts := strings.SplitN(pair, "=", 2)
		if len(parts) != 2 {
			continue
		}
		name := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])
		if name == "" || value == "" {
			continue
		}
		out[name] = value
	}
	return out
}

func splitAndClean(input string) []string {
	if input == "" {
		return nil
	}
	parts := strings.Split(input, ",")
	return cleanStrings(parts)
}

func cleanStrings(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		out = append(out, item)
	}
	return out
}
