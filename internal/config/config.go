// Package config loads jobserver configuration from defaults, an optional
// YAML file, JOBCONTROL_ environment variables and command line flags, in
// increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

const EnvPrefix = "JOBCONTROL_"

var validate = validator.New()

type Config struct {
	Log     LogConfig     `koanf:"log"`
	Server  ServerConfig  `koanf:"server"`
	TLS     TLSConfig     `koanf:"tls"`
	Session SessionConfig `koanf:"session"`
	Jobs    JobsConfig    `koanf:"jobs"`
}

type LogConfig struct {
	Level string `koanf:"level" validate:"oneof=trace debug info warn error"`
}

type ServerConfig struct {
	Host string `koanf:"host"`
	Port int    `koanf:"port" validate:"min=1,max=65535"`
}

// Addr is the address the server listens on.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type TLSConfig struct {
	// Insecure disables mTLS. Every client is then treated as unauthenticated
	// and authorisation is skipped.
	Insecure   bool   `koanf:"insecure"`
	CertPath   string `koanf:"cert_path" validate:"required_unless=Insecure true"`
	KeyPath    string `koanf:"key_path" validate:"required_unless=Insecure true"`
	CACertPath string `koanf:"ca_cert_path" validate:"required_unless=Insecure true"`
}

type SessionConfig struct {
	// IdleTimeout of zero disables eviction of idle sessions.
	IdleTimeout  time.Duration `koanf:"idle_timeout" validate:"gte=0"`
	ReapInterval time.Duration `koanf:"reap_interval" validate:"gt=0"`
}

type JobsConfig struct {
	ResumeForeground bool `koanf:"resume_foreground"`

	// ReapInterval of zero leaves terminated jobs until they are reaped
	// explicitly.
	ReapInterval time.Duration `koanf:"reap_interval" validate:"gte=0"`
}

// Default returns the configuration used when no other source sets a key.
func Default() Config {
	return Config{
		Log: LogConfig{Level: "info"},
		Server: ServerConfig{
			Host: "localhost",
			Port: 8443,
		},
		TLS: TLSConfig{
			CertPath:   "certs/server.crt",
			KeyPath:    "certs/server.key",
			CACertPath: "certs/ca.crt",
		},
		Session: SessionConfig{
			IdleTimeout:  30 * time.Minute,
			ReapInterval: time.Minute,
		},
		Jobs: JobsConfig{
			ResumeForeground: true,
		},
	}
}

func defaultMap() map[string]any {
	def := Default()

	return map[string]any{
		"log.level":              def.Log.Level,
		"server.host":            def.Server.Host,
		"server.port":            def.Server.Port,
		"tls.insecure":           def.TLS.Insecure,
		"tls.cert_path":          def.TLS.CertPath,
		"tls.key_path":           def.TLS.KeyPath,
		"tls.ca_cert_path":       def.TLS.CACertPath,
		"session.idle_timeout":   def.Session.IdleTimeout.String(),
		"session.reap_interval":  def.Session.ReapInterval.String(),
		"jobs.resume_foreground": def.Jobs.ResumeForeground,
		"jobs.reap_interval":     def.Jobs.ReapInterval.String(),
	}
}

// Sources lists where Load reads configuration from.
type Sources struct {
	// File is an optional YAML config file. A missing file is ignored.
	File string

	// Flags are applied last. FlagKeys maps flag names to config keys;
	// flags absent from it are ignored. A set "debug" flag forces the
	// debug log level.
	Flags    *pflag.FlagSet
	FlagKeys map[string]string

	// Environ overrides os.Environ for the env source.
	Environ []string
}

// Load merges the configured sources over the defaults and validates the
// result.
func Load(src Sources) (Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaultMap(), "."), nil); err != nil {
		return Config{}, fmt.Errorf("load defaults: %w", err)
	}

	if src.File != "" {
		if _, err := os.Stat(src.File); err == nil {
			if err := k.Load(file.Provider(src.File), yaml.Parser()); err != nil {
				return Config{}, fmt.Errorf("load config file %s: %w", src.File, err)
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("stat config file %s: %w", src.File, err)
		}
	}

	if err := loadEnv(k, src.Environ); err != nil {
		return Config{}, err
	}

	if src.Flags != nil {
		provider := posflag.ProviderWithFlag(
			src.Flags,
			".",
			k,
			func(f *pflag.Flag) (string, any) {
				key, ok := src.FlagKeys[f.Name]
				if !ok {
					return "", nil
				}

				return key, posflag.FlagVal(src.Flags, f)
			},
		)

		if err := k.Load(provider, nil); err != nil {
			return Config{}, fmt.Errorf("load flags: %w", err)
		}

		if debug, err := src.Flags.GetBool("debug"); err == nil && debug {
			if err := k.Set("log.level", "debug"); err != nil {
				return Config{}, fmt.Errorf("set debug level: %w", err)
			}
		}
	}

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := validate.Struct(cfg); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// envKey maps JOBCONTROL_SESSION_IDLE_TIMEOUT to session.idle_timeout. The
// first underscore after the prefix separates the section from the key.
func envKey(name string) string {
	return strings.Replace(
		strings.ToLower(strings.TrimPrefix(name, EnvPrefix)),
		"_",
		".",
		1,
	)
}

func loadEnv(k *koanf.Koanf, environ []string) error {
	if environ == nil {
		err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil)
		if err != nil {
			return fmt.Errorf("load environment: %w", err)
		}

		return nil
	}

	vars := make(map[string]any)

	for _, kv := range environ {
		name, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(name, EnvPrefix) {
			continue
		}

		vars[envKey(name)] = value
	}

	if err := k.Load(confmap.Provider(vars, "."), nil); err != nil {
		return fmt.Errorf("load environment: %w", err)
	}

	return nil
}
