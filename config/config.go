package config

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// DefaultGenCommand runs grape.generate from the work directory with the
// staged parameter file.
const DefaultGenCommand = `python3 -c "import json, sys; from grape.generate import generate; generate(json.load(open(sys.argv[1])))" ${PARAMS_FILE}`

type Config struct {
	WorkDir          string        `mapstructure:"WORK_DIR"`
	Addr             string        `mapstructure:"ADDR"`
	Workers          int           `mapstructure:"WORKERS"`
	LogLevel         string        `mapstructure:"LOG_LEVEL"`
	Generator        string        `mapstructure:"GENERATOR"`
	GenCommand       string        `mapstructure:"GEN_COMMAND"`
	MaxUploadSize    int64         `mapstructure:"MAX_UPLOAD_SIZE"`
	ThrottleCPU      float64       `mapstructure:"THROTTLE_CPU"`
	ThrottleFreeMem  int64         `mapstructure:"THROTTLE_FREEMEM"`
	ThrottleFreeDisk int64         `mapstructure:"THROTTLE_FREEDISK"`
	AuthEnable       bool          `mapstructure:"AUTH_ENABLE"`
	AuthKey          string        `mapstructure:"AUTH_KEY"`
	MetricsEnable    bool          `mapstructure:"METRICS_ENABLE"`
	ShutdownTimeout  time.Duration `mapstructure:"SHUTDOWN_TIMEOUT"`
}

// Flag names bound over the config keys by Load.
var flagKeys = map[string]string{
	"work-dir":  "WORK_DIR",
	"addr":      "ADDR",
	"workers":   "WORKERS",
	"log-level": "LOG_LEVEL",
	"generator": "GENERATOR",
}

// stringToDurationHookFunc parses Go duration strings.
func stringToDurationHookFunc() mapstructure.DecodeHookFunc {
	return func(
		f reflect.Type,
		t reflect.Type,
		data interface{},
	) (interface{}, error) {
		if f.Kind() != reflect.String || t != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}
		return time.ParseDuration(data.(string))
	}
}

// stringToByteSizeHookFunc parses human-readable size strings.
func stringToByteSizeHookFunc() mapstructure.DecodeHookFunc {
	return func(
		f reflect.Type,
		t reflect.Type,
		data interface{},
	) (interface{}, error) {
		if f.Kind() != reflect.String || t.Kind() != reflect.Int64 {
			return data, nil
		}

		var size datasize.ByteSize
		err := size.UnmarshalText([]byte(data.(string)))
		if err != nil {
			// Not a valid size string, let other parsers handle it.
			return data, nil
		}

		return int64(size.Bytes()), nil
	}
}

// Load reads defaults, the optional grapelm_config.yaml, GRAPELM_*
// environment variables and, when flags is non-nil, the changed flags of
// flags, in increasing priority.
func Load(flags *pflag.FlagSet) (*Config, error) {
	vp := viper.New()

	vp.SetDefault("WORK_DIR", "./")
	vp.SetDefault("ADDR", "127.0.0.1:12358")
	vp.SetDefault("WORKERS", 2)
	vp.SetDefault("LOG_LEVEL", "info")
	vp.SetDefault("GENERATOR", "command")
	vp.SetDefault("GEN_COMMAND", DefaultGenCommand)
	vp.SetDefault("MAX_UPLOAD_SIZE", "64MB")
	vp.SetDefault("THROTTLE_CPU", 0.0)
	vp.SetDefault("THROTTLE_FREEMEM", "0B")
	vp.SetDefault("THROTTLE_FREEDISK", "0B")
	vp.SetDefault("AUTH_ENABLE", false)
	vp.SetDefault("AUTH_KEY", "")
	vp.SetDefault("METRICS_ENABLE", true)
	vp.SetDefault("SHUTDOWN_TIMEOUT", "10s")

	vp.SetConfigName("grapelm_config")
	vp.SetConfigType("yaml")
	vp.AddConfigPath(".")
	vp.AddConfigPath("/etc/grapelm/")
	if flags != nil {
		if path, err := flags.GetString("config"); err == nil && path != "" {
			vp.SetConfigFile(path)
		}
	}

	if err := vp.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || vp.ConfigFileUsed() != "" {
			return nil, err
		}
	}

	vp.SetEnvPrefix("GRAPELM")
	vp.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	vp.AutomaticEnv()

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := vp.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	var cfg Config
	err := vp.Unmarshal(&cfg, viper.DecodeHook(
		mapstructure.ComposeDecodeHookFunc(
			stringToDurationHookFunc(),
			stringToByteSizeHookFunc(),
		),
	))
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Workers < 1 {
		return fmt.Errorf("WORKERS must be at least 1, got %d", c.Workers)
	}
	if c.AuthEnable && c.AuthKey == "" {
		return fmt.Errorf("AUTH_KEY is required when AUTH_ENABLE is set")
	}
	return nil
}
