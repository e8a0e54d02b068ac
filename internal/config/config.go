package config

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	Paths    PathsConfig  `mapstructure:"paths"`
	Tiling   TilingConfig `mapstructure:"tiling"`
	Server   ServerConfig `mapstructure:"server"`
	Output   OutputConfig `mapstructure:"output"`
	LogLevel string       `mapstructure:"log_level"`
}

type PathsConfig struct {
	Manifest string `mapstructure:"manifest"`
}

type TilingConfig struct {
	// CoreNum overrides compile_info.core_num when positive.
	CoreNum int64 `mapstructure:"core_num"`
	Workers int   `mapstructure:"workers"`
}

type ServerConfig struct {
	ListenAddr      string `mapstructure:"listen_addr"`
	Workers         int    `mapstructure:"workers"`
	RequestTimeout  int    `mapstructure:"request_timeout"`  // seconds
	MaxBodyBytes    int64  `mapstructure:"max_body_bytes"`
	ShutdownTimeout int    `mapstructure:"shutdown_timeout"` // seconds
}

type OutputConfig struct {
	Format string `mapstructure:"format"`
}

type LoadOptions struct {
	Cmd        flagBinder
	ConfigFile string
	Defaults   Config
}

type flagBinder interface {
	Flags() *pflag.FlagSet
}

func DefaultConfig() Config {
	return Config{
		Paths: PathsConfig{
			Manifest: "cases.json",
		},
		Tiling: TilingConfig{
			CoreNum: 0,
			Workers: 4,
		},
		Server: ServerConfig{
			ListenAddr:      ":8080",
			Workers:         2,
			RequestTimeout:  10,
			MaxBodyBytes:    1 << 20,
			ShutdownTimeout: 30,
		},
		Output: OutputConfig{
			Format: FormatTable,
		},
		LogLevel: "info",
	}
}

// flagKeys maps each flag to the config key it feeds.
var flagKeys = []struct {
	flag string
	key  string
}{
	{"manifest", "paths.manifest"},
	{"core-num", "tiling.core_num"},
	{"workers", "tiling.workers"},
	{"server-listen-addr", "server.listen_addr"},
	{"server-workers", "server.workers"},
	{"server-request-timeout", "server.request_timeout"},
	{"server-max-body-bytes", "server.max_body_bytes"},
	{"server-shutdown-timeout", "server.shutdown_timeout"},
	{"format", "output.format"},
	{"log-level", "log_level"},
}

func RegisterFlags(fs *pflag.FlagSet, defaults Config) {
	fs.String("manifest", defaults.Paths.Manifest, "Path to the tiling case manifest")
	fs.Int64("core-num", defaults.Tiling.CoreNum, "Override compile_info core_num (0 keeps the compiled value)")
	fs.Int("workers", defaults.Tiling.Workers, "Concurrent tiling calls when running a manifest")
	fs.String("server-listen-addr", defaults.Server.ListenAddr, "HTTP listen address")
	fs.Int("server-workers", defaults.Server.Workers, "Max concurrent tiling requests")
	fs.Int("server-request-timeout", defaults.Server.RequestTimeout, "Per-request timeout in seconds")
	fs.Int64("server-max-body-bytes", defaults.Server.MaxBodyBytes, "Max request body size in bytes")
	fs.Int("server-shutdown-timeout", defaults.Server.ShutdownTimeout, "Graceful shutdown timeout in seconds")
	fs.String("format", defaults.Output.Format, "Output format (table|json)")
	fs.String("log-level", defaults.LogLevel, "Log level (debug|info|warn|error)")
}

func Load(opts LoadOptions) (Config, error) {
	v := viper.New()

	setDefaults(v, opts.Defaults)
	if opts.Cmd != nil {
		if err := bindFlags(v, opts.Cmd.Flags()); err != nil {
			return Config{}, err
		}
	}

	v.SetEnvPrefix("TRANSDATA")
	replacer := strings.NewReplacer("-", "_", ".", "_", "__", "_")
	v.SetEnvKeyReplacer(replacer)
	v.AutomaticEnv()

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	} else {
		v.SetConfigName("transdata")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, fmt.Errorf("read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	format, err := NormalizeFormat(cfg.Output.Format)
	if err != nil {
		return Config{}, err
	}

	cfg.Output.Format = format

	return cfg, nil
}

func setDefaults(v *viper.Viper, c Config) {
	v.SetDefault("paths.manifest", c.Paths.Manifest)
	v.SetDefault("tiling.core_num", c.Tiling.CoreNum)
	v.SetDefault("tiling.workers", c.Tiling.Workers)
	v.SetDefault("server.listen_addr", c.Server.ListenAddr)
	v.SetDefault("server.workers", c.Server.Workers)
	v.SetDefault("server.request_timeout", c.Server.RequestTimeout)
	v.SetDefault("server.max_body_bytes", c.Server.MaxBodyBytes)
	v.SetDefault("server.shutdown_timeout", c.Server.ShutdownTimeout)
	v.SetDefault("output.format", c.Output.Format)
	v.SetDefault("log_level", c.LogLevel)
}

// bindFlags binds every registered flag to its config key. A flag only
// wins over env and file values when it was set on the command line.
func bindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	for _, fk := range flagKeys {
		f := fs.Lookup(fk.flag)
		if f == nil {
			continue
		}

		if err := v.BindPFlag(fk.key, f); err != nil {
			return fmt.Errorf("bind flag %s: %w", fk.flag, err)
		}
	}

	return nil
}
