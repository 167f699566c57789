// Package config loads node settings from <home>/config/oddevend.toml,
// ODDEVEND_* environment variables and command-line flags, in increasing
// order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"oddeven/apps/chain/internal/game"
)

const (
	EnvPrefix      = "ODDEVEND"
	ConfigFileName = "oddevend.toml"
	DefaultHome    = ".oddeven"
)

type Config struct {
	Home     string     `mapstructure:"home"`
	LogLevel string     `mapstructure:"log_level"`
	ABCI     ABCIConfig `mapstructure:"abci"`
	DB       DBConfig   `mapstructure:"db"`
	API      APIConfig  `mapstructure:"api"`
	Game     GameConfig `mapstructure:"game"`
}

type ABCIConfig struct {
	Addr      string `mapstructure:"addr"`
	Transport string `mapstructure:"transport"` // socket|grpc
}

type DBConfig struct {
	Backend string `mapstructure:"backend"` // goleveldb|memdb
	Name    string `mapstructure:"name"`
}

type APIConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// GameConfig seeds the params of a fresh chain. Genesis app_state overrides it.
type GameConfig struct {
	GameCost         uint64 `mapstructure:"game_cost"`
	RevealWindowSecs uint64 `mapstructure:"reveal_window_secs"`
}

func (g GameConfig) Params() game.Params {
	return game.Params{GameCost: g.GameCost, RevealWindowSecs: g.RevealWindowSecs}
}

// flagKeys maps command-line flag names to config keys.
var flagKeys = map[string]string{
	"home":               "home",
	"log-level":          "log_level",
	"abci-addr":          "abci.addr",
	"abci-transport":     "abci.transport",
	"db-backend":         "db.backend",
	"api-enabled":        "api.enabled",
	"api-addr":           "api.addr",
	"game-cost":          "game.game_cost",
	"reveal-window-secs": "game.reveal_window_secs",
}

func setDefaults(v *viper.Viper) {
	p := game.DefaultParams()
	v.SetDefault("home", DefaultHome)
	v.SetDefault("log_level", "info")
	v.SetDefault("abci.addr", "tcp://127.0.0.1:26658")
	v.SetDefault("abci.transport", "socket")
	v.SetDefault("db.backend", "goleveldb")
	v.SetDefault("db.name", "oddeven")
	v.SetDefault("api.enabled", true)
	v.SetDefault("api.addr", "127.0.0.1:8080")
	v.SetDefault("game.game_cost", p.GameCost)
	v.SetDefault("game.reveal_window_secs", p.RevealWindowSecs)
}

// Default returns the built-in configuration.
func Default() Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	_ = v.Unmarshal(&cfg)
	return cfg
}

// RegisterFlags adds the node flags to fs with their default values.
func RegisterFlags(fs *pflag.FlagSet) {
	d := Default()
	fs.String("home", d.Home, "node home directory")
	fs.String("log-level", d.LogLevel, "log level (trace|debug|info|warn|error)")
	fs.String("abci-addr", d.ABCI.Addr, "ABCI listen address")
	fs.String("abci-transport", d.ABCI.Transport, "ABCI transport (socket|grpc)")
	fs.String("db-backend", d.DB.Backend, "state database backend (goleveldb|memdb)")
	fs.Bool("api-enabled", d.API.Enabled, "serve the read-only HTTP API")
	fs.String("api-addr", d.API.Addr, "HTTP API listen address")
	fs.Uint64("game-cost", d.Game.GameCost, "stake per player for a fresh chain")
	fs.Uint64("reveal-window-secs", d.Game.RevealWindowSecs, "seconds odd has to reveal after even joins")
}

// Load resolves the configuration. fs may be nil.
func Load(fs *pflag.FlagSet) (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if fs != nil {
		for name, key := range flagKeys {
			if f := fs.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return Config{}, fmt.Errorf("bind flag %q: %w", name, err)
				}
			}
		}
	}

	path := filepath.Join(v.GetString("home"), "config", ConfigFileName)
	if _, err := os.Stat(path); err == nil {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read %s: %w", path, err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("stat %s: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.Home == "" {
		return fmt.Errorf("home must be set")
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid log_level %q: %w", c.LogLevel, err)
	}
	if c.ABCI.Addr == "" {
		return fmt.Errorf("abci.addr must be set")
	}
	switch c.ABCI.Transport {
	case "socket", "grpc":
	default:
		return fmt.Errorf("invalid abci.transport %q (socket|grpc)", c.ABCI.Transport)
	}
	switch c.DB.Backend {
	case "goleveldb", "memdb":
	default:
		return fmt.Errorf("invalid db.backend %q (goleveldb|memdb)", c.DB.Backend)
	}
	if c.DB.Name == "" {
		return fmt.Errorf("db.name must be set")
	}
	if c.API.Enabled && c.API.Addr == "" {
		return fmt.Errorf("api.addr must be set when the API is enabled")
	}
	if err := c.Game.Params().Validate(); err != nil {
		return fmt.Errorf("game: %w", err)
	}
	return nil
}

// DataDir is where the state database lives.
func (c Config) DataDir() string {
	return filepath.Join(c.Home, "data")
}

// Level returns the parsed log level.
func (c Config) Level() zerolog.Level {
	lvl, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil {
		return zerolog.InfoLevel
	}
	return lvl
}
