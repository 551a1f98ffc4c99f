package app

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds runtime options, loaded from AMBULANDO_* environment
// variables. AppNsec is the application's fixed receiving key; when empty a
// throwaway key is generated at startup, which only suits development.
type Config struct {
	ListenAddr      string        `envconfig:"LISTEN_ADDR" default:":8090"`
	Relays          []string      `envconfig:"RELAYS" default:"wss://relay.damus.io,wss://nos.lol"`
	AppNsec         string        `envconfig:"APP_NSEC"`
	AppName         string        `envconfig:"APP_NAME" default:"Ambulando"`
	AppURL          string        `envconfig:"APP_URL" default:"https://ambulando.example"`
	AppIcon         string        `envconfig:"APP_ICON"`
	RPCTimeout      time.Duration `envconfig:"RPC_TIMEOUT" default:"30s"`
	HandshakeBudget time.Duration `envconfig:"HANDSHAKE_BUDGET" default:"2m"`
	LogLevel        string        `envconfig:"LOG_LEVEL" default:"info"`
	Home            string        `envconfig:"HOME_DIR"`
}

// LoadConfig reads configuration from the environment.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := envconfig.Process("ambulando", &cfg); err != nil {
		return Config{}, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}
