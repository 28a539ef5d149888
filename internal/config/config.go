package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
)

// Config holds the complete terminal configuration, loadable from
// environment variables (TERMINAL_ prefix), flags, or a YAML file.
type Config struct {
	Addr       string `default:"0.0.0.0:8090" usage:"terminal API listen address"`
	BackendURL string `usage:"kiwari backend base URL (e.g. https://api.example.com)" flag:"backend-url"`
	SocketURL  string `usage:"backend websocket URL; derived from backend-url when empty" flag:"socket-url"`
	AuthToken  string `usage:"bearer token attached to every backend request" flag:"auth-token"`

	// TableCount is the size of the floor plan used for move/merge target
	// grids. Configurable on purpose: venue sizes differ.
	TableCount int `default:"20" usage:"number of tables in the floor plan" flag:"table-count"`

	// MergeWait bounds how long a merge waits for the order_merged
	// broadcast before falling back to the synchronous response.
	MergeWait time.Duration `default:"1500ms" usage:"max wait for the order_merged broadcast" flag:"merge-wait"`

	CORS      CORSConfig
	Kitchen   KitchenConfig
	AutoClose AutoCloseConfig
}

// CORSConfig controls Cross-Origin Resource Sharing for the local UI API.
type CORSConfig struct {
	Origins []string `default:"*" usage:"allowed CORS origins"`
}

// KitchenConfig lists products and categories that never pass through the
// kitchen and are therefore skipped by the close-guard delivery check.
type KitchenConfig struct {
	ExcludedItems      []string `usage:"product names excluded from the kitchen delivery check" flag:"kitchen-excluded-items"`
	ExcludedCategories []string `usage:"categories excluded from the kitchen delivery check" flag:"kitchen-excluded-categories"`
}

// AutoCloseConfig controls closing an order automatically once it is fully
// paid. PacketMethods empty means any payment method may auto-close a
// packet-type order.
type AutoCloseConfig struct {
	TableAfterPay  bool     `default:"false" usage:"close table orders automatically after full payment" flag:"auto-close-table"`
	PacketAfterPay bool     `default:"false" usage:"close packet/phone orders automatically after full payment" flag:"auto-close-packet"`
	PacketMethods  []string `usage:"payment methods allowed to auto-close packet orders (empty allows all)" flag:"auto-close-packet-methods"`
}

// Load reads configuration from env, flags, and config.yaml.
func Load() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "TERMINAL",
		Files:     []string{"config.yaml", "/etc/kiwari-terminal/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	if cfg.BackendURL == "" {
		return nil, fmt.Errorf("backend URL is required: set TERMINAL_BACKEND_URL or --backend-url")
	}
	cfg.BackendURL = strings.TrimRight(cfg.BackendURL, "/")

	if cfg.SocketURL == "" {
		cfg.SocketURL = deriveSocketURL(cfg.BackendURL)
	}
	if cfg.TableCount <= 0 {
		return nil, fmt.Errorf("table count must be positive, got %d", cfg.TableCount)
	}

	return &cfg, nil
}

// deriveSocketURL maps the REST base URL to its websocket sibling
// (http -> ws, https -> wss) on the conventional /socket path.
func deriveSocketURL(backendURL string) string {
	socket := backendURL
	switch {
	case strings.HasPrefix(socket, "https://"):
		socket = "wss://" + strings.TrimPrefix(socket, "https://")
	case strings.HasPrefix(socket, "http://"):
		socket = "ws://" + strings.TrimPrefix(socket, "http://")
	}
	return socket + "/socket"
}
