package app

import (
	"os"
	"strings"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"

	"github.com/shopengine/discount/internal/domain/discount"
)

// Config holds the complete application configuration, loadable from
// environment variables (DISCOUNT_ prefix), flags, or YAML config files.
type Config struct {
	Addr        string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL string `usage:"PostgreSQL connection URL (DISCOUNT_DATABASE_URL or DATABASE_URL)" flag:"database-url"`

	// ProductFilters restricts which products a discount kind may apply
	// to. Each entry reads kind:field=value, e.g.
	// "bulk_item:category=sale". Applied once at startup.
	ProductFilters []string `usage:"Product eligibility filters (kind:field=value)" flag:"product-filters"`

	CORS     CORSConfig
	Graceful GracefulConfig
}

// CORSConfig controls Cross-Origin Resource Sharing headers.
type CORSConfig struct {
	Origins []string `default:"*" usage:"Allowed CORS origins"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from environment variables, YAML config
// files, and applies platform-provided defaults.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "DISCOUNT",
		Files:     []string{"config.yaml", "/etc/discount/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if cfg.DatabaseURL == "" {
		return nil, errors.New("database URL is required: set DISCOUNT_DATABASE_URL or DATABASE_URL")
	}

	return &cfg, nil
}

// applyPlatformDefaults maps standard platform environment variables
// (DATABASE_URL, PORT) onto the DISCOUNT_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		if v := os.Getenv("DATABASE_URL"); v != "" {
			c.DatabaseURL = v
		}
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == "0.0.0.0:8080" {
		c.Addr = "0.0.0.0:" + port
	}
}

// buildRegistry parses the configured filter rules into the startup-populated
// product filter registry.
func buildRegistry(rules []string) (*discount.Registry, error) {
	registry := discount.NewRegistry()
	for _, rule := range rules {
		kindPart, fieldPart, ok := strings.Cut(rule, ":")
		if !ok {
			return nil, errors.Errorf("malformed product filter %q: want kind:field=value", rule)
		}
		field, value, ok := strings.Cut(fieldPart, "=")
		if !ok {
			return nil, errors.Errorf("malformed product filter %q: want kind:field=value", rule)
		}

		kind := discount.Kind(kindPart)
		if !kind.Valid() {
			return nil, errors.Errorf("product filter %q: unknown discount kind %q", rule, kindPart)
		}
		registry.Register(kind, discount.FieldMatch(map[string]string{field: value}))
	}
	return registry, nil
}
