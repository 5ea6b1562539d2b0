package config

import (
	"fmt"
	"reflect"
	"strings"

	"doc-reconciler/core/bus"
	"doc-reconciler/core/database"
	"doc-reconciler/core/extract"
	"doc-reconciler/core/logger"
	"doc-reconciler/core/reconcile"
	"doc-reconciler/core/server"
	"doc-reconciler/core/storage"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
// It is divided into partial configurations for better modularity.
type Config struct {
	// Storage holds configuration for the object store holding the documents.
	Storage storage.Config `mapstructure:"storage"`
	// Bus holds configuration for the message bus.
	Bus bus.Config `mapstructure:"bus"`
	// Reconcile holds configuration for the ingest pass, the sweep and the loop.
	Reconcile reconcile.Config `mapstructure:"reconcile"`
	// Extract holds configuration for content extraction.
	Extract extract.Config `mapstructure:"extract"`
	// Log holds configuration for the logger.
	Log logger.Config `mapstructure:"log"`
	// Database holds configuration for the optional cycle history database.
	Database database.Config `mapstructure:"database"`
	// Server holds configuration for the optional status HTTP server.
	Server server.Config `mapstructure:"server"`
}

// LoadConfig loads configuration from environment variables and .env file.
func LoadConfig(path string) (*Config, error) {
	// 1. Load .env file if it exists
	// We construct the path to .env
	envPath := path + "/.env"
	if path == "." {
		envPath = ".env"
	}

	// Ignore error if file doesn't exist (e.g. production)
	_ = godotenv.Overload(envPath)

	v := viper.New()

	// Recursively parse struct tags to set default values
	bindValues(v, Config{}, "")

	// Map environment variables to nested keys (e.g. SERVER_PORT -> server.port)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate checks settings that have no usable default.
func (c *Config) Validate() error {
	if c.Storage.Bucket == "" {
		return fmt.Errorf("storage bucket is required")
	}
	if c.Reconcile.MarkerPrefix == "" {
		return fmt.Errorf("reconcile marker prefix is required")
	}
	if c.Reconcile.Workers < 1 {
		return fmt.Errorf("reconcile workers must be at least 1, got %d", c.Reconcile.Workers)
	}
	if c.Reconcile.Schedule == "" && c.Reconcile.PollIntervalSeconds < 1 {
		return fmt.Errorf("reconcile poll interval must be at least 1 second")
	}
	switch c.Bus.Driver {
	case bus.DriverAMQP, bus.DriverNATS:
	default:
		return fmt.Errorf("unsupported bus driver: %s", c.Bus.Driver)
	}
	return c.Server.Validate()
}

// bindValues uses reflection to iterate over the struct and set default values in Viper
// based on the 'default' and 'mapstructure' tags.
func bindValues(v *viper.Viper, iface any, prefix string) {
	t := reflect.TypeOf(iface)

	// If it's a pointer, get the element
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		tag := field.Tag.Get("mapstructure")

		// Skip if no tag
		if tag == "" {
			continue
		}

		// Build the key
		key := tag
		if prefix != "" {
			key = prefix + "." + tag
		}

		// If it's a nested struct, recurse
		if field.Type.Kind() == reflect.Struct {
			bindValues(v, reflect.New(field.Type).Elem().Interface(), key)
			continue
		}

		defaultValue := field.Tag.Get("default")
		// Always set default (even if empty) to register the key for AutomaticEnv
		v.SetDefault(key, defaultValue)
	}
}
