package core

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config contains all of the configuration options available to the echo
// server and its supporting utilities.
type Config struct {
	// Host and port on which the server will listen for connections.
	Address string `mapstructure:"address"`
	// Number of workers available for handling connections concurrently.
	NumWorkers int `mapstructure:"num_workers"`
	// Size of the single read performed on each connection. Anything the
	// client sends past this boundary is dropped.
	ReadBufferSize int `mapstructure:"read_buffer_size"`
	// How long the accept loop waits for a connection before checking
	// whether it has been asked to stop.
	PollInterval time.Duration `mapstructure:"poll_interval"`

	Logging struct {
		// Minimum level of a log required to be written. Options: debug, info, warn, error
		LogLevel string `mapstructure:"log_level"`
		// Full path to file to which logs will be written. Blank will write to stdout.
		LogFilePath string `mapstructure:"log_file_path"`
		// Include the calling function in log entries.
		IncludeCaller bool `mapstructure:"include_caller"`
	} `mapstructure:"logging"`

	Metrics struct {
		// Expose Prometheus metrics over HTTP.
		Enabled bool `mapstructure:"enabled"`
		// Address on which the /metrics endpoint is served.
		Address string `mapstructure:"address"`
	} `mapstructure:"metrics"`

	Debugging struct {
		// Enable extra info-providing mechanisms for the server.
		Enabled bool `mapstructure:"enabled"`
		// Port on which a pprof server will be started if debug mode is enabled.
		PprofPort int `mapstructure:"pprof_port"`
		// Dump the raw and decoded contents of every message to the log.
		PacketLoggingEnabled bool `mapstructure:"packet_logging_enabled"`
	} `mapstructure:"debugging"`
}

const envVarPrefix = "ECHOD"

var defaults = map[string]interface{}{
	"address":                          "127.0.0.1:8080",
	"num_workers":                      4,
	"read_buffer_size":                 512,
	"poll_interval":                    10 * time.Millisecond,
	"logging.log_level":                "info",
	"logging.log_file_path":            "",
	"logging.include_caller":           false,
	"metrics.enabled":                  false,
	"metrics.address":                  "127.0.0.1:9090",
	"debugging.enabled":                false,
	"debugging.pprof_port":             4000,
	"debugging.packet_logging_enabled": false,
}

// LoadConfig reads the config file in configPath (if there is one) on top of the
// defaults and applies any overrides from the environment.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}

	v.AddConfigPath(configPath)
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.SetEnvPrefix(envVarPrefix)
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	// This allows us to set nested yaml config options through environment
	// variables. For example, logging.log_level can be set using: <envVarPrefix>_LOGGING_LOG_LEVEL
	for _, k := range v.AllKeys() {
		envVar := strings.ReplaceAll(strings.ToUpper(k), ".", "_")
		if err := v.BindEnv(k, envVarPrefix+"_"+envVar); err != nil {
			return nil, fmt.Errorf("error binding %s to %s: %w", k, envVarPrefix+"_"+envVar, err)
		}
	}

	config := &Config{}
	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config object: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate checks the values that the server cannot start without.
func (c *Config) Validate() error {
	switch {
	case c.Address == "":
		return errors.New("invalid config: address must not be empty")
	case c.NumWorkers < 1:
		return fmt.Errorf("invalid config: num_workers must be at least 1, got %d", c.NumWorkers)
	case c.ReadBufferSize < 1:
		return fmt.Errorf("invalid config: read_buffer_size must be at least 1, got %d", c.ReadBufferSize)
	case c.PollInterval <= 0:
		return fmt.Errorf("invalid config: poll_interval must be positive, got %v", c.PollInterval)
	}
	return nil
}

// PprofAddress returns the localhost address of the pprof server.
func (c *Config) PprofAddress() string {
	return fmt.Sprintf("localhost:%d", c.Debugging.PprofPort)
}
