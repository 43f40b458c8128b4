// SPDX-License-Identifier: MIT
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"soundscope/internal/log"
)

// LoadConfig loads configuration from a YAML file specified by path. If path is
// empty it looks for "config.yaml" in the working directory and falls back to
// built-in defaults when none exists. Afterwards a .env file (if present) is
// loaded into the environment, ENV_* overrides are applied and the result is
// validated.
func LoadConfig(path string) (*Config, error) {
	cfg := NewConfig()

	if path == "" {
		if _, err := os.Stat("config.yaml"); err == nil {
			path = "config.yaml"
		}
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := cfg.decode(data); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Warnf("configuration: ignoring .env: %v", err)
	}
	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// decode overlays YAML onto the defaults. A bands map in the file replaces the
// default band set instead of merging into it.
func (c *Config) decode(data []byte) error {
	defaults := c.Analysis.Bands
	c.Analysis.Bands = nil
	if err := yaml.Unmarshal(data, c); err != nil {
		c.Analysis.Bands = defaults
		return err
	}
	if len(c.Analysis.Bands) == 0 {
		c.Analysis.Bands = defaults
	}
	return nil
}

// applyEnvOverrides reads ENV_* variables over whatever came from the file.
// Unparseable values are reported and ignored.
func (c *Config) applyEnvOverrides() {
	boolVar := func(name string, dst *bool) {
		if val, ok := os.LookupEnv(name); ok {
			b, err := strconv.ParseBool(val)
			if err != nil {
				log.Warnf("configuration: ignoring %s=%q: %v", name, val, err)
				return
			}
			*dst = b
			log.Debugf("configuration: overriding from %s: %v", name, b)
		}
	}
	stringVar := func(name string, dst *string) {
		if val, ok := os.LookupEnv(name); ok {
			*dst = val
			log.Debugf("configuration: overriding from %s: %s", name, val)
		}
	}
	intVar := func(name string, dst *int) {
		if val, ok := os.LookupEnv(name); ok {
			n, err := strconv.Atoi(val)
			if err != nil {
				log.Warnf("configuration: ignoring %s=%q: %v", name, val, err)
				return
			}
			*dst = n
			log.Debugf("configuration: overriding from %s: %d", name, n)
		}
	}

	boolVar("ENV_DEBUG", &c.Debug)
	stringVar("ENV_LOG_LEVEL", &c.LogLevel)

	if val, ok := os.LookupEnv("ENV_SAMPLE_RATE"); ok {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			c.Audio.SampleRate = f
		} else {
			log.Warnf("configuration: ignoring ENV_SAMPLE_RATE=%q: %v", val, err)
		}
	}
	intVar("ENV_BLOCK_SIZE", &c.Analysis.BlockSize)
	stringVar("ENV_PITCH_ALGORITHM", &c.Analysis.PitchAlgorithm)
	stringVar("ENV_BEAT_ALGORITHM", &c.Analysis.BeatAlgorithm)
	boolVar("ENV_MERGE_CHANNELS", &c.Analysis.MergeChannels)
	stringVar("ENV_GENRE_ENDPOINT", &c.Genre.Endpoint)

	boolVar("ENV_UDP_ENABLED", &c.Transport.UDPEnabled)
	stringVar("ENV_UDP_TARGET_ADDRESS", &c.Transport.UDPTargetAddress)
	if val, ok := os.LookupEnv("ENV_UDP_SEND_INTERVAL"); ok {
		if dur, err := time.ParseDuration(val); err == nil {
			c.Transport.UDPSendInterval = dur
		} else {
			log.Warnf("configuration: ignoring ENV_UDP_SEND_INTERVAL=%q: %v", val, err)
		}
	}
	boolVar("ENV_WS_ENABLED", &c.Transport.WebSocketEnabled)
}
