package config

import (
	"log"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`
	Postgres struct {
		URL string `yaml:"url"`
	} `yaml:"postgres"`
	Broker struct {
		URL      string `yaml:"url"`
		Exchange string `yaml:"exchange"`
	} `yaml:"broker"`
	Catalog struct {
		TTL string `yaml:"ttl"`
	} `yaml:"catalog"`
	Deadline struct {
		Ceiling string `yaml:"ceiling"`
		Grace   string `yaml:"grace"`
		MinTTL  string `yaml:"minTtl"`
	} `yaml:"deadline"`
	Expiry struct {
		Interval string `yaml:"interval"`
		Batch    int    `yaml:"batch"`
	} `yaml:"expiry"`
	Outbox struct {
		Interval    string `yaml:"interval"`
		Batch       int    `yaml:"batch"`
		StaleLease  string `yaml:"staleLease"`
		BackoffBase string `yaml:"backoffBase"`
		BackoffCap  string `yaml:"backoffCap"`
	} `yaml:"outbox"`
}

// Load reads YAML config from path.
func Load(path string) (Config, error) {
	cfg := Config{}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Duration parses a duration string, returning the fallback if the value is
// empty. A malformed value also falls back, but loudly: a typo must not
// silently change an operational knob.
func Duration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		log.Printf("config: invalid duration %q, using %v: %v", raw, fallback, err)
		return fallback
	}
	return d
}
