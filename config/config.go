package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	PropertyID string         `yaml:"property_id"`
	Web        WebConfig      `yaml:"web"`
	Database   DatabaseConfig `yaml:"database"`
	Redis      RedisConfig    `yaml:"redis"`
	Location   LocationConfig `yaml:"location"`
	Notify     NotifyConfig   `yaml:"notify"`
	Session    SessionConfig  `yaml:"session"`
	Geofence   GeofenceConfig `yaml:"geofence"`
	Booking    BookingConfig  `yaml:"booking"`
}

type WebConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type DatabaseConfig struct {
	Driver   string         `yaml:"driver"` // "sqlite" or "postgres"
	SQLite   SQLiteConfig   `yaml:"sqlite"`
	Postgres PostgresConfig `yaml:"postgres"`
}

type SQLiteConfig struct {
	Path string `yaml:"path"`
}

type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"sslmode"`
}

type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// LocationConfig controls the inbound position-sample feed.
type LocationConfig struct {
	Broker         string        `yaml:"broker"` // MQTT broker URL, e.g. tcp://localhost:1883
	ClientID       string        `yaml:"client_id"`
	Username       string        `yaml:"username"`
	Password       string        `yaml:"password"`
	SampleTopic    string        `yaml:"sample_topic"` // e.g. "guests/+/position"
	MinInterval    time.Duration `yaml:"min_interval"` // rate limit between evaluations per guest
	StalenessLimit time.Duration `yaml:"staleness_limit"`
}

type NotifyConfig struct {
	Brokers       []string      `yaml:"brokers"`
	Topic         string        `yaml:"topic"`
	DrainInterval time.Duration `yaml:"drain_interval"`
}

type SessionConfig struct {
	Secret            string `yaml:"secret"`
	AdminPasswordHash string `yaml:"admin_password_hash"` // bcrypt
}

// GeofenceConfig carries the zone set and the trigger rules, both configuration
// inputs rather than hardcoded values.
type GeofenceConfig struct {
	Zones    []ZoneConfig  `yaml:"zones"`
	Triggers []TriggerRule `yaml:"triggers"`
}

type ZoneConfig struct {
	ID           string            `yaml:"id"`
	Name         string            `yaml:"name"`
	Kind         string            `yaml:"kind"` // lodging, dining, airport, venue, custom
	Lat          float64           `yaml:"lat"`
	Lon          float64           `yaml:"lon"`
	RadiusMeters float64           `yaml:"radius_meters"`
	Metadata     map[string]string `yaml:"metadata"`
}

// TriggerRule maps a zone-transition to a state action, e.g. entering a lodging
// zone enables room delivery.
type TriggerRule struct {
	ZoneKind string `yaml:"zone_kind"`
	On       string `yaml:"on"` // "enter" or "exit"
	Action   string `yaml:"action"`
}

type BookingConfig struct {
	HoldTTL     time.Duration `yaml:"hold_ttl"`
	SweepEvery  time.Duration `yaml:"sweep_every"`
	CatalogPath string        `yaml:"catalog_path"`
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func Default() *Config {
	return &Config{
		PropertyID: "property-1",
		Web:        WebConfig{Host: "0.0.0.0", Port: 8080},
		Database: DatabaseConfig{
			Driver: "sqlite",
			SQLite: SQLiteConfig{Path: "guestcore.db"},
		},
		Redis: RedisConfig{Address: "localhost:6379"},
		Location: LocationConfig{
			Broker:         "tcp://localhost:1883",
			ClientID:       "guestcore",
			SampleTopic:    "guests/+/position",
			MinInterval:    2 * time.Second,
			StalenessLimit: 30 * time.Second,
		},
		Notify: NotifyConfig{
			Brokers:       []string{"localhost:9092"},
			Topic:         "guestcore.events",
			DrainInterval: 5 * time.Second,
		},
		Booking: BookingConfig{
			HoldTTL:    5 * time.Minute,
			SweepEvery: 15 * time.Second,
		},
	}
}

func (c *Config) validate() error {
	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported database driver: %s", c.Database.Driver)
	}
	for _, z := range c.Geofence.Zones {
		if z.ID == "" {
			return fmt.Errorf("zone %q missing id", z.Name)
		}
		if z.RadiusMeters <= 0 {
			return fmt.Errorf("zone %s: radius must be positive", z.ID)
		}
	}
	for _, t := range c.Geofence.Triggers {
		if t.On != "enter" && t.On != "exit" {
			return fmt.Errorf("trigger for kind %s: on must be enter or exit", t.ZoneKind)
		}
	}
	if c.Booking.HoldTTL <= 0 {
		c.Booking.HoldTTL = 5 * time.Minute
	}
	return nil
}

// Save writes the config back to disk.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
