package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v2"

	"github.com/charleshuang3/authsession/internal/gormw"
	"github.com/charleshuang3/authsession/internal/handlers/firewall"
	"github.com/charleshuang3/authsession/internal/idgen"
	"github.com/charleshuang3/authsession/internal/locker"
	"github.com/charleshuang3/authsession/internal/outbox"
	"github.com/charleshuang3/authsession/internal/session"
	"github.com/charleshuang3/authsession/internal/sweeper"
	"github.com/charleshuang3/authsession/internal/tokens"
	"github.com/charleshuang3/authsession/internal/users"
)

var (
	logger = log.With().Str("component", "config").Logger()
)

type Config struct {
	Port    uint   `yaml:"port"`
	GinMode string `yaml:"gin_mode"`

	DB      gormw.Config   `yaml:"db"`
	IDGen   idgen.Config   `yaml:"idgen"`
	Token   tokens.Config  `yaml:"token"`
	Session session.Config `yaml:"session"`
	Users   users.Config   `yaml:"users"`
	Sweeper sweeper.Config `yaml:"sweeper"`
	Lock    locker.Config  `yaml:"lock"`
	Outbox  outbox.Config  `yaml:"outbox"`

	// Firewall is optional, requests are not screened without it.
	Firewall *firewall.FirewallConfig `yaml:"firewall,omitempty"`
}

// LoadConfig reads and validates the config file, exits on any error.
func LoadConfig(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		logger.Fatal().Err(err).Msgf("failed to load config file: %s", path)
	}
	return cfg
}

// Load reads the config file and fills defaults.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	if err := decoder.Decode(cfg); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Port == 0 {
		return errors.New("port is missing")
	}

	if c.GinMode == "" {
		return errors.New("gin_mode is missing")
	}

	validators := []interface{ Validate() error }{
		&c.IDGen, &c.Token, &c.Session, &c.Users, &c.Sweeper, &c.Lock, &c.Outbox,
	}
	if c.Firewall != nil {
		validators = append(validators, c.Firewall)
	}
	for _, v := range validators {
		if err := v.Validate(); err != nil {
			return err
		}
	}
	return nil
}
