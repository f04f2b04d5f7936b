package users

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

type Config struct {
	// MaxFailedAttempts locks the account after this many wrong passwords in
	// a row.
	MaxFailedAttempts int `yaml:"max_failed_attempts"`
	LockoutMinutes    int `yaml:"lockout_minutes"`

	BcryptCost   int    `yaml:"bcrypt_cost"`
	DefaultRoles string `yaml:"default_roles"`
}

func (c *Config) applyDefaults() {
	if c.MaxFailedAttempts <= 0 {
		c.MaxFailedAttempts = 5
	}
	if c.LockoutMinutes <= 0 {
		c.LockoutMinutes = 15
	}
	if c.BcryptCost == 0 {
		c.BcryptCost = bcrypt.DefaultCost
	}
	if c.DefaultRoles == "" {
		c.DefaultRoles = "user"
	}
}

func (c *Config) Validate() error {
	c.applyDefaults()

	if c.BcryptCost < bcrypt.MinCost || c.BcryptCost > bcrypt.MaxCost {
		return fmt.Errorf("users: bcrypt_cost must be in [%d,%d]", bcrypt.MinCost, bcrypt.MaxCost)
	}
	return nil
}
