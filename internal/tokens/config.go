package tokens

import (
	"errors"
	"fmt"
)

const (
	minSecretLength = 32

	defaultIssuer           = "authsession"
	defaultDenylistCapacity = 100000
)

type Config struct {
	// Secret is the HS256 signing key. At least 32 bytes.
	Secret string `yaml:"secret"`
	Issuer string `yaml:"issuer"`

	// DenylistCapacity bounds how many revoked access tokens are remembered.
	DenylistCapacity int64 `yaml:"denylist_capacity"`
}

func (c *Config) applyDefaults() {
	if c.Issuer == "" {
		c.Issuer = defaultIssuer
	}
	if c.DenylistCapacity <= 0 {
		c.DenylistCapacity = defaultDenylistCapacity
	}
}

func (c *Config) Validate() error {
	c.applyDefaults()

	if c.Secret == "" {
		return errors.New("tokens: secret is required")
	}
	if len(c.Secret) < minSecretLength {
		return fmt.Errorf("tokens: secret must be at least %d bytes", minSecretLength)
	}
	return nil
}
