package idgen

import (
	"fmt"
)

// DefaultEpochMillis is 2024-01-01T00:00:00Z.
const DefaultEpochMillis int64 = 1704067200000

type Config struct {
	DatacenterID int64 `yaml:"datacenter_id"`
	WorkerID     int64 `yaml:"worker_id"`

	// EpochMillis is the custom epoch in unix milliseconds. 0 means
	// DefaultEpochMillis.
	EpochMillis int64 `yaml:"epoch_millis"`
}

func (c *Config) applyDefaults() {
	if c.EpochMillis == 0 {
		c.EpochMillis = DefaultEpochMillis
	}
}

func (c *Config) Validate() error {
	c.applyDefaults()

	if c.DatacenterID < 0 || c.DatacenterID > maxDatacenterID {
		return fmt.Errorf("%w: datacenter_id %d out of range [0,%d]", ErrInvalidConfig, c.DatacenterID, maxDatacenterID)
	}
	if c.WorkerID < 0 || c.WorkerID > maxWorkerID {
		return fmt.Errorf("%w: worker_id %d out of range [0,%d]", ErrInvalidConfig, c.WorkerID, maxWorkerID)
	}
	if c.EpochMillis < 0 {
		return fmt.Errorf("%w: negative epoch_millis", ErrInvalidConfig)
	}
	return nil
}
