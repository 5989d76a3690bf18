package dynamo

import "time"

// Config holds configuration for the Store.
type Config struct {
	// TablePrefix is prepended to every table name.
	// Default: "" (no prefix)
	TablePrefix string

	// PublishWrites delivers the store's own writes to change feeds opened on
	// it. Disable it when changes arrive through the stream handler instead.
	// Default: true
	PublishWrites *bool

	// IndexPollInterval is how often index creation is polled for completion.
	// Default: 5s
	IndexPollInterval time.Duration

	// TableWaitTimeout bounds the wait for a new table to become active.
	// Default: 5m
	TableWaitTimeout time.Duration

	// MaxTransactItems is the largest number of rows written in one
	// transaction by a multi-row insert.
	// Default: 100
	// Max: 100
	MaxTransactItems int
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	publish := true
	return Config{
		PublishWrites:     &publish,
		IndexPollInterval: 5 * time.Second,
		TableWaitTimeout:  5 * time.Minute,
		MaxTransactItems:  100,
	}
}

// validate fills in defaults and clamps values to DynamoDB limits.
func (c *Config) validate() {
	if c.PublishWrites == nil {
		publish := true
		c.PublishWrites = &publish
	}
	if c.IndexPollInterval <= 0 {
		c.IndexPollInterval = 5 * time.Second
	}
	if c.TableWaitTimeout <= 0 {
		c.TableWaitTimeout = 5 * time.Minute
	}
	if c.MaxTransactItems < 1 || c.MaxTransactItems > 100 {
		c.MaxTransactItems = 100
	}
}
