package odm

import "log/slog"

// Config holds configuration for a DB.
type Config struct {
	// PrimaryKey is the default primary key field of new models.
	// Default: "id"
	PrimaryKey string

	// Logger receives setup, cascade and feed diagnostics.
	// Default: slog.Default()
	Logger *slog.Logger

	// SkipPostValidation disables validating the stored result of Update and
	// reverting it when invalid.
	SkipPostValidation bool
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		PrimaryKey: "id",
		Logger:     slog.Default(),
	}
}

// validate fills in defaults.
func (c *Config) validate() {
	if c.PrimaryKey == "" {
		c.PrimaryKey = "id"
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}
