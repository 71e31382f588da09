package sqlbackend

import "fmt"

// Config holds SQL backend construction parameters (spec §4.4, §6.4).
type Config struct {
	DatabaseURL string

	PoolMinSize int
	PoolMaxSize int

	// UseCopyThreshold is the batch size at or above which Write switches
	// from prepared multi-row insert to the staging-table COPY path.
	UseCopyThreshold int
}

// DefaultConfig returns the defaults named in spec §4.4/§6.4.
func DefaultConfig() Config {
	return Config{
		PoolMinSize:      5,
		PoolMaxSize:      20,
		UseCopyThreshold: 100,
	}
}

func (c Config) validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("sqlbackend: database_url is required")
	}
	return nil
}
