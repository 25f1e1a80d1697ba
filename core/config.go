package core

import (
	"fmt"
	"strings"
	"time"
)

type ImportConfig struct {
	PageSize int `koanf:"page_size" mapstructure:"page_size"`
}

type ExportConfig struct {
	BatchSize      int           `koanf:"batch_size" mapstructure:"batch_size"`
	MaxParallelism int           `koanf:"max_parallelism" mapstructure:"max_parallelism"`
	MaxRetries     int           `koanf:"max_retries" mapstructure:"max_retries"`
	InitialBackoff time.Duration `koanf:"initial_backoff" mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration `koanf:"max_backoff" mapstructure:"max_backoff"`
}

type ReferenceConfig struct {
	SweepLimit int `koanf:"sweep_limit" mapstructure:"sweep_limit"`
}

type Config struct {
	ServiceName string          `koanf:"service_name" mapstructure:"service_name"`
	Import      ImportConfig    `koanf:"import" mapstructure:"import"`
	Export      ExportConfig    `koanf:"export" mapstructure:"export"`
	References  ReferenceConfig `koanf:"references" mapstructure:"references"`
}

func DefaultConfig() Config {
	return Config{
		ServiceName: "metasync",
		Import: ImportConfig{
			PageSize: 500,
		},
		Export: ExportConfig{
			BatchSize:      100,
			MaxParallelism: 1,
			MaxRetries:     5,
			InitialBackoff: 30 * time.Second,
			MaxBackoff:     15 * time.Minute,
		},
		References: ReferenceConfig{
			SweepLimit: 1000,
		},
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ServiceName) == "" {
		return fmt.Errorf("core: service_name is required")
	}
	if c.Import.PageSize <= 0 {
		return fmt.Errorf("core: import.page_size must be positive")
	}
	if c.Export.BatchSize <= 0 {
		return fmt.Errorf("core: export.batch_size must be positive")
	}
	if c.Export.MaxParallelism <= 0 {
		return fmt.Errorf("core: export.max_parallelism must be positive")
	}
	if c.Export.MaxRetries < 0 {
		return fmt.Errorf("core: export.max_retries must not be negative")
	}
	if c.Export.InitialBackoff <= 0 {
		return fmt.Errorf("core: export.initial_backoff must be positive")
	}
	if c.Export.MaxBackoff < c.Export.InitialBackoff {
		return fmt.Errorf("core: export.max_backoff must be at least export.initial_backoff")
	}
	if c.References.SweepLimit <= 0 {
		return fmt.Errorf("core: references.sweep_limit must be positive")
	}
	return nil
}
