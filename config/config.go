package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"

	"github.com/goccy/go-yaml"
	"github.com/ipastusi/jsonlatch/cache"
	"github.com/ipastusi/jsonlatch/schema"
	"golang.org/x/sys/unix"
)

type CacheConfig struct {
	Policy        *string `yaml:"policy"`
	StateFileName *string `yaml:"stateFile"`
}

type ReportsConfig struct {
	Directory           *string `yaml:"directory"`
	AutoCleanupDelaySec *uint   `yaml:"autoCleanupDelaySec"`
}

type Config struct {
	SchemaFileName *string        `yaml:"schema"`
	LogFileName    *string        `yaml:"log"`
	LogLevel       *string        `yaml:"logLevel"`
	Engine         *string        `yaml:"engine"`
	MemoryLimit    *uint64        `yaml:"memoryLimit"`
	Errors         *bool          `yaml:"errors"`
	Ui             *bool          `yaml:"ui"`
	CacheConfig    *CacheConfig   `yaml:"cache"`
	ReportsConfig  *ReportsConfig `yaml:"reports"`
}

const defaultMemoryLimit = 256 << 20

func GetConfig(data []byte, schemaFile *string, log *string, errors *bool, state *string, ui *bool) (Config, error) {
	config, err := readConfig(data)
	if err != nil {
		return Config{}, err
	}
	config.applyOverrides(schemaFile, log, errors, state, ui)
	err = config.applyDefaults()
	if err != nil {
		return Config{}, err
	}
	err = config.validate()
	if err != nil {
		return Config{}, err
	}
	return config, nil
}

func readConfig(data []byte) (Config, error) {
	config := &Config{}
	err := yaml.UnmarshalWithOptions(data, config, yaml.Strict())
	if err != nil {
		return Config{}, err
	}
	return *config, nil
}

func (cfg *Config) applyOverrides(schemaFile *string, log *string, errors *bool, state *string, ui *bool) {
	if schemaFile != nil {
		cfg.SchemaFileName = schemaFile
	}
	if log != nil {
		cfg.LogFileName = log
	}
	if errors != nil {
		cfg.Errors = errors
	}
	if state != nil {
		if cfg.CacheConfig == nil {
			cfg.CacheConfig = &CacheConfig{}
		}
		cfg.CacheConfig.StateFileName = state
	}
	if ui != nil {
		cfg.Ui = ui
	}
}

func (cfg *Config) applyDefaults() error {
	defaultLog := "jsonlatch.log"
	defaultLogLevel := "info"
	defaultEngine := schema.EngineKaptinlin
	defaultPolicy := string(cache.PolicyFirst)
	memoryLimit := uint64(defaultMemoryLimit)
	no := false
	zero := uint(0)

	if cfg.LogFileName == nil {
		cfg.LogFileName = &defaultLog
	}
	if cfg.LogLevel == nil {
		cfg.LogLevel = &defaultLogLevel
	}
	if cfg.Engine == nil {
		cfg.Engine = &defaultEngine
	}
	if cfg.MemoryLimit == nil {
		cfg.MemoryLimit = &memoryLimit
	}
	if cfg.Errors == nil {
		cfg.Errors = &no
	}
	if cfg.Ui == nil {
		cfg.Ui = &no
	}
	if cfg.CacheConfig == nil {
		cfg.CacheConfig = &CacheConfig{}
	}
	if cfg.CacheConfig.Policy == nil {
		cfg.CacheConfig.Policy = &defaultPolicy
	}
	if cfg.ReportsConfig == nil {
		cfg.ReportsConfig = &ReportsConfig{}
	}
	if cfg.ReportsConfig.AutoCleanupDelaySec == nil {
		cfg.ReportsConfig.AutoCleanupDelaySec = &zero
	}

	if cfg.ReportsConfig.Directory != nil {
		reportDir, err := filepath.Abs(*cfg.ReportsConfig.Directory)
		if err != nil {
			return err
		}
		cfg.ReportsConfig.Directory = &reportDir
	}
	return nil
}

func (cfg *Config) validate() error {
	if cfg.SchemaFileName == nil || *cfg.SchemaFileName == "" {
		return fmt.Errorf("no schema file provided")
	} else if _, err := os.Stat(*cfg.SchemaFileName); err != nil {
		return fmt.Errorf("schema file does not exist: %v", *cfg.SchemaFileName)
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(*cfg.LogLevel)); err != nil {
		return fmt.Errorf("invalid log level %v: %v", *cfg.LogLevel, err)
	}

	if !slices.Contains(schema.Engines(), *cfg.Engine) {
		return fmt.Errorf("unknown engine %v, expected one of: %v", *cfg.Engine, schema.Engines())
	}

	if _, err := cache.ParsePolicy(*cfg.CacheConfig.Policy); err != nil {
		return err
	}

	// the state file is written on exit, so its directory has to take it
	if cfg.CacheConfig.StateFileName != nil && *cfg.CacheConfig.StateFileName != "" {
		stateDir := filepath.Dir(*cfg.CacheConfig.StateFileName)
		if unix.Access(stateDir, unix.W_OK) != nil {
			return fmt.Errorf("state file directory does not exist or is not writable: %v", stateDir)
		}
	}

	if cfg.ReportsConfig.Directory != nil {
		if unix.Access(*cfg.ReportsConfig.Directory, unix.W_OK) != nil {
			return fmt.Errorf("directory does not exist or is not writable: %v", *cfg.ReportsConfig.Directory)
		}
	} else if *cfg.ReportsConfig.AutoCleanupDelaySec > 0 {
		return fmt.Errorf("report cleanup configured without a report directory")
	}

	return nil
}

func (cfg Config) Level() slog.Level {
	var level slog.Level
	_ = level.UnmarshalText([]byte(*cfg.LogLevel))
	return level
}

func (cfg Config) StateFileName() string {
	if cfg.CacheConfig.StateFileName == nil {
		return ""
	}
	return *cfg.CacheConfig.StateFileName
}
