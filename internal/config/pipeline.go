package config

import (
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// PipelineConfig tunes the reconciliation pipeline. It is read from
// pipeline.yml and reloaded when the file changes.
type PipelineConfig struct {
	PageSize   int            `mapstructure:"pageSize"`
	Workers    int            `mapstructure:"workers"`
	Phases     []string       `mapstructure:"phases"`
	JobTimeout time.Duration  `mapstructure:"jobTimeout"`
	Report     ReportSettings `mapstructure:"report"`
}

type ReportSettings struct {
	Recipients []string `mapstructure:"recipients"`
	ChunkSize  int      `mapstructure:"chunkSize"`
}

func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		PageSize:   100,
		Workers:    4,
		Phases:     nil,
		JobTimeout: time.Hour,
		Report: ReportSettings{
			ChunkSize: 500,
		},
	}
}

func (c PipelineConfig) withDefaults() PipelineConfig {
	defaults := DefaultPipelineConfig()
	if c.PageSize == 0 {
		c.PageSize = defaults.PageSize
	}
	if c.Workers == 0 {
		c.Workers = defaults.Workers
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaults.JobTimeout
	}
	if c.Report.ChunkSize == 0 {
		c.Report.ChunkSize = defaults.Report.ChunkSize
	}
	return c
}

type PipelineConfigHolder struct {
	current atomic.Value // holds PipelineConfig
}

// NewStaticPipelineConfigHolder wraps a fixed config, mostly for tests.
func NewStaticPipelineConfigHolder(cfg PipelineConfig) *PipelineConfigHolder {
	holder := &PipelineConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func NewPipelineConfigHolder(log *zap.Logger) (*PipelineConfigHolder, error) {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("config.pipeline")
	v := viper.New()

	v.SetConfigName("pipeline")
	v.SetConfigType("yml")
	v.AddConfigPath("/etc/catalogue")
	v.AddConfigPath(".")

	v.SetEnvPrefix("CATALOGUE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultPipelineConfig()
	v.SetDefault("pipeline.pageSize", defaults.PageSize)
	v.SetDefault("pipeline.workers", defaults.Workers)
	v.SetDefault("pipeline.jobTimeout", defaults.JobTimeout)
	v.SetDefault("pipeline.report.chunkSize", defaults.Report.ChunkSize)

	fileFound := true
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		fileFound = false
	}

	var cfg PipelineConfig
	if err := v.UnmarshalKey("pipeline", &cfg); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()
	if err := validatePipelineConfig(cfg); err != nil {
		return nil, err
	}

	holder := NewStaticPipelineConfigHolder(cfg)
	if !fileFound {
		return holder, nil
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated PipelineConfig
		if err := v.UnmarshalKey("pipeline", &updated); err != nil {
			log.Warn("reload failed", zap.Error(err))
			return
		}
		updated = updated.withDefaults()
		if err := validatePipelineConfig(updated); err != nil {
			log.Warn("invalid config ignored", zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("reloaded", zap.String("file", e.Name))
	})

	return holder, nil
}

func (h *PipelineConfigHolder) Get() PipelineConfig {
	return h.current.Load().(PipelineConfig)
}

func validatePipelineConfig(cfg PipelineConfig) error {
	if cfg.PageSize <= 0 {
		return errors.New("pipeline.pageSize must be positive")
	}
	if cfg.Workers <= 0 {
		return errors.New("pipeline.workers must be positive")
	}
	if cfg.Report.ChunkSize <= 0 {
		return errors.New("pipeline.report.chunkSize must be positive")
	}
	for _, phase := range cfg.Phases {
		if strings.TrimSpace(phase) == "" {
			return errors.New("pipeline.phases cannot contain empty names")
		}
	}
	return nil
}
