package blockalloc

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/garethgeorge/goaccession/internal/logger"
	"github.com/garethgeorge/goaccession/internal/reusepool"
)

const DefaultBlockSize = 1000

type Config struct {
	blockSize int64
	logger    logger.Logger
	pool      *reusepool.Pool
}

func (c *Config) validate() error {
	if c.blockSize <= 0 {
		return fmt.Errorf("invalid block size %d, must be positive", c.blockSize)
	}
	if c.logger == nil {
		return errors.New("missing logger")
	}
	return nil
}

type Option func(cfg *Config)

func defaultOptions() *Config {
	return applyOptions(&Config{},
		WithBlockSize(DefaultBlockSize),
		WithNoopLogger(),
	)
}

func applyOptions(cfg *Config, opts ...Option) *Config {
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// WithBlockSize sets how many identifiers are leased from the counter at a time.
func WithBlockSize(n int64) Option {
	return func(cfg *Config) {
		cfg.blockSize = n
	}
}

func WithLogger(l logger.Logger) Option {
	return func(cfg *Config) {
		cfg.logger = l
	}
}

func WithNoopLogger() Option {
	return WithLogger(logger.Noop{})
}

func WithDefaultSlog() Option {
	return WithSlog(slog.Default())
}

func WithSlog(log *slog.Logger) Option {
	return WithLogger(logger.NewSlog(log))
}

// WithPool uses an existing reuse pool, e.g. one restored from a checkpoint.
func WithPool(pool *reusepool.Pool) Option {
	return func(cfg *Config) {
		cfg.pool = pool
	}
}
