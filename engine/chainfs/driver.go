package chainfs

import (
	"github.com/dargueta/flashfs/engine"
	"go.uber.org/zap"
)

var (
	_ engine.Driver     = (*Driver)(nil)
	_ engine.Accountant = (*Driver)(nil)
	_ engine.Engine     = (*Engine)(nil)
	_ engine.File       = (*File)(nil)
	_ engine.Dir        = (*Dir)(nil)
)

// Driver creates chainfs engine instances and accounts for every native
// object they hand out.
type Driver struct {
	ledger       engine.Ledger
	logger       *zap.Logger
	maxOpenFiles int
}

// Option configures a [Driver].
type Option func(*Driver)

// WithLogger sets the logger engines created by the driver report to.
func WithLogger(logger *zap.Logger) Option {
	return func(d *Driver) {
		d.logger = logger
	}
}

// WithMaxOpenFiles limits the number of files one engine instance can have
// open at once. Opening more fails with [errors.EMFILE]. Zero means no limit.
func WithMaxOpenFiles(n int) Option {
	return func(d *Driver) {
		d.maxOpenFiles = n
	}
}

// New creates a driver.
func New(options ...Option) *Driver {
	driver := &Driver{logger: zap.NewNop()}
	for _, option := range options {
		option(driver)
	}
	return driver
}

// NewEngine implements [engine.Driver].
func (d *Driver) NewEngine(cfg *engine.Config) engine.Engine {
	d.ledger.Acquire(engine.KindEngine)
	return &Engine{
		driver:    d,
		cfg:       cfg,
		logger:    d.logger.With(zap.Uint32("block_size", cfg.BlockSize)),
		openFiles: make(map[*File]struct{}),
		openDirs:  make(map[*Dir]struct{}),
	}
}

// Ledger implements [engine.Accountant].
func (d *Driver) Ledger() *engine.Ledger {
	return &d.ledger
}
