package testing

import (
	"github.com/dargueta/flashfs/engine"
)

// CountingDriver wraps another driver and counts the lifecycle calls made on
// the engines it creates. It can also make Mount or Format fail without
// calling the wrapped engine, and make Unmount report failure after the wrapped
// engine has unmounted.
type CountingDriver struct {
	engine.Driver

	NewEngines int
	Formats    int
	Mounts     int
	Unmounts   int
	Releases   int

	// MountStatus, if nonzero, is returned by Mount instead of mounting.
	MountStatus engine.Status
	// FormatStatus, if nonzero, is returned by Format instead of formatting.
	FormatStatus engine.Status
	// UnmountStatus, if nonzero, is returned by Unmount after the wrapped
	// engine is unmounted.
	UnmountStatus engine.Status
}

// NewCountingDriver wraps `driver`.
func NewCountingDriver(driver engine.Driver) *CountingDriver {
	return &CountingDriver{Driver: driver}
}

func (d *CountingDriver) NewEngine(cfg *engine.Config) engine.Engine {
	d.NewEngines++
	return &countingEngine{Engine: d.Driver.NewEngine(cfg), driver: d}
}

// Ledger returns the wrapped driver's ledger, or nil if it doesn't keep one.
func (d *CountingDriver) Ledger() *engine.Ledger {
	accountant, ok := d.Driver.(engine.Accountant)
	if !ok {
		return nil
	}
	return accountant.Ledger()
}

// LiveEngines gives the number of engines created and not yet released.
func (d *CountingDriver) LiveEngines() int {
	return d.NewEngines - d.Releases
}

type countingEngine struct {
	engine.Engine
	driver *CountingDriver
}

func (e *countingEngine) Format() engine.Status {
	e.driver.Formats++
	if e.driver.FormatStatus != engine.OK {
		return e.driver.FormatStatus
	}
	return e.Engine.Format()
}

func (e *countingEngine) Mount() engine.Status {
	e.driver.Mounts++
	if e.driver.MountStatus != engine.OK {
		return e.driver.MountStatus
	}
	return e.Engine.Mount()
}

func (e *countingEngine) Unmount() engine.Status {
	e.driver.Unmounts++
	status := e.Engine.Unmount()
	if e.driver.UnmountStatus != engine.OK {
		return e.driver.UnmountStatus
	}
	return status
}

func (e *countingEngine) Release() {
	e.driver.Releases++
	e.Engine.Release()
}
