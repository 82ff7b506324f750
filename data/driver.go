package data

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/ncobase/telemetry/config"
)

// Driver opens a Store from configuration. Following the design pattern of
// database/sql, drivers register themselves from init functions and are
// looked up at runtime by the configured name.
type Driver interface {
	// Name returns the driver identifier used in configuration files.
	Name() string

	// Open connects, prepares the schema and returns a ready store.
	Open(ctx context.Context, cfg *config.Data) (Store, error)
}

var (
	drivers   = make(map[string]Driver)
	driversMu sync.RWMutex
)

// RegisterDriver makes a store driver available by the provided name.
// It is intended to be called from the init function in driver packages.
//
// If RegisterDriver is called twice with the same name or if driver is nil,
// it panics.
func RegisterDriver(driver Driver) {
	driversMu.Lock()
	defer driversMu.Unlock()

	if driver == nil {
		panic("data: RegisterDriver driver is nil")
	}

	name := driver.Name()
	if name == "" {
		panic("data: RegisterDriver driver name is empty")
	}

	if _, exists := drivers[name]; exists {
		panic(fmt.Sprintf("data: RegisterDriver called twice for driver %s", name))
	}

	drivers[name] = driver
}

// GetDriver retrieves a registered driver by name.
func GetDriver(name string) (Driver, error) {
	driversMu.RLock()
	defer driversMu.RUnlock()

	driver, ok := drivers[name]
	if !ok {
		return nil, fmt.Errorf(
			"%w %q, did you forget to import github.com/ncobase/telemetry/data/%s? available drivers: %v",
			ErrUnknownDriver, name, name, listDriversLocked(),
		)
	}

	return driver, nil
}

// Drivers returns the sorted names of the registered drivers.
func Drivers() []string {
	driversMu.RLock()
	defer driversMu.RUnlock()
	return listDriversLocked()
}

// Open opens the store selected by cfg.Driver.
func Open(ctx context.Context, cfg *config.Data) (Store, error) {
	if cfg == nil || !cfg.Enabled() {
		return nil, ErrDisabled
	}
	driver, err := GetDriver(cfg.Driver)
	if err != nil {
		return nil, err
	}
	store, err := driver.Open(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("data: open %s: %w", cfg.Driver, err)
	}
	return store, nil
}

// must be called with driversMu held
func listDriversLocked() []string {
	names := make([]string, 0, len(drivers))
	for name := range drivers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
