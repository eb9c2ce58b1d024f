// Package facade exposes the public, process-wide surface over the
// protocol engine: construction, lifecycle control, the get/set/ping
// command surface, named-register convenience wrappers, and listener
// registration. Mirrors the "Facade Pattern - simplified interface" the
// teacher's own Application comment names, generalized from one
// hand-built struct per concern into a single handle over pkg/engine.
package facade

import (
	"context"
	"fmt"
	"sync"

	"bmvlink/pkg/engine"
	"bmvlink/pkg/logger"
	"bmvlink/pkg/message"
	"bmvlink/pkg/registry"
	"bmvlink/pkg/transport"
)

// forcedRetries stands in for "effectively unbounded" when a caller passes
// force=true: large enough that no real command/response exchange over a
// serial line will exhaust it, without the open-endedness of an actual
// unbounded loop.
const forcedRetries = 1 << 20

// Known register names for the convenience wrappers named directly in the
// facade surface. Battery-configuration registers beyond these are reached
// through GetNamed/SetNamed with whatever key or human name registers.yaml
// assigned them.
const (
	NameRelay      = "Relay"
	NameRelayMode  = "RelayMode"
	NameSOC        = "SOC"
	NameVersion    = "version"
	NameProductID  = "productId"
)

var (
	instanceMu sync.Mutex
	instance   *Facade
)

// Facade is the process-wide singleton handle over one protocol engine.
// Open constructs it on first call; every subsequent call returns the
// existing instance untouched - per the protocol's own design note, the
// instance is frozen after first construction, and freezing is enforced by
// API shape (no setter exists on Facade) rather than a runtime guard.
type Facade struct {
	mu      sync.Mutex
	cfg     engine.Config
	cache   *registry.Cache
	eng     *engine.Engine
	port    transport.Port
	cancel  context.CancelFunc
	running bool
}

// Open constructs (or returns the already-constructed) singleton bound to
// devicePath and cache. cache should already be seeded with the register
// descriptor table before Open is called.
func Open(devicePath string, cache *registry.Cache, cfg engine.Config) (*Facade, error) {
	if existing := Instance(); existing != nil {
		return existing, nil
	}
	port, err := transport.OpenPort(transport.DefaultConfig(devicePath))
	if err != nil {
		return nil, fmt.Errorf("facade: open %s: %w", devicePath, err)
	}
	return OpenWithPort(port, cache, cfg)
}

// OpenWithPort is Open without device-path resolution: the caller supplies
// an already-constructed transport.Port directly. Used by tests against a
// fake port, and by callers that wrap the real port themselves (e.g. the
// raw-line recorder).
func OpenWithPort(port transport.Port, cache *registry.Cache, cfg engine.Config) (*Facade, error) {
	instanceMu.Lock()
	defer instanceMu.Unlock()
	if instance != nil {
		return instance, nil
	}
	instance = &Facade{
		cfg:   cfg,
		cache: cache,
		eng:   engine.New(port, cache, cfg),
		port:  port,
	}
	return instance, nil
}

// Instance returns the process-wide facade, or nil if Open has not been
// called yet in this process.
func Instance() *Facade {
	instanceMu.Lock()
	defer instanceMu.Unlock()
	return instance
}

// resetForTest releases the singleton so a later Open can construct a
// fresh instance. Only ever called from this package's own tests; the
// production surface has no way to un-freeze the instance.
func resetForTest() {
	instanceMu.Lock()
	instance = nil
	instanceMu.Unlock()
}

// ResetForTest is resetForTest exported for integration tests in other
// packages that need a fresh singleton per test, same restriction as
// resetForTest: never call this outside test code.
func ResetForTest() {
	resetForTest()
}

// Start begins the engine's event loop in its own goroutine and returns
// immediately; the loop runs until ctx is cancelled or Stop is called.
// Calling Start again while already running is a no-op.
func (f *Facade) Start(ctx context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.running {
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	f.cancel = cancel
	f.running = true
	go func() {
		if err := f.eng.Run(runCtx); err != nil {
			logger.LogError("facade: engine loop exited: %v", err)
		}
	}()
	logger.LogInfo("facade: protocol engine started")
}

// Stop cancels the engine's event loop. Idempotent.
func (f *Facade) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.running {
		return
	}
	f.cancel()
	f.running = false
	logger.LogInfo("facade: protocol engine stopped")
}

// Restart issues the device restart command directly (bypassing the
// command queue - see engine.Engine.Restart).
func (f *Facade) Restart() {
	f.eng.Restart()
}

// Diagnostics returns the engine's health counters.
func (f *Facade) Diagnostics() engine.Snapshot {
	return f.eng.Diagnostics()
}

// Engine exposes the underlying protocol engine for callers that need more
// than the facade's own surface, e.g. pkg/healthcheck reading diagnostics
// directly.
func (f *Facade) Engine() *engine.Engine {
	return f.eng
}

func (f *Facade) retries(force bool) int {
	if force {
		return forcedRetries
	}
	return f.cfg.DefaultMaxRetries
}

// Ping enqueues the bare ping command.
func (f *Facade) Ping(force bool) error {
	cmd, err := message.NewPing(f.cfg.DefaultPriority, f.retries(force))
	if err != nil {
		return err
	}
	f.eng.Enqueue(cmd)
	return nil
}

// AppVersion enqueues the firmware version query; the response lands on
// the "version" telemetry-keyed descriptor.
func (f *Facade) AppVersion(force bool) error {
	cmd, err := message.NewVersion(f.cfg.DefaultPriority, f.retries(force))
	if err != nil {
		return err
	}
	f.eng.Enqueue(cmd)
	return nil
}

// ProductID enqueues the product ID query; the response lands on the
// "productId" telemetry-keyed descriptor.
func (f *Facade) ProductID(force bool) error {
	cmd, err := message.NewProductID(f.cfg.DefaultPriority, f.retries(force))
	if err != nil {
		return err
	}
	f.eng.Enqueue(cmd)
	return nil
}

// Get enqueues a get command for a raw register address, bypassing the
// descriptor table. priority and force follow the same conventions as
// GetNamed.
func (f *Facade) Get(address uint16, priority int, force bool) error {
	cmd, err := message.NewGet(address, priority, f.retries(force))
	if err != nil {
		return err
	}
	f.eng.Enqueue(cmd)
	return nil
}

// Set enqueues a set command for a raw register address and width.
func (f *Facade) Set(address uint16, value uint64, width, priority int, force bool) error {
	cmd, err := message.NewSet(address, value, width, priority, f.retries(force))
	if err != nil {
		return err
	}
	f.eng.Enqueue(cmd)
	return nil
}

// GetNamed enqueues a get command for the register resolved by telemetry
// key or human name through the descriptor table.
func (f *Facade) GetNamed(name string, priority int, force bool) error {
	d, ok := f.resolveAddressed(name)
	if !ok {
		return fmt.Errorf("facade: no addressed register named %q", name)
	}
	return f.Get(d.Address, priority, force)
}

// SetNamed enqueues a set command for the register resolved by telemetry
// key or human name, encoding value at the descriptor's configured width.
func (f *Facade) SetNamed(name string, value int64, priority int, force bool) error {
	d, ok := f.resolveAddressed(name)
	if !ok {
		return fmt.Errorf("facade: no addressed register named %q", name)
	}
	return f.Set(d.Address, uint64(value), widthOrDefault(d.Width), priority, force)
}

func (f *Facade) resolveAddressed(name string) (*registry.Descriptor, bool) {
	d, ok := f.cache.LookupByKey(name)
	if !ok {
		d, ok = f.cache.LookupByName(name)
	}
	if !ok || !d.HasAddress {
		return nil, false
	}
	return d, true
}

func widthOrDefault(w int) int {
	if w == 1 || w == 2 || w == 4 {
		return w
	}
	return 2
}

// SetRelay is a thin wrapper over SetNamed for the relay-override register.
func (f *Facade) SetRelay(on bool, priority int, force bool) error {
	var v int64
	if on {
		v = 1
	}
	return f.SetNamed(NameRelay, v, priority, force)
}

// SetRelayMode is a thin wrapper over SetNamed for the relay-mode register.
func (f *Facade) SetRelayMode(mode int64, priority int, force bool) error {
	return f.SetNamed(NameRelayMode, mode, priority, force)
}

// SetStateOfCharge converts a percentage into the SOC register's native
// units via its configured scaling factor and enqueues a set command.
func (f *Facade) SetStateOfCharge(percent float64, priority int, force bool) error {
	d, ok := f.resolveAddressed(NameSOC)
	if !ok {
		return fmt.Errorf("facade: no addressed SOC register registered")
	}
	factor := d.NativeToUnitFactor
	if factor == 0 {
		factor = 1
	}
	native := int64(percent / factor)
	return f.Set(d.Address, uint64(native), widthOrDefault(d.Width), priority, force)
}

// RegisterListener attaches fn to the descriptor named property, or to the
// aggregated "ChangeList" pseudo-property. fn must be a
// registry.ChangeListener for a named descriptor or a
// registry.ChangeListListener for "ChangeList" - Go's static typing needs
// this one type switch where the source protocol accepts either
// interchangeably. Returns a token for DeregisterListener.
func (f *Facade) RegisterListener(property string, fn any) (int, error) {
	switch cb := fn.(type) {
	case registry.ChangeListener:
		id, ok := f.cache.AddListener(property, cb)
		if !ok {
			return 0, fmt.Errorf("facade: no descriptor named %q", property)
		}
		return id, nil
	case registry.ChangeListListener:
		if property != "ChangeList" {
			return 0, fmt.Errorf("facade: a ChangeListListener callback may only be registered on \"ChangeList\", got %q", property)
		}
		return f.cache.AddChangeListListener(cb), nil
	default:
		return 0, fmt.Errorf("facade: unsupported listener callback type %T", fn)
	}
}

// DeregisterListener removes a previously registered listener by token.
func (f *Facade) DeregisterListener(property string, id int) bool {
	if property == "ChangeList" {
		return f.cache.RemoveChangeListListener(id)
	}
	return f.cache.RemoveListener(id)
}

// HasListeners reports whether property (a descriptor name or
// "ChangeList") currently has any registered listener.
func (f *Facade) HasListeners(property string) bool {
	if property == "ChangeList" {
		return f.cache.HasChangeListListeners()
	}
	return f.cache.HasListeners(property)
}
