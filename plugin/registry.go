package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"time"
)

// Registry manages all registered plugins and provides efficient dispatch.
// It uses type-cached discovery for O(1) dispatch performance.
type Registry struct {
	mu      sync.RWMutex
	plugins []Plugin
	logger  *slog.Logger

	// Type-cached plugin lists for efficient dispatch
	onInit                []OnInit
	onShutdown            []OnShutdown
	onSessionCreated      []OnSessionCreated
	onCreditsAdded        []OnCreditsAdded
	onCreditsReserved     []OnCreditsReserved
	onReservationSettled  []OnReservationSettled
	onReservationReleased []OnReservationReleased
	onInsufficientCredits []OnInsufficientCredits
	onDailySpendExceeded  []OnDailySpendExceeded
	onRateLimitExceeded   []OnRateLimitExceeded
	onLockoutTriggered    []OnLockoutTriggered
	onLockoutCleared      []OnLockoutCleared
}

// NewRegistry creates a new plugin registry.
func NewRegistry() *Registry {
	return &Registry{
		logger: slog.Default(),
	}
}

// WithLogger sets the logger for the registry.
func (r *Registry) WithLogger(logger *slog.Logger) *Registry {
	r.logger = logger
	return r
}

// Register adds a plugin to the registry and caches its interfaces.
func (r *Registry) Register(p Plugin) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Check for duplicate
	for _, existing := range r.plugins {
		if existing.Name() == p.Name() {
			return fmt.Errorf("plugin: duplicate registration: %s", p.Name())
		}
	}

	r.plugins = append(r.plugins, p)

	// Type-switch to cache interfaces
	if v, ok := p.(OnInit); ok {
		r.onInit = append(r.onInit, v)
	}
	if v, ok := p.(OnShutdown); ok {
		r.onShutdown = append(r.onShutdown, v)
	}
	if v, ok := p.(OnSessionCreated); ok {
		r.onSessionCreated = append(r.onSessionCreated, v)
	}
	if v, ok := p.(OnCreditsAdded); ok {
		r.onCreditsAdded = append(r.onCreditsAdded, v)
	}
	if v, ok := p.(OnCreditsReserved); ok {
		r.onCreditsReserved = append(r.onCreditsReserved, v)
	}
	if v, ok := p.(OnReservationSettled); ok {
		r.onReservationSettled = append(r.onReservationSettled, v)
	}
	if v, ok := p.(OnReservationReleased); ok {
		r.onReservationReleased = append(r.onReservationReleased, v)
	}
	if v, ok := p.(OnInsufficientCredits); ok {
		r.onInsufficientCredits = append(r.onInsufficientCredits, v)
	}
	if v, ok := p.(OnDailySpendExceeded); ok {
		r.onDailySpendExceeded = append(r.onDailySpendExceeded, v)
	}
	if v, ok := p.(OnRateLimitExceeded); ok {
		r.onRateLimitExceeded = append(r.onRateLimitExceeded, v)
	}
	if v, ok := p.(OnLockoutTriggered); ok {
		r.onLockoutTriggered = append(r.onLockoutTriggered, v)
	}
	if v, ok := p.(OnLockoutCleared); ok {
		r.onLockoutCleared = append(r.onLockoutCleared, v)
	}

	r.logger.Info("plugin registered",
		"name", p.Name(),
		"interfaces", r.getImplementedInterfaces(p),
	)

	return nil
}

// getImplementedInterfaces returns a list of interfaces implemented by the plugin.
func (r *Registry) getImplementedInterfaces(p Plugin) []string {
	var interfaces []string
	v := reflect.TypeOf(p)

	// Check each interface
	checkInterface := func(iface reflect.Type, name string) {
		if v.Implements(iface) {
			interfaces = append(interfaces, name)
		}
	}

	// List all interfaces to check
	checkInterface(reflect.TypeOf((*OnInit)(nil)).Elem(), "OnInit")
	checkInterface(reflect.TypeOf((*OnShutdown)(nil)).Elem(), "OnShutdown")
	checkInterface(reflect.TypeOf((*OnSessionCreated)(nil)).Elem(), "OnSessionCreated")
	checkInterface(reflect.TypeOf((*OnCreditsAdded)(nil)).Elem(), "OnCreditsAdded")
	checkInterface(reflect.TypeOf((*OnCreditsReserved)(nil)).Elem(), "OnCreditsReserved")
	checkInterface(reflect.TypeOf((*OnReservationSettled)(nil)).Elem(), "OnReservationSettled")
	checkInterface(reflect.TypeOf((*OnReservationReleased)(nil)).Elem(), "OnReservationReleased")
	checkInterface(reflect.TypeOf((*OnInsufficientCredits)(nil)).Elem(), "OnInsufficientCredits")
	checkInterface(reflect.TypeOf((*OnDailySpendExceeded)(nil)).Elem(), "OnDailySpendExceeded")
	checkInterface(reflect.TypeOf((*OnRateLimitExceeded)(nil)).Elem(), "OnRateLimitExceeded")
	checkInterface(reflect.TypeOf((*OnLockoutTriggered)(nil)).Elem(), "OnLockoutTriggered")
	checkInterface(reflect.TypeOf((*OnLockoutCleared)(nil)).Elem(), "OnLockoutCleared")

	return interfaces
}

// Get returns a plugin by name.
func (r *Registry) Get(name string) Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.plugins {
		if p.Name() == name {
			return p
		}
	}
	return nil
}

// List returns all registered plugins.
func (r *Registry) List() []Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Plugin, len(r.plugins))
	copy(result, r.plugins)
	return result
}

// Count returns the number of registered plugins.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.plugins)
}

// ──────────────────────────────────────────────────
// Event emission methods
// ──────────────────────────────────────────────────

// EmitInit calls OnInit for all plugins that implement it.
func (r *Registry) EmitInit(ctx context.Context, c interface{}) {
	r.mu.RLock()
	plugins := r.onInit
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnInit(ctx, c)
		}); err != nil {
			r.logger.Warn("plugin OnInit failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitShutdown calls OnShutdown for all plugins that implement it.
func (r *Registry) EmitShutdown(ctx context.Context) {
	r.mu.RLock()
	plugins := r.onShutdown
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnShutdown(ctx)
		}); err != nil {
			r.logger.Warn("plugin OnShutdown failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitSessionCreated emits a session created event.
func (r *Registry) EmitSessionCreated(ctx context.Context, sess interface{}) {
	r.mu.RLock()
	plugins := r.onSessionCreated
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnSessionCreated(ctx, sess)
		}); err != nil {
			r.logger.Warn("plugin OnSessionCreated failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitCreditsAdded emits a credits added event.
func (r *Registry) EmitCreditsAdded(ctx context.Context, sessionID string, amount int64, reason string, newBalance int64) {
	r.mu.RLock()
	plugins := r.onCreditsAdded
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnCreditsAdded(ctx, sessionID, amount, reason, newBalance)
		}); err != nil {
			r.logger.Warn("plugin OnCreditsAdded failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitCreditsReserved emits a credits reserved event.
func (r *Registry) EmitCreditsReserved(ctx context.Context, sessionID, generationID string, amount, newBalance int64) {
	r.mu.RLock()
	plugins := r.onCreditsReserved
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnCreditsReserved(ctx, sessionID, generationID, amount, newBalance)
		}); err != nil {
			r.logger.Warn("plugin OnCreditsReserved failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitReservationSettled emits a reservation settled event.
func (r *Registry) EmitReservationSettled(ctx context.Context, sessionID, generationID string, amount int64, converted bool) {
	r.mu.RLock()
	plugins := r.onReservationSettled
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnReservationSettled(ctx, sessionID, generationID, amount, converted)
		}); err != nil {
			r.logger.Warn("plugin OnReservationSettled failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitReservationReleased emits a reservation released event.
func (r *Registry) EmitReservationReleased(ctx context.Context, sessionID, generationID string, released, newBalance int64) {
	r.mu.RLock()
	plugins := r.onReservationReleased
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnReservationReleased(ctx, sessionID, generationID, released, newBalance)
		}); err != nil {
			r.logger.Warn("plugin OnReservationReleased failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitInsufficientCredits emits an insufficient credits event.
func (r *Registry) EmitInsufficientCredits(ctx context.Context, sessionID string, required, available int64) {
	r.mu.RLock()
	plugins := r.onInsufficientCredits
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnInsufficientCredits(ctx, sessionID, required, available)
		}); err != nil {
			r.logger.Warn("plugin OnInsufficientCredits failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitDailySpendExceeded emits a daily spend exceeded event.
func (r *Registry) EmitDailySpendExceeded(ctx context.Context, sessionID string, spent, limit float64) {
	r.mu.RLock()
	plugins := r.onDailySpendExceeded
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnDailySpendExceeded(ctx, sessionID, spent, limit)
		}); err != nil {
			r.logger.Warn("plugin OnDailySpendExceeded failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitRateLimitExceeded emits a rate limit exceeded event.
func (r *Registry) EmitRateLimitExceeded(ctx context.Context, identifier, endpoint string, retryAfter int) {
	r.mu.RLock()
	plugins := r.onRateLimitExceeded
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnRateLimitExceeded(ctx, identifier, endpoint, retryAfter)
		}); err != nil {
			r.logger.Warn("plugin OnRateLimitExceeded failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitLockoutTriggered emits a lockout triggered event.
func (r *Registry) EmitLockoutTriggered(ctx context.Context, ipHash string, lockoutCount int, lockedUntil time.Time) {
	r.mu.RLock()
	plugins := r.onLockoutTriggered
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnLockoutTriggered(ctx, ipHash, lockoutCount, lockedUntil)
		}); err != nil {
			r.logger.Warn("plugin OnLockoutTriggered failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitLockoutCleared emits a lockout cleared event.
func (r *Registry) EmitLockoutCleared(ctx context.Context, ipHash string) {
	r.mu.RLock()
	plugins := r.onLockoutCleared
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnLockoutCleared(ctx, ipHash)
		}); err != nil {
			r.logger.Warn("plugin OnLockoutCleared failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// callWithTimeout calls a plugin function with a timeout.
// Plugins should never block the accounting pipeline.
func (r *Registry) callWithTimeout(ctx context.Context, pluginName string, fn func() error) error {
	done := make(chan error, 1)

	go func() {
		done <- fn()
	}()

	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		return fmt.Errorf("plugin timeout: %s", pluginName)
	case <-ctx.Done():
		return ctx.Err()
	}
}
