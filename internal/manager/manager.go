// Package manager implements the per-tenant engine instance manager: a
// bounded, concurrency-safe cache that creates, reuses, and evicts engine
// handles, one per authenticated tenant.
//
// Each instance is rooted in an isolated working directory derived from the
// tenant ID. Instances are created lazily on first Acquire, reused across
// requests, and evicted least-recently-used when the capacity bound is hit
// (or, optionally, after an idle TTL).
//
// Concurrency discipline:
//   - A per-tenant gate guarantees at most one in-flight creation per
//     tenant: racing first acquires block and then observe the ready
//     instance through the normal lookup path.
//   - Registry mutations are serialized by the registry's own mutex; its
//     critical sections contain no I/O. Provisioning and factory calls run
//     outside it.
//   - The manager does not reference-count handles in use: an instance may
//     be evicted while a caller still holds its handle. The handle stays
//     usable; only the registry entry (and capacity accounting) is gone.
package manager

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/embediq/backend/internal/engine"
	"github.com/embediq/backend/internal/sanitize"
)

// Config holds instance manager configuration.
type Config struct {
	// MaxInstances bounds the number of live instances. Default 100.
	MaxInstances int

	// BaseDataDir is the root for per-tenant working directories.
	BaseDataDir string

	// IdleTTL, when positive, makes unused instances eviction-eligible
	// after this duration even below MaxInstances.
	IdleTTL time.Duration
}

// Manager orchestrates the provisioner, engine factory, and registry
// behind a concurrency-safe API. Construct with New; safe for concurrent
// use by any number of goroutines.
type Manager struct {
	provisioner *Provisioner
	factory     engine.Factory
	registry    *Registry
	logger      *zap.Logger
	metrics     *Metrics

	// lifecycle is held in read mode for the duration of every Acquire and
	// Evict; Shutdown takes it in write mode, so it begins only once
	// in-flight operations have finished and blocks all later ones.
	lifecycle sync.RWMutex
	shut      bool

	// gatesMu guards gates. Each gate serializes creation per tenant.
	gatesMu sync.Mutex
	gates   map[string]*gate
}

// New creates an instance manager.
func New(cfg Config, factory engine.Factory, logger *zap.Logger) (*Manager, error) {
	if factory == nil {
		return nil, fmt.Errorf("engine factory is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxInstances < 1 {
		cfg.MaxInstances = 100
	}

	provisioner, err := NewProvisioner(cfg.BaseDataDir)
	if err != nil {
		return nil, err
	}

	m := &Manager{
		provisioner: provisioner,
		factory:     factory,
		logger:      logger,
		metrics:     NewMetrics(logger),
		gates:       make(map[string]*gate),
	}
	m.registry = NewRegistry(cfg.MaxInstances, cfg.IdleTTL, m.releaseEvicted)

	logger.Info("instance manager initialized",
		zap.Int("max_instances", cfg.MaxInstances),
		zap.String("base_data_dir", provisioner.BaseDir()),
		zap.Duration("idle_ttl", cfg.IdleTTL))

	return m, nil
}

// Acquire returns the live engine for tenantID, creating it on first use.
//
// The hot path (instance already live) touches neither the filesystem nor
// the factory. On a miss, provisioning and factory creation run under the
// tenant's gate; racing callers for the same tenant wait and then observe
// the ready instance. ctx bounds only the wait plus the creation step. A
// caller that gives up waiting leaves the in-progress creation undisturbed,
// and the registry is populated for future lookups regardless.
//
// Errors: ErrInvalidTenantID, ErrProvisioning, ErrCreationFailed (wrapping
// the factory's cause), ErrShuttingDown.
func (m *Manager) Acquire(ctx context.Context, tenantID string) (engine.Engine, error) {
	if err := sanitize.ValidateTenantID(tenantID); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTenantID, err)
	}

	m.lifecycle.RLock()
	defer m.lifecycle.RUnlock()
	if m.shut {
		return nil, ErrShuttingDown
	}

	if inst, ok := m.registry.Lookup(tenantID); ok {
		m.metrics.RecordAcquire(ctx, acquireHit)
		return inst.Engine, nil
	}

	g := m.enterGate(tenantID)
	defer m.leaveGate(tenantID)

	if err := g.lock(ctx); err != nil {
		m.metrics.RecordAcquire(ctx, acquireError)
		return nil, fmt.Errorf("waiting for instance creation for tenant %s: %w", tenantID, err)
	}
	defer g.unlock()

	// A racing caller may have finished creating while we waited.
	if inst, ok := m.registry.Lookup(tenantID); ok {
		m.metrics.RecordAcquire(ctx, acquireHit)
		return inst.Engine, nil
	}

	inst, err := m.create(ctx, tenantID)
	if err != nil {
		m.metrics.RecordAcquire(ctx, acquireError)
		return nil, err
	}

	m.registry.Insert(tenantID, inst)
	m.metrics.RecordAcquire(ctx, acquireMiss)
	m.metrics.RecordInstanceCount(ctx, +1)

	return inst.Engine, nil
}

// create provisions the working directory and builds the engine. No
// registry state is touched; a failure leaves the tenant absent.
func (m *Manager) create(ctx context.Context, tenantID string) (*Instance, error) {
	dir, err := m.provisioner.Ensure(tenantID)
	if err != nil {
		return nil, err
	}

	start := timeNow()
	eng, err := m.factory.Create(ctx, dir)
	m.metrics.RecordCreation(ctx, time.Since(start), err)
	if err != nil {
		m.logger.Error("engine creation failed",
			zap.String("tenant_id", tenantID),
			zap.Error(err))
		return nil, fmt.Errorf("%w for tenant %s: %w", ErrCreationFailed, tenantID, err)
	}

	m.logger.Info("engine instance created",
		zap.String("tenant_id", tenantID),
		zap.String("working_dir", dir),
		zap.Duration("elapsed", time.Since(start)))

	return &Instance{
		TenantID:   tenantID,
		Engine:     eng,
		WorkingDir: dir,
		CreatedAt:  start,
	}, nil
}

// Evict removes a tenant's instance and releases its engine. It waits for
// any in-flight creation for the tenant to finish first. Returns
// ErrTenantNotFound when no instance is live.
func (m *Manager) Evict(ctx context.Context, tenantID string) error {
	if err := sanitize.ValidateTenantID(tenantID); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidTenantID, err)
	}

	m.lifecycle.RLock()
	defer m.lifecycle.RUnlock()

	g := m.enterGate(tenantID)
	defer m.leaveGate(tenantID)
	if err := g.lock(ctx); err != nil {
		return fmt.Errorf("waiting to evict tenant %s: %w", tenantID, err)
	}
	defer g.unlock()

	inst, ok := m.registry.Remove(tenantID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrTenantNotFound, tenantID)
	}

	m.release(inst, EvictExplicit)
	return nil
}

// Shutdown drains the registry, releasing every live engine exactly once,
// and makes all later Acquire calls fail with ErrShuttingDown. ctx bounds
// both the wait for in-flight operations and the drain; when it expires
// Shutdown returns the context error with the remaining instances
// unreleased. A later Shutdown call resumes the drain, so it stays
// idempotent and each engine is still released at most once.
func (m *Manager) Shutdown(ctx context.Context) error {
	flipped := make(chan struct{})
	go func() {
		m.lifecycle.Lock()
		m.shut = true
		m.lifecycle.Unlock()
		close(flipped)
	}()

	select {
	case <-flipped:
	case <-ctx.Done():
		// The goroutine still flips the flag once in-flight operations
		// finish, so Acquire is rejected from then on.
		return fmt.Errorf("waiting for in-flight operations: %w", ctx.Err())
	}

	released := 0
	for _, inst := range m.registry.Snapshot() {
		if err := ctx.Err(); err != nil {
			m.logger.Warn("shutdown drain abandoned",
				zap.Int("released", released),
				zap.Error(err))
			return fmt.Errorf("draining instances: %w", err)
		}
		// Remove guards against double release if an eviction raced the
		// snapshot: whoever removes the entry owns the release.
		if _, ok := m.registry.Remove(inst.TenantID); ok {
			m.release(inst, EvictShutdown)
			released++
		}
	}

	m.logger.Info("instance manager shut down", zap.Int("released", released))
	return nil
}

// releaseEvicted is the registry's eviction callback.
func (m *Manager) releaseEvicted(inst *Instance, reason EvictReason) {
	m.release(inst, reason)
}

// release closes an instance's engine. Close failures are logged, never
// propagated: the registry entry is already gone and its bookkeeping is
// authoritative for capacity regardless of release outcome.
func (m *Manager) release(inst *Instance, reason EvictReason) {
	if err := inst.Engine.Close(); err != nil {
		m.logger.Warn("engine release failed",
			zap.String("tenant_id", inst.TenantID),
			zap.String("reason", string(reason)),
			zap.Error(err))
	} else {
		m.logger.Debug("engine released",
			zap.String("tenant_id", inst.TenantID),
			zap.String("reason", string(reason)))
	}
	m.metrics.RecordEviction(context.Background(), reason)
	m.metrics.RecordInstanceCount(context.Background(), -1)
}

// Len returns the number of live instances.
func (m *Manager) Len() int {
	return m.registry.Len()
}

// gate serializes instance creation for one tenant. It is a mutex built on
// a channel so waiters can abandon via context cancellation.
type gate struct {
	ch   chan struct{}
	refs int // guarded by Manager.gatesMu
}

func (g *gate) lock(ctx context.Context) error {
	select {
	case g.ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (g *gate) unlock() {
	<-g.ch
}

// enterGate returns the tenant's gate, creating it on demand. Gates are
// reference-counted so the map does not grow with tenant cardinality.
func (m *Manager) enterGate(tenantID string) *gate {
	m.gatesMu.Lock()
	defer m.gatesMu.Unlock()

	g, ok := m.gates[tenantID]
	if !ok {
		g = &gate{ch: make(chan struct{}, 1)}
		m.gates[tenantID] = g
	}
	g.refs++
	return g
}

func (m *Manager) leaveGate(tenantID string) {
	m.gatesMu.Lock()
	defer m.gatesMu.Unlock()

	g, ok := m.gates[tenantID]
	if !ok {
		return
	}
	g.refs--
	if g.refs <= 0 {
		delete(m.gates, tenantID)
	}
}
