package core

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/poudelalish/blockchain-inventory/internal/events"
	"github.com/poudelalish/blockchain-inventory/internal/infra/persistence/memory"
	"github.com/poudelalish/blockchain-inventory/pkg/domain"
)

// Service exposes the ledger operations over a persistent store. Every
// mutating call runs as one store transaction: validation and writes happen
// inside it, so a rejected call leaves no trace.
type Service struct {
	store   domain.PersistentStore
	clock   Clock
	logger  zerolog.Logger
	audit   AuditRecorder
	metrics MetricsRecorder
	tracer  Tracer
	events  events.Publisher

	mu      sync.Mutex
	plugins map[string]PluginMetadata
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the clock used to stamp calls that carry no time.
func WithClock(clock Clock) Option {
	return func(s *Service) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithLogger sets the service logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithAuditRecorder sets the audit sink.
func WithAuditRecorder(recorder AuditRecorder) Option {
	return func(s *Service) {
		if recorder != nil {
			s.audit = recorder
		}
	}
}

// WithMetricsRecorder sets the metrics sink.
func WithMetricsRecorder(recorder MetricsRecorder) Option {
	return func(s *Service) {
		if recorder != nil {
			s.metrics = recorder
		}
	}
}

// WithTracer sets the tracer.
func WithTracer(tracer Tracer) Option {
	return func(s *Service) {
		if tracer != nil {
			s.tracer = tracer
		}
	}
}

// WithEventPublisher sets the publisher notified after each commit.
func WithEventPublisher(publisher events.Publisher) Option {
	return func(s *Service) {
		if publisher != nil {
			s.events = publisher
		}
	}
}

// NewService constructs a service backed by the supplied store.
func NewService(store domain.PersistentStore, opts ...Option) *Service {
	s := &Service{
		store:   store,
		clock:   NewMonotonicClock(nil),
		logger:  zerolog.Nop(),
		audit:   noopAuditRecorder{},
		metrics: noopMetricsRecorder{},
		tracer:  noopTracer{},
		events:  events.Nop{},
		plugins: make(map[string]PluginMetadata),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.seedClock(context.Background())
	return s
}

// clockObserver is implemented by clocks that can be floored at a known time.
type clockObserver interface {
	Observe(t time.Time)
}

// seedClock floors the clock at the latest persisted stamp so a wall clock
// that went back across a restart cannot stamp a product earlier than its
// previous stage.
func (s *Service) seedClock(ctx context.Context) {
	observer, ok := s.clock.(clockObserver)
	if !ok || s.store == nil {
		return
	}
	var latest time.Time
	err := s.store.View(ctx, func(v domain.TransactionView) error {
		latest = LatestTimestamp(v)
		return nil
	})
	if err != nil {
		s.logger.Warn().Err(err).Msg("seed ledger clock")
		return
	}
	if !latest.IsZero() {
		observer.Observe(latest)
	}
}

// NewInMemoryService creates a service over a fresh in-memory store.
func NewInMemoryService(engine *domain.RulesEngine, opts ...Option) *Service {
	return NewService(memory.NewStore(engine), opts...)
}

// Store returns the underlying storage implementation.
func (s *Service) Store() domain.PersistentStore {
	return s.store
}

// outcome describes what a committed mutation touched.
type outcome struct {
	entity  domain.EntityType
	action  domain.Action
	id      uint64
	event   events.Type
	payload any
}

func (s *Service) stamp(call domain.Call) domain.Call {
	call.Caller = domain.NormalizeAddress(string(call.Caller))
	if call.At.IsZero() {
		call.At = s.clock.Now()
	}
	call.At = call.At.UTC()
	return call
}

// execute wraps one store transaction with tracing, metrics, audit, logging
// and, on success, event publication.
func (s *Service) execute(ctx context.Context, op string, call domain.Call, fn func(tx domain.Transaction) (outcome, error)) (domain.Result, error) {
	ctx, span := s.tracer.Start(ctx, op)
	start := time.Now()
	var out outcome
	res, err := s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		var err error
		out, err = fn(tx)
		return err
	})
	duration := time.Since(start)
	span.End(err)
	s.metrics.Observe(ctx, op, err == nil, duration)

	entry := AuditEntry{
		Operation: op,
		Entity:    out.entity,
		Action:    out.action,
		EntityID:  out.id,
		Caller:    call.Caller,
		Status:    AuditStatusSuccess,
		Duration:  duration,
		Timestamp: call.At,
	}
	if err != nil {
		entry.Status = AuditStatusError
		entry.ErrorKind = domain.ErrorKind(err)
		entry.Error = err.Error()
	}
	s.audit.Record(ctx, entry)
	s.logOutcome(op, call, out, res, err)

	if err == nil && out.event != "" {
		s.publish(ctx, op, call, out)
	}
	return res, err
}

func (s *Service) logOutcome(op string, call domain.Call, out outcome, res domain.Result, err error) {
	if err != nil {
		s.logger.Warn().
			Str("op", op).
			Str("caller", call.Caller.String()).
			Str("error_kind", domain.ErrorKind(err)).
			Err(err).
			Msg("ledger call rejected")
		return
	}
	event := s.logger.Debug().
		Str("op", op).
		Str("caller", call.Caller.String()).
		Str("entity", string(out.entity)).
		Uint64("entity_id", out.id)
	if n := len(res.Violations); n > 0 {
		event = event.Int("violations", n)
	}
	event.Msg("ledger call committed")
	for _, v := range res.Violations {
		if v.Severity == domain.SeverityWarn {
			s.logger.Warn().Str("rule", v.Rule).Str("entity", string(v.Entity)).Uint64("entity_id", v.EntityID).Msg(v.Message)
		}
	}
}

func (s *Service) publish(ctx context.Context, op string, call domain.Call, out outcome) {
	ev, err := events.New(out.event, op, call, out.payload)
	if err == nil {
		err = s.events.Publish(ctx, ev)
	}
	if err != nil {
		s.logger.Error().Err(err).Str("op", op).Str("event", string(out.event)).Msg("publish event")
	}
}

// Bootstrap records owner as the ledger owner on first use. Calling it again
// with the same identity is a no-op; any other identity is rejected, since
// ownership is never transferred.
func (s *Service) Bootstrap(ctx context.Context, owner domain.Address) (domain.Address, error) {
	owner = domain.NormalizeAddress(string(owner))
	call := s.stamp(domain.Call{Caller: owner})
	var recorded domain.Address
	_, err := s.execute(ctx, OpBootstrap, call, func(tx domain.Transaction) (outcome, error) {
		existing := tx.Owner()
		switch {
		case existing.IsZero():
			if owner.IsZero() {
				return outcome{}, domain.AuthorizationError{Operation: OpBootstrap, Caller: owner, Required: "a non-empty owner identity"}
			}
			if err := tx.SetOwner(owner); err != nil {
				return outcome{}, err
			}
			recorded = owner
		case existing == owner:
			recorded = existing
		default:
			return outcome{}, domain.AuthorizationError{Operation: OpBootstrap, Caller: owner, Required: "the recorded owner " + existing.String()}
		}
		return outcome{}, nil
	})
	return recorded, err
}

// RegisterRole creates a role record of kind. Only the owner may register.
func (s *Service) RegisterRole(ctx context.Context, call domain.Call, kind domain.RoleKind, address, name, place string) (domain.Role, domain.Result, error) {
	op := RegisterOperation(kind)
	if op == "" {
		return domain.Role{}, domain.Result{}, fmt.Errorf("unknown role kind %q", kind)
	}
	call = s.stamp(call)
	var created domain.Role
	res, err := s.execute(ctx, op, call, func(tx domain.Transaction) (outcome, error) {
		owner := tx.Owner()
		if owner.IsZero() || call.Caller != owner {
			return outcome{}, domain.AuthorizationError{Operation: op, Caller: call.Caller, Required: "the owner"}
		}
		role, err := tx.CreateRole(domain.Role{
			Kind:    kind,
			Address: domain.NormalizeAddress(address),
			Name:    name,
			Place:   place,
		})
		if err != nil {
			return outcome{}, err
		}
		created = role
		return outcome{
			entity:  kind.Entity(),
			action:  domain.ActionCreate,
			id:      role.ID,
			event:   events.RoleRegistered,
			payload: role,
		}, nil
	})
	return created, res, err
}

// RegisterSupplier creates a supplier role record.
func (s *Service) RegisterSupplier(ctx context.Context, call domain.Call, address, name, place string) (domain.Role, domain.Result, error) {
	return s.RegisterRole(ctx, call, domain.RoleSupplier, address, name, place)
}

// RegisterManufacturer creates a manufacturer role record.
func (s *Service) RegisterManufacturer(ctx context.Context, call domain.Call, address, name, place string) (domain.Role, domain.Result, error) {
	return s.RegisterRole(ctx, call, domain.RoleManufacturer, address, name, place)
}

// RegisterDistributor creates a distributor role record.
func (s *Service) RegisterDistributor(ctx context.Context, call domain.Call, address, name, place string) (domain.Role, domain.Result, error) {
	return s.RegisterRole(ctx, call, domain.RoleDistributor, address, name, place)
}

// RegisterRetailer creates a retailer role record.
func (s *Service) RegisterRetailer(ctx context.Context, call domain.Call, address, name, place string) (domain.Role, domain.Result, error) {
	return s.RegisterRole(ctx, call, domain.RoleRetailer, address, name, place)
}

// CreateProduct records a new product in the Ordered stage. Any caller may
// create products.
func (s *Service) CreateProduct(ctx context.Context, call domain.Call, name, description string) (domain.Product, domain.Result, error) {
	call = s.stamp(call)
	var created domain.Product
	res, err := s.execute(ctx, OpCreateProduct, call, func(tx domain.Transaction) (outcome, error) {
		product, err := tx.CreateProduct(name, description, call.At)
		if err != nil {
			return outcome{}, err
		}
		created = product
		ts, _ := tx.FindTimestamps(product.ID)
		return outcome{
			entity:  domain.EntityProduct,
			action:  domain.ActionCreate,
			id:      product.ID,
			event:   events.ProductCreated,
			payload: domain.ProductState{Product: product, Timestamps: ts},
		}, nil
	})
	return created, res, err
}

// Transition applies the stage-advancing operation op to productID.
func (s *Service) Transition(ctx context.Context, call domain.Call, op string, productID uint64) (domain.Product, domain.Result, error) {
	t, ok := lookupTransition(op)
	if !ok {
		return domain.Product{}, domain.Result{}, fmt.Errorf("unknown transition %q", op)
	}
	call = s.stamp(call)
	var updated domain.Product
	res, err := s.execute(ctx, op, call, func(tx domain.Transaction) (outcome, error) {
		roleID, err := t.validate(tx, call.Caller, productID)
		if err != nil {
			return outcome{entity: domain.EntityProduct, action: domain.ActionUpdate, id: productID}, err
		}
		product, err := tx.AdvanceProduct(productID, t.to, roleID, call.At)
		if err != nil {
			return outcome{entity: domain.EntityProduct, action: domain.ActionUpdate, id: productID}, err
		}
		updated = product
		ts, _ := tx.FindTimestamps(productID)
		return outcome{
			entity:  domain.EntityProduct,
			action:  domain.ActionUpdate,
			id:      productID,
			event:   events.ProductAdvanced,
			payload: domain.ProductState{Product: product, Timestamps: ts},
		}, nil
	})
	return updated, res, err
}

// SupplyRawMaterial moves an Ordered product to RawMaterialSupplied.
func (s *Service) SupplyRawMaterial(ctx context.Context, call domain.Call, productID uint64) (domain.Product, domain.Result, error) {
	return s.Transition(ctx, call, OpSupplyRawMaterial, productID)
}

// Manufacture moves a RawMaterialSupplied product to Manufactured.
func (s *Service) Manufacture(ctx context.Context, call domain.Call, productID uint64) (domain.Product, domain.Result, error) {
	return s.Transition(ctx, call, OpManufacture, productID)
}

// Distribute moves a Manufactured product to Distributed.
func (s *Service) Distribute(ctx context.Context, call domain.Call, productID uint64) (domain.Product, domain.Result, error) {
	return s.Transition(ctx, call, OpDistribute, productID)
}

// Retail moves a Distributed product to Retailed.
func (s *Service) Retail(ctx context.Context, call domain.Call, productID uint64) (domain.Product, domain.Result, error) {
	return s.Transition(ctx, call, OpRetail, productID)
}

// Sell moves a Retailed product to Sold. Only the retailer that retailed the
// product may sell it.
func (s *Service) Sell(ctx context.Context, call domain.Call, productID uint64) (domain.Product, domain.Result, error) {
	return s.Transition(ctx, call, OpSell, productID)
}

// rulesEngineProvider is implemented by stores that expose their engine.
type rulesEngineProvider interface {
	RulesEngine() *domain.RulesEngine
}

// InstallPlugin registers a plugin, wiring its rules into the store engine.
// Plugins are installed during startup, before the service takes traffic.
func (s *Service) InstallPlugin(plugin Plugin) (PluginMetadata, error) {
	if plugin == nil {
		return PluginMetadata{}, fmt.Errorf("plugin cannot be nil")
	}
	provider, ok := s.store.(rulesEngineProvider)
	if !ok {
		return PluginMetadata{}, fmt.Errorf("store %T does not expose a rules engine", s.store)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.plugins[plugin.Name()]; exists {
		return PluginMetadata{}, fmt.Errorf("plugin %s already registered", plugin.Name())
	}
	registry := NewPluginRegistry()
	if err := plugin.Register(registry); err != nil {
		return PluginMetadata{}, err
	}
	engine := provider.RulesEngine()
	for _, rule := range registry.Rules() {
		engine.Register(rule)
	}
	meta := PluginMetadata{
		Name:    plugin.Name(),
		Version: plugin.Version(),
		Rules:   registry.RuleNames(),
	}
	s.plugins[plugin.Name()] = meta
	s.logger.Info().Str("plugin", meta.Name).Str("version", meta.Version).Strs("rules", meta.Rules).Msg("plugin installed")
	return meta, nil
}

// RegisteredPlugins returns metadata describing installed plugins, by name.
func (s *Service) RegisteredPlugins() []PluginMetadata {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]PluginMetadata, 0, len(s.plugins))
	for _, meta := range s.plugins {
		out = append(out, meta)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
