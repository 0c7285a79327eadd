// Package memory provides the in-memory arena implementation of the ledger
// persistence store. It is used directly for ephemeral ledgers and tests, and
// as the transactional core of the durable sqlite and postgres stores.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/poudelalish/blockchain-inventory/pkg/domain"
)

// Compile-time contract assertion ensuring Store adheres to the domain persistence interface.
var _ domain.PersistentStore = (*Store)(nil)

// CommitHook is invoked with the candidate state after rules passed and before
// the state becomes visible. A non-nil error aborts the commit.
type CommitHook func(ctx context.Context, snapshot Snapshot) error

// Snapshot is the serialisable form of the ledger state. Roles, products and
// timestamps are stored in ID order, so element i holds ID i+1.
type Snapshot struct {
	Owner         domain.Address                    `json:"owner"`
	Roles         map[domain.RoleKind][]domain.Role `json:"roles"`
	Products      []domain.Product                  `json:"products"`
	Timestamps    []domain.Timestamps               `json:"timestamps"`
	SchemaVersion int                               `json:"schema_version"`
}

// SchemaVersion is the current snapshot layout version.
const SchemaVersion = 1

// state is the arena. Committed states are never mutated in place; every
// transaction works on a clone and swaps it in on success.
type state struct {
	owner      domain.Address
	counters   domain.Counters
	roles      map[domain.RoleKind][]domain.Role
	roleIndex  map[domain.RoleKind]map[domain.Address]uint64
	products   []domain.Product
	timestamps []domain.Timestamps
}

func newState() state {
	s := state{
		counters:  domain.NewCounters(),
		roles:     make(map[domain.RoleKind][]domain.Role, len(domain.RoleKinds())),
		roleIndex: make(map[domain.RoleKind]map[domain.Address]uint64, len(domain.RoleKinds())),
	}
	for _, kind := range domain.RoleKinds() {
		s.roleIndex[kind] = make(map[domain.Address]uint64)
	}
	return s
}

func (s state) clone() state {
	out := state{
		owner:      s.owner,
		counters:   s.counters.Clone(),
		roles:      make(map[domain.RoleKind][]domain.Role, len(s.roles)),
		roleIndex:  make(map[domain.RoleKind]map[domain.Address]uint64, len(s.roleIndex)),
		products:   append([]domain.Product(nil), s.products...),
		timestamps: append([]domain.Timestamps(nil), s.timestamps...),
	}
	for kind, list := range s.roles {
		out.roles[kind] = append([]domain.Role(nil), list...)
	}
	for kind, idx := range s.roleIndex {
		m := make(map[domain.Address]uint64, len(idx))
		for addr, id := range idx {
			m[addr] = id
		}
		out.roleIndex[kind] = m
	}
	return out
}

func (s state) snapshot() Snapshot {
	c := s.clone()
	return Snapshot{
		Owner:         c.owner,
		Roles:         c.roles,
		Products:      c.products,
		Timestamps:    c.timestamps,
		SchemaVersion: SchemaVersion,
	}
}

// stateFromSnapshot rebuilds the arena, counters and address index from a
// snapshot. It rejects snapshots whose IDs are not dense from 1 or whose
// product records break the structural invariants.
func stateFromSnapshot(snap Snapshot) (state, error) {
	if snap.SchemaVersion > SchemaVersion {
		return state{}, fmt.Errorf("snapshot schema version %d is newer than supported %d", snap.SchemaVersion, SchemaVersion)
	}
	st := newState()
	st.owner = domain.NormalizeAddress(string(snap.Owner))
	for kind, list := range snap.Roles {
		if !kind.Valid() {
			return state{}, fmt.Errorf("snapshot has unknown role kind %q", kind)
		}
		for i, role := range list {
			if role.ID != uint64(i+1) {
				return state{}, fmt.Errorf("snapshot %s ids not dense: position %d holds id %d", kind, i, role.ID)
			}
			role.Kind = kind
			role.Address = domain.NormalizeAddress(string(role.Address))
			st.appendRole(role)
		}
	}
	if len(snap.Timestamps) != len(snap.Products) {
		return state{}, fmt.Errorf("snapshot has %d products but %d timestamp records", len(snap.Products), len(snap.Timestamps))
	}
	for i, p := range snap.Products {
		if p.ID != uint64(i+1) {
			return state{}, fmt.Errorf("snapshot product ids not dense: position %d holds id %d", i, p.ID)
		}
		if err := domain.CheckProductState(domain.ProductState{Product: p, Timestamps: snap.Timestamps[i]}); err != nil {
			return state{}, fmt.Errorf("snapshot: %w", err)
		}
		for _, kind := range domain.RoleKinds() {
			if id := p.RoleID(kind); id != 0 && !st.counters.Contains(kind.Entity(), id) {
				return state{}, fmt.Errorf("snapshot product %d references unknown %s %d", p.ID, kind, id)
			}
		}
		st.products = append(st.products, p)
		st.timestamps = append(st.timestamps, snap.Timestamps[i])
		st.counters.Next(domain.EntityProduct)
	}
	return st, nil
}

func (s *state) appendRole(role domain.Role) {
	s.counters.Next(role.Kind.Entity())
	s.roles[role.Kind] = append(s.roles[role.Kind], role)
	if _, seen := s.roleIndex[role.Kind][role.Address]; !seen {
		s.roleIndex[role.Kind][role.Address] = role.ID
	}
}

// Store is a thread-safe in-memory ledger backend.
type Store struct {
	mu     sync.RWMutex
	state  state
	engine *domain.RulesEngine
	hooks  []CommitHook
}

// Option configures a Store.
type Option func(*Store)

// WithCommitHook registers a hook run under the write lock before each commit.
func WithCommitHook(hook CommitHook) Option {
	return func(s *Store) {
		if hook != nil {
			s.hooks = append(s.hooks, hook)
		}
	}
}

// NewStore constructs an in-memory store backed by the provided rules engine.
func NewStore(engine *domain.RulesEngine, opts ...Option) *Store {
	if engine == nil {
		engine = domain.NewRulesEngine()
	}
	s := &Store{state: newState(), engine: engine}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ExportState clones the current committed state.
func (s *Store) ExportState() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.snapshot()
}

// ImportState replaces the store state with the provided snapshot.
func (s *Store) ImportState(snap Snapshot) error {
	st, err := stateFromSnapshot(snap)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = st
	return nil
}

// RulesEngine exposes the configured engine so callers can register rules.
func (s *Store) RulesEngine() *domain.RulesEngine {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.engine
}

// RunInTransaction executes fn against a transactional copy of the state.
// Rules are evaluated over the recorded changes; blocking violations, hook
// failures and fn errors all discard the copy.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx domain.Transaction) error) (domain.Result, error) {
	if err := ctx.Err(); err != nil {
		return domain.Result{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &transaction{view: view{state: s.state.clone()}}
	if err := fn(tx); err != nil {
		return domain.Result{}, err
	}

	var result domain.Result
	if s.engine != nil && len(tx.changes) > 0 {
		res, err := s.engine.Evaluate(ctx, tx.view, tx.changes)
		if err != nil {
			return domain.Result{}, err
		}
		result = res
		if res.HasBlocking() {
			return res, domain.RuleViolationError{Result: res}
		}
	}
	if len(tx.changes) > 0 || tx.ownerSet {
		for _, hook := range s.hooks {
			if err := hook(ctx, tx.state.snapshot()); err != nil {
				return result, err
			}
		}
	}
	s.state = tx.state
	return result, nil
}

// View executes fn against the latest committed state. Committed states are
// immutable, so readers share them without copying.
func (s *Store) View(ctx context.Context, fn func(domain.TransactionView) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	st := s.state
	s.mu.RUnlock()
	return fn(view{state: st})
}

// view is a read-only window onto a state.
type view struct {
	state state
}

func (v view) Owner() domain.Address { return v.state.owner }

func (v view) Counts() domain.Counts { return v.state.counters.Counts() }

func (v view) FindProduct(id uint64) (domain.Product, bool) {
	if !v.state.counters.Contains(domain.EntityProduct, id) {
		return domain.Product{}, false
	}
	return v.state.products[id-1], true
}

func (v view) FindTimestamps(id uint64) (domain.Timestamps, bool) {
	if !v.state.counters.Contains(domain.EntityProduct, id) {
		return domain.Timestamps{}, false
	}
	return v.state.timestamps[id-1], true
}

func (v view) FindRole(kind domain.RoleKind, id uint64) (domain.Role, bool) {
	if !kind.Valid() || !v.state.counters.Contains(kind.Entity(), id) {
		return domain.Role{}, false
	}
	return v.state.roles[kind][id-1], true
}

func (v view) FindRoleByAddress(kind domain.RoleKind, addr domain.Address) (domain.Role, bool) {
	if addr.IsZero() {
		return domain.Role{}, false
	}
	id, ok := v.state.roleIndex[kind][addr]
	if !ok {
		return domain.Role{}, false
	}
	return v.FindRole(kind, id)
}

func (v view) ListProducts() []domain.Product {
	return append([]domain.Product(nil), v.state.products...)
}

func (v view) ListRoles(kind domain.RoleKind) []domain.Role {
	out := append([]domain.Role(nil), v.state.roles[kind]...)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

type transaction struct {
	view
	changes  []domain.Change
	ownerSet bool
}

func (tx *transaction) recordChange(change domain.Change) {
	tx.changes = append(tx.changes, change)
}

func (tx *transaction) SetOwner(owner domain.Address) error {
	owner = domain.NormalizeAddress(string(owner))
	if owner.IsZero() {
		return fmt.Errorf("owner identity must not be empty")
	}
	if !tx.state.owner.IsZero() {
		return fmt.Errorf("owner already set to %s", tx.state.owner)
	}
	tx.state.owner = owner
	tx.ownerSet = true
	return nil
}

func (tx *transaction) CreateRole(role domain.Role) (domain.Role, error) {
	if !role.Kind.Valid() {
		return domain.Role{}, fmt.Errorf("unknown role kind %q", role.Kind)
	}
	role.Address = domain.NormalizeAddress(string(role.Address))
	role.ID = tx.state.counters.Current(role.Kind.Entity()) + 1
	tx.state.appendRole(role)
	tx.recordChange(domain.Change{Entity: role.Kind.Entity(), Action: domain.ActionCreate, After: role})
	return role, nil
}

func (tx *transaction) CreateProduct(name, description string, at time.Time) (domain.Product, error) {
	if at.IsZero() {
		return domain.Product{}, fmt.Errorf("product creation requires a timestamp")
	}
	p := domain.Product{
		ID:          tx.state.counters.Next(domain.EntityProduct),
		Name:        name,
		Description: description,
		Stage:       domain.StageOrdered,
	}
	var ts domain.Timestamps
	ts.Stamp(domain.StageOrdered, at)
	tx.state.products = append(tx.state.products, p)
	tx.state.timestamps = append(tx.state.timestamps, ts)
	tx.recordChange(domain.Change{
		Entity: domain.EntityProduct,
		Action: domain.ActionCreate,
		After:  domain.ProductState{Product: p, Timestamps: ts},
	})
	return p, nil
}

func (tx *transaction) AdvanceProduct(id uint64, to domain.Stage, roleID uint64, at time.Time) (domain.Product, error) {
	current, ok := tx.FindProduct(id)
	if !ok {
		return domain.Product{}, domain.NotFoundError{Entity: domain.EntityProduct, ID: id}
	}
	next, ok := current.Stage.Next()
	if !ok || next != to {
		return domain.Product{}, fmt.Errorf("product %d cannot move from %s to %s", id, current.Stage, to)
	}
	if at.IsZero() {
		return domain.Product{}, fmt.Errorf("stage %s requires a timestamp", to)
	}
	ts := tx.state.timestamps[id-1]
	before := domain.ProductState{Product: current, Timestamps: ts}

	updated := current
	updated.Stage = to
	if kind, binds := domain.RoleKindForStage(to); binds {
		if !tx.state.counters.Contains(kind.Entity(), roleID) {
			return domain.Product{}, domain.NotFoundError{Entity: kind.Entity(), ID: roleID}
		}
		updated.BindRole(kind, roleID)
	}
	ts.Stamp(to, at)

	tx.state.products[id-1] = updated
	tx.state.timestamps[id-1] = ts
	tx.recordChange(domain.Change{
		Entity: domain.EntityProduct,
		Action: domain.ActionUpdate,
		Before: before,
		After:  domain.ProductState{Product: updated, Timestamps: ts},
	})
	return updated, nil
}
