package domain

import (
	"context"
	"time"
)

// TransactionView provides read-only access to a consistent ledger snapshot.
type TransactionView interface {
	Owner() Address
	Counts() Counts
	FindProduct(id uint64) (Product, bool)
	FindTimestamps(id uint64) (Timestamps, bool)
	FindRole(kind RoleKind, id uint64) (Role, bool)
	// FindRoleByAddress returns the lowest-ID record of kind registered to addr.
	FindRoleByAddress(kind RoleKind, addr Address) (Role, bool)
	ListProducts() []Product
	ListRoles(kind RoleKind) []Role
}

// Transaction exposes the mutations a persistence implementation must support
// within an atomic scope. Implementations allocate IDs and enforce storage
// level guards; authorization and stage preconditions belong to the caller.
type Transaction interface {
	TransactionView
	// SetOwner records the owner identity. It fails once an owner is set.
	SetOwner(owner Address) error
	// CreateRole allocates the next ID of role.Kind and stores the record.
	CreateRole(role Role) (Role, error)
	// CreateProduct allocates the next product ID, stores the product in
	// StageOrdered with no role bound and stamps OrderedAt with at.
	CreateProduct(name, description string, at time.Time) (Product, error)
	// AdvanceProduct moves product id to stage to, which must directly follow
	// its current stage, binds roleID to the role field of to (if any) and
	// stamps the entry time of to with at.
	AdvanceProduct(id uint64, to Stage, roleID uint64, at time.Time) (Product, error)
}

// PersistentStore is the abstraction over ledger backends. Mutating work runs
// through RunInTransaction, which applies fn atomically and serially relative
// to every other transaction; reads run through View against a committed
// snapshot.
type PersistentStore interface {
	RunInTransaction(ctx context.Context, fn func(Transaction) error) (Result, error)
	View(ctx context.Context, fn func(TransactionView) error) error
}
