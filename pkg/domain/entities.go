// Package domain defines the ledger entities, value types, error taxonomy and
// rule evaluation primitives shared by the supply-chain ledger core and its
// persistence backends.
package domain

import (
	"fmt"
	"strings"
	"time"
)

// EntityType identifies the type of record stored in the ledger.
type EntityType string

// Supported entity type identifiers used in Change records, counters and errors.
const (
	// EntityProduct identifies a product record.
	EntityProduct EntityType = "product"
	// EntitySupplier identifies a raw-material supplier role record.
	EntitySupplier EntityType = "supplier"
	// EntityManufacturer identifies a manufacturer role record.
	EntityManufacturer EntityType = "manufacturer"
	// EntityDistributor identifies a distributor role record.
	EntityDistributor EntityType = "distributor"
	// EntityRetailer identifies a retailer role record.
	EntityRetailer EntityType = "retailer"
	// EntityDeployment identifies a deployed ledger instance in the directory.
	EntityDeployment EntityType = "deployment"
)

// Address is a caller identity. Identities compare case-insensitively, so
// every Address produced by NormalizeAddress is trimmed and lower-cased.
type Address string

// NormalizeAddress canonicalises a raw identity string.
func NormalizeAddress(raw string) Address {
	return Address(strings.ToLower(strings.TrimSpace(raw)))
}

// IsZero reports whether the address is empty.
func (a Address) IsZero() bool { return a == "" }

func (a Address) String() string { return string(a) }

// Stage is a product custody stage. Stages are totally ordered.
type Stage uint8

// Custody stages in the only order a product may traverse them.
const (
	StageOrdered Stage = iota
	StageRawMaterialSupplied
	StageManufactured
	StageDistributed
	StageRetailed
	StageSold
)

var stageNames = [...]string{
	StageOrdered:             "ordered",
	StageRawMaterialSupplied: "raw_material_supplied",
	StageManufactured:        "manufactured",
	StageDistributed:         "distributed",
	StageRetailed:            "retailed",
	StageSold:                "sold",
}

var stageLabels = [...]string{
	StageOrdered:             "Product Ordered",
	StageRawMaterialSupplied: "Raw Material Supply Stage",
	StageManufactured:        "Manufacturing Stage",
	StageDistributed:         "Distribution Stage",
	StageRetailed:            "Retail Stage",
	StageSold:                "Product Sold",
}

// Stages returns every stage in ledger order.
func Stages() []Stage {
	return []Stage{StageOrdered, StageRawMaterialSupplied, StageManufactured, StageDistributed, StageRetailed, StageSold}
}

// Valid reports whether s is a known stage.
func (s Stage) Valid() bool { return s <= StageSold }

// String returns the machine name of the stage.
func (s Stage) String() string {
	if !s.Valid() {
		return fmt.Sprintf("stage(%d)", uint8(s))
	}
	return stageNames[s]
}

// Label returns the descriptive label of the stage.
func (s Stage) Label() string {
	if !s.Valid() {
		return "Unknown Stage"
	}
	return stageLabels[s]
}

// Next returns the stage that follows s. Sold is terminal.
func (s Stage) Next() (Stage, bool) {
	if s >= StageSold {
		return s, false
	}
	return s + 1, true
}

// Terminal reports whether no transition leaves s.
func (s Stage) Terminal() bool { return s == StageSold }

// ParseStage resolves a machine name or numeric string into a Stage.
func ParseStage(raw string) (Stage, error) {
	value := strings.ToLower(strings.TrimSpace(raw))
	for _, s := range Stages() {
		if value == stageNames[s] || value == fmt.Sprint(uint8(s)) {
			return s, nil
		}
	}
	return 0, fmt.Errorf("unknown stage %q", raw)
}

// RoleKind is the closed set of supply-chain capabilities a role record grants.
type RoleKind string

// Role kinds, listed in the order their transitions occur.
const (
	RoleSupplier     RoleKind = "supplier"
	RoleManufacturer RoleKind = "manufacturer"
	RoleDistributor  RoleKind = "distributor"
	RoleRetailer     RoleKind = "retailer"
)

// RoleKinds returns every role kind in transition order.
func RoleKinds() []RoleKind {
	return []RoleKind{RoleSupplier, RoleManufacturer, RoleDistributor, RoleRetailer}
}

// Valid reports whether k is one of the four role kinds.
func (k RoleKind) Valid() bool {
	switch k {
	case RoleSupplier, RoleManufacturer, RoleDistributor, RoleRetailer:
		return true
	}
	return false
}

// Entity maps the role kind onto its catalog entity type.
func (k RoleKind) Entity() EntityType { return EntityType(k) }

// Stage returns the stage a product enters when a holder of k advances it.
func (k RoleKind) Stage() Stage {
	switch k {
	case RoleSupplier:
		return StageRawMaterialSupplied
	case RoleManufacturer:
		return StageManufactured
	case RoleDistributor:
		return StageDistributed
	case RoleRetailer:
		return StageRetailed
	}
	return StageOrdered
}

// RoleKindForStage returns the role kind whose ID is bound when entering s.
// Ordered and Sold bind no role.
func RoleKindForStage(s Stage) (RoleKind, bool) {
	for _, k := range RoleKinds() {
		if k.Stage() == s {
			return k, true
		}
	}
	return "", false
}

// ParseRoleKind accepts the kind names plus the short catalog aliases used by
// the original counters (rms, man, dis, ret).
func ParseRoleKind(raw string) (RoleKind, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "supplier", "suppliers", "rms":
		return RoleSupplier, nil
	case "manufacturer", "manufacturers", "man":
		return RoleManufacturer, nil
	case "distributor", "distributors", "dis":
		return RoleDistributor, nil
	case "retailer", "retailers", "ret":
		return RoleRetailer, nil
	}
	return "", fmt.Errorf("unknown role kind %q", raw)
}

// Role is an immutable registration binding an identity to a capability.
type Role struct {
	Kind    RoleKind `json:"kind"`
	ID      uint64   `json:"id"`
	Address Address  `json:"address"`
	Name    string   `json:"name"`
	Place   string   `json:"place"`
}

// Product is a tracked item. A zero role ID means the field is unset; IDs are
// allocated from 1 so zero is never a valid reference.
type Product struct {
	ID                 uint64 `json:"id"`
	Name               string `json:"name"`
	Description        string `json:"description"`
	SupplierRoleID     uint64 `json:"supplier_role_id,omitempty"`
	ManufacturerRoleID uint64 `json:"manufacturer_role_id,omitempty"`
	DistributorRoleID  uint64 `json:"distributor_role_id,omitempty"`
	RetailerRoleID     uint64 `json:"retailer_role_id,omitempty"`
	Stage              Stage  `json:"stage"`
}

// RoleID returns the role ID bound for kind, or zero when unset.
func (p Product) RoleID(kind RoleKind) uint64 {
	switch kind {
	case RoleSupplier:
		return p.SupplierRoleID
	case RoleManufacturer:
		return p.ManufacturerRoleID
	case RoleDistributor:
		return p.DistributorRoleID
	case RoleRetailer:
		return p.RetailerRoleID
	}
	return 0
}

// BindRole sets the role ID field for kind.
func (p *Product) BindRole(kind RoleKind, id uint64) {
	switch kind {
	case RoleSupplier:
		p.SupplierRoleID = id
	case RoleManufacturer:
		p.ManufacturerRoleID = id
	case RoleDistributor:
		p.DistributorRoleID = id
	case RoleRetailer:
		p.RetailerRoleID = id
	}
}

// Timestamps records when a product entered each stage. A zero time means the
// stage has not been entered.
type Timestamps struct {
	OrderedAt      time.Time `json:"ordered_at,omitzero"`
	RawSupplyAt    time.Time `json:"raw_supply_at,omitzero"`
	ManufactureAt  time.Time `json:"manufacture_at,omitzero"`
	DistributionAt time.Time `json:"distribution_at,omitzero"`
	RetailAt       time.Time `json:"retail_at,omitzero"`
	SoldAt         time.Time `json:"sold_at,omitzero"`
}

// At returns the instant stage s was entered.
func (t Timestamps) At(s Stage) time.Time {
	switch s {
	case StageOrdered:
		return t.OrderedAt
	case StageRawMaterialSupplied:
		return t.RawSupplyAt
	case StageManufactured:
		return t.ManufactureAt
	case StageDistributed:
		return t.DistributionAt
	case StageRetailed:
		return t.RetailAt
	case StageSold:
		return t.SoldAt
	}
	return time.Time{}
}

// Stamp records at as the entry instant of stage s.
func (t *Timestamps) Stamp(s Stage, at time.Time) {
	switch s {
	case StageOrdered:
		t.OrderedAt = at
	case StageRawMaterialSupplied:
		t.RawSupplyAt = at
	case StageManufactured:
		t.ManufactureAt = at
	case StageDistributed:
		t.DistributionAt = at
	case StageRetailed:
		t.RetailAt = at
	case StageSold:
		t.SoldAt = at
	}
}

// ProductState pairs a product with its timestamp record. It is the payload
// carried by product Change entries.
type ProductState struct {
	Product    Product    `json:"product"`
	Timestamps Timestamps `json:"timestamps"`
}

// Counts reports the allocation cursor of every collection.
type Counts struct {
	Products      uint64 `json:"products"`
	Suppliers     uint64 `json:"suppliers"`
	Manufacturers uint64 `json:"manufacturers"`
	Distributors  uint64 `json:"distributors"`
	Retailers     uint64 `json:"retailers"`
}

// Role returns the count for kind.
func (c Counts) Role(kind RoleKind) uint64 {
	switch kind {
	case RoleSupplier:
		return c.Suppliers
	case RoleManufacturer:
		return c.Manufacturers
	case RoleDistributor:
		return c.Distributors
	case RoleRetailer:
		return c.Retailers
	}
	return 0
}

// Participants returns the total number of role records.
func (c Counts) Participants() uint64 {
	return c.Suppliers + c.Manufacturers + c.Distributors + c.Retailers
}

// Severity captures rule outcomes.
type Severity string

// Rule evaluation severities determine commit behavior and logging.
const (
	// SeverityBlock blocks transaction commit.
	SeverityBlock Severity = "block"
	// SeverityWarn logs a warning but allows commit.
	SeverityWarn Severity = "warn"
	SeverityLog  Severity = "log"
)

// ParseSeverity resolves a severity name.
func ParseSeverity(raw string) (Severity, error) {
	switch s := Severity(strings.ToLower(strings.TrimSpace(raw))); s {
	case SeverityBlock, SeverityWarn, SeverityLog:
		return s, nil
	}
	return "", fmt.Errorf("unknown severity %q", raw)
}

// Action enumerates the mutations captured in a transaction's change set.
type Action string

// Change actions. The ledger never deletes records.
const (
	// ActionCreate indicates an entity was created.
	ActionCreate Action = "create"
	// ActionUpdate indicates an entity was updated.
	ActionUpdate Action = "update"
)

// Change describes a mutation applied within a transaction. Product changes
// carry ProductState payloads; role changes carry Role payloads.
type Change struct {
	Entity EntityType
	Action Action
	Before any
	After  any
}

// Violation reports a failed rule evaluation.
type Violation struct {
	Rule     string     `json:"rule"`
	Severity Severity   `json:"severity"`
	Message  string     `json:"message"`
	Entity   EntityType `json:"entity"`
	EntityID uint64     `json:"entity_id,omitempty"`
}

// Result aggregates violations from the rules engine.
type Result struct {
	Violations []Violation `json:"violations,omitempty"`
}

// Merge appends violations from another result.
func (r *Result) Merge(other Result) {
	if len(other.Violations) == 0 {
		return
	}
	r.Violations = append(r.Violations, other.Violations...)
}

// HasBlocking reports whether any violation blocks commit.
func (r Result) HasBlocking() bool {
	for _, v := range r.Violations {
		if v.Severity == SeverityBlock {
			return true
		}
	}
	return false
}
