package core

import (
	"fmt"

	"github.com/poudelalish/blockchain-inventory/pkg/domain"
)

// Operation names used in logs, metrics, audit entries, traces and events.
const (
	OpBootstrap            = "bootstrap"
	OpRegisterSupplier     = "register_supplier"
	OpRegisterManufacturer = "register_manufacturer"
	OpRegisterDistributor  = "register_distributor"
	OpRegisterRetailer     = "register_retailer"
	OpCreateProduct        = "create_product"
	OpSupplyRawMaterial    = "supply_raw_material"
	OpManufacture          = "manufacture"
	OpDistribute           = "distribute"
	OpRetail               = "retail"
	OpSell                 = "sell"
)

// RegisterOperation returns the registration operation name for kind.
func RegisterOperation(kind domain.RoleKind) string {
	switch kind {
	case domain.RoleSupplier:
		return OpRegisterSupplier
	case domain.RoleManufacturer:
		return OpRegisterManufacturer
	case domain.RoleDistributor:
		return OpRegisterDistributor
	case domain.RoleRetailer:
		return OpRegisterRetailer
	}
	return ""
}

// transition is one row of the stage table: the stage a product must be in,
// the stage it moves to and the role the caller must hold. boundOnly
// restricts the caller to the role record already bound to the product.
type transition struct {
	op        string
	from      domain.Stage
	to        domain.Stage
	role      domain.RoleKind
	boundOnly bool
}

var transitions = []transition{
	{op: OpSupplyRawMaterial, from: domain.StageOrdered, to: domain.StageRawMaterialSupplied, role: domain.RoleSupplier},
	{op: OpManufacture, from: domain.StageRawMaterialSupplied, to: domain.StageManufactured, role: domain.RoleManufacturer},
	{op: OpDistribute, from: domain.StageManufactured, to: domain.StageDistributed, role: domain.RoleDistributor},
	{op: OpRetail, from: domain.StageDistributed, to: domain.StageRetailed, role: domain.RoleRetailer},
	{op: OpSell, from: domain.StageRetailed, to: domain.StageSold, role: domain.RoleRetailer, boundOnly: true},
}

// TransitionOperations lists the stage-advancing operations in stage order.
func TransitionOperations() []string {
	out := make([]string, 0, len(transitions))
	for _, t := range transitions {
		out = append(out, t.op)
	}
	return out
}

func lookupTransition(op string) (transition, bool) {
	for _, t := range transitions {
		if t.op == op {
			return t, true
		}
	}
	return transition{}, false
}

// validate runs the three checks in order: existence, stage, then caller
// role. It returns the role ID the transition binds (zero for sell, which
// binds no new field).
func (t transition) validate(view domain.TransactionView, caller domain.Address, productID uint64) (uint64, error) {
	product, ok := view.FindProduct(productID)
	if !ok {
		return 0, domain.NotFoundError{Entity: domain.EntityProduct, ID: productID}
	}
	if product.Stage != t.from {
		return 0, domain.StateError{Operation: t.op, ProductID: productID, Current: product.Stage, Required: t.from}
	}
	role, ok := view.FindRoleByAddress(t.role, caller)
	if !ok {
		return 0, domain.AuthorizationError{Operation: t.op, Caller: caller, Required: "a registered " + string(t.role)}
	}
	if t.boundOnly {
		bound := product.RoleID(t.role)
		if role.ID != bound {
			return 0, domain.AuthorizationError{
				Operation: t.op,
				Caller:    caller,
				Required:  fmt.Sprintf("the %s bound to product %d (id %d)", t.role, productID, bound),
			}
		}
		return 0, nil
	}
	return role.ID, nil
}
