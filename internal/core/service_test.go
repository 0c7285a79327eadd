package core

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/poudelalish/blockchain-inventory/pkg/domain"
)

func TestCreateProductStartsOrdered(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	product, _, err := svc.CreateProduct(ctx, as(testStranger), "Widget", "desc")
	if err != nil {
		t.Fatalf("create product: %v", err)
	}
	if product.ID != 1 || product.Stage != domain.StageOrdered {
		t.Fatalf("unexpected product: %+v", product)
	}
	for _, kind := range domain.RoleKinds() {
		if product.RoleID(kind) != 0 {
			t.Fatalf("expected %s role unset, got %d", kind, product.RoleID(kind))
		}
	}
	ts, err := svc.Timestamps(ctx, product.ID)
	if err != nil {
		t.Fatalf("timestamps: %v", err)
	}
	if ts.OrderedAt.IsZero() || !ts.RawSupplyAt.IsZero() {
		t.Fatalf("unexpected timestamps: %+v", ts)
	}
	label, err := svc.StageLabel(ctx, product.ID)
	if err != nil || label != "Product Ordered" {
		t.Fatalf("expected Product Ordered label, got %q (%v)", label, err)
	}
}

func TestManufactureBeforeSupplyIsStateError(t *testing.T) {
	svc := newTestService(t)
	registerCast(t, svc)
	ctx := context.Background()
	product, _, _ := svc.CreateProduct(ctx, as(testStranger), "Widget", "desc")

	_, _, err := svc.Manufacture(ctx, as(testManufacturer), product.ID)
	var stateErr domain.StateError
	if !errors.As(err, &stateErr) {
		t.Fatalf("expected StateError, got %v", err)
	}
	if stateErr.Current != domain.StageOrdered || stateErr.Required != domain.StageRawMaterialSupplied {
		t.Fatalf("unexpected state error: %+v", stateErr)
	}
	got, _ := svc.Product(ctx, product.ID)
	if got.Stage != domain.StageOrdered {
		t.Fatalf("expected stage to remain ordered, got %s", got.Stage)
	}
}

func TestUnregisteredSupplierIsUnauthorized(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	product, _, _ := svc.CreateProduct(ctx, as(testStranger), "Widget", "desc")

	_, _, err := svc.SupplyRawMaterial(ctx, as(testStranger), product.ID)
	if !errors.Is(err, domain.ErrAuthorization) {
		t.Fatalf("expected authorization error, got %v", err)
	}
}

func TestFullCustodySequence(t *testing.T) {
	svc := newTestService(t)
	ids := registerCast(t, svc)
	ctx := context.Background()
	product, _, _ := svc.CreateProduct(ctx, as(testStranger), "Widget", "desc")

	steps := []struct {
		name   string
		caller domain.Address
		run    func(context.Context, domain.Call, uint64) (domain.Product, domain.Result, error)
	}{
		{"supply", testSupplier, svc.SupplyRawMaterial},
		{"manufacture", testManufacturer, svc.Manufacture},
		{"distribute", testDistributor, svc.Distribute},
		{"retail", testRetailer, svc.Retail},
		{"sell", testRetailer, svc.Sell},
	}
	for _, step := range steps {
		if _, _, err := step.run(ctx, as(step.caller), product.ID); err != nil {
			t.Fatalf("%s: %v", step.name, err)
		}
	}

	got, err := svc.Product(ctx, product.ID)
	if err != nil {
		t.Fatalf("product: %v", err)
	}
	if got.Stage != domain.StageSold {
		t.Fatalf("expected sold, got %s", got.Stage)
	}
	for kind, id := range ids {
		if got.RoleID(kind) != id {
			t.Fatalf("expected %s role %d, got %d", kind, id, got.RoleID(kind))
		}
	}
	ts, _ := svc.Timestamps(ctx, product.ID)
	prev := ts.At(domain.StageOrdered)
	for _, s := range domain.Stages() {
		at := ts.At(s)
		if at.IsZero() {
			t.Fatalf("expected %s timestamp set", s)
		}
		if at.Before(prev) {
			t.Fatalf("timestamp for %s precedes previous stage", s)
		}
		prev = at
	}
	if label, _ := svc.StageLabel(ctx, product.ID); label != "Product Sold" {
		t.Fatalf("unexpected label %q", label)
	}
}

func TestSellRequiresBoundRetailer(t *testing.T) {
	svc := newTestService(t)
	registerCast(t, svc)
	ctx := context.Background()
	other := domain.Address("0xotherretailer")
	if _, _, err := svc.RegisterRetailer(ctx, as(testOwner), string(other), "Other", "elsewhere"); err != nil {
		t.Fatalf("register second retailer: %v", err)
	}
	product, _, _ := svc.CreateProduct(ctx, as(testStranger), "Widget", "desc")
	for _, step := range []struct {
		op     string
		caller domain.Address
	}{
		{OpSupplyRawMaterial, testSupplier},
		{OpManufacture, testManufacturer},
		{OpDistribute, testDistributor},
		{OpRetail, testRetailer},
	} {
		if _, _, err := svc.Transition(ctx, as(step.caller), step.op, product.ID); err != nil {
			t.Fatalf("%s: %v", step.op, err)
		}
	}

	_, _, err := svc.Sell(ctx, as(other), product.ID)
	if !errors.Is(err, domain.ErrAuthorization) {
		t.Fatalf("expected authorization error for foreign retailer, got %v", err)
	}
	got, _ := svc.Product(ctx, product.ID)
	if got.Stage != domain.StageRetailed {
		t.Fatalf("expected product to stay retailed, got %s", got.Stage)
	}
}

func TestRegistrationIsOwnerOnly(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	for _, kind := range domain.RoleKinds() {
		_, _, err := svc.RegisterRole(ctx, as(testStranger), kind, "0xabc", "n", "p")
		if !errors.Is(err, domain.ErrAuthorization) {
			t.Fatalf("%s: expected authorization error, got %v", kind, err)
		}
		_, _, err = svc.RegisterRole(ctx, as(""), kind, "0xabc", "n", "p")
		if !errors.Is(err, domain.ErrAuthorization) {
			t.Fatalf("%s: expected authorization error for empty caller, got %v", kind, err)
		}
	}
	counts, _ := svc.Counts(ctx)
	if counts.Participants() != 0 {
		t.Fatalf("expected no roles, got %+v", counts)
	}
}

func TestOwnerComparisonIgnoresCase(t *testing.T) {
	svc := newTestService(t)
	role, _, err := svc.RegisterSupplier(context.Background(), domain.NewCall(" 0xOWNER ", testEpoch), "0xSUP", "S", "P")
	if err != nil {
		t.Fatalf("register with mixed-case owner: %v", err)
	}
	if role.Address != "0xsup" {
		t.Fatalf("expected normalised address, got %s", role.Address)
	}
}

func TestRegistrationWithoutOwnerIsUnauthorized(t *testing.T) {
	svc := NewInMemoryService(NewDefaultRulesEngine())
	_, _, err := svc.RegisterSupplier(context.Background(), as(testOwner), "0xs", "n", "p")
	if !errors.Is(err, domain.ErrAuthorization) {
		t.Fatalf("expected authorization error before bootstrap, got %v", err)
	}
}

func TestBootstrapIsSetOnce(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	owner, err := svc.Bootstrap(ctx, "0xOwner")
	if err != nil || owner != testOwner {
		t.Fatalf("expected idempotent bootstrap, got %s (%v)", owner, err)
	}
	if _, err := svc.Bootstrap(ctx, testStranger); !errors.Is(err, domain.ErrAuthorization) {
		t.Fatalf("expected authorization error on owner change, got %v", err)
	}
	if got, _ := svc.Owner(ctx); got != testOwner {
		t.Fatalf("owner changed to %s", got)
	}
	fresh := NewInMemoryService(nil)
	if _, err := fresh.Bootstrap(ctx, ""); !errors.Is(err, domain.ErrAuthorization) {
		t.Fatalf("expected empty owner to be rejected, got %v", err)
	}
}

func TestValidationOrder(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	// Missing product outranks the stranger's missing role.
	if _, _, err := svc.SupplyRawMaterial(ctx, as(testStranger), 1); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	product, _, _ := svc.CreateProduct(ctx, as(testStranger), "Widget", "desc")
	// Wrong stage outranks the missing role.
	if _, _, err := svc.Retail(ctx, as(testStranger), product.ID); !errors.Is(err, domain.ErrState) {
		t.Fatalf("expected state error, got %v", err)
	}
	if _, _, err := svc.SupplyRawMaterial(ctx, as(testStranger), 0); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found for id 0, got %v", err)
	}
}

func TestRetryAfterCommitIsStateError(t *testing.T) {
	svc := newTestService(t)
	ids := registerCast(t, svc)
	ctx := context.Background()
	product, _, _ := svc.CreateProduct(ctx, as(testStranger), "Widget", "desc")
	if _, _, err := svc.SupplyRawMaterial(ctx, as(testSupplier), product.ID); err != nil {
		t.Fatalf("supply: %v", err)
	}
	before, _ := svc.Timestamps(ctx, product.ID)
	if _, _, err := svc.SupplyRawMaterial(ctx, as(testSupplier), product.ID); !errors.Is(err, domain.ErrState) {
		t.Fatalf("expected state error on retry, got %v", err)
	}
	after, _ := svc.Timestamps(ctx, product.ID)
	if after != before {
		t.Fatalf("retry changed timestamps: %+v -> %+v", before, after)
	}
	got, _ := svc.Product(ctx, product.ID)
	if got.SupplierRoleID != ids[domain.RoleSupplier] {
		t.Fatalf("unexpected supplier id %d", got.SupplierRoleID)
	}
}

func TestDuplicateRoleAddressResolvesToLowestID(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	first, _, _ := svc.RegisterSupplier(ctx, as(testOwner), string(testSupplier), "First", "A")
	second, _, _ := svc.RegisterSupplier(ctx, as(testOwner), string(testSupplier), "Second", "B")
	if first.ID != 1 || second.ID != 2 {
		t.Fatalf("expected dense ids, got %d and %d", first.ID, second.ID)
	}
	product, _, _ := svc.CreateProduct(ctx, as(testStranger), "Widget", "desc")
	updated, _, err := svc.SupplyRawMaterial(ctx, as(testSupplier), product.ID)
	if err != nil {
		t.Fatalf("supply: %v", err)
	}
	if updated.SupplierRoleID != first.ID {
		t.Fatalf("expected lowest id %d bound, got %d", first.ID, updated.SupplierRoleID)
	}
}

func TestQueriesReportNotFound(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	if _, err := svc.Product(ctx, 3); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected product not found, got %v", err)
	}
	if _, err := svc.Timestamps(ctx, 3); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected timestamps not found, got %v", err)
	}
	if _, err := svc.StageLabel(ctx, 3); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected label not found, got %v", err)
	}
	if _, err := svc.Role(ctx, domain.RoleRetailer, 1); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected role not found, got %v", err)
	}
}

func TestListingQueriesInIDOrder(t *testing.T) {
	svc := newTestService(t)
	registerCast(t, svc)
	ctx := context.Background()
	for _, name := range []string{"a", "b", "c"} {
		if _, _, err := svc.CreateProduct(ctx, as(testStranger), name, ""); err != nil {
			t.Fatalf("create %s: %v", name, err)
		}
	}
	products, _ := svc.Products(ctx)
	if len(products) != 3 || products[0].Name != "a" || products[2].ID != 3 {
		t.Fatalf("unexpected products: %+v", products)
	}
	roles, _ := svc.Roles(ctx, domain.RoleManufacturer)
	if len(roles) != 1 || roles[0].Address != testManufacturer {
		t.Fatalf("unexpected roles: %+v", roles)
	}
	if n, _ := svc.ProductCount(ctx); n != 3 {
		t.Fatalf("expected 3 products, got %d", n)
	}
	if n, _ := svc.RoleCount(ctx, domain.RoleRetailer); n != 1 {
		t.Fatalf("expected 1 retailer, got %d", n)
	}
	role, err := svc.Role(ctx, domain.RoleDistributor, 1)
	if err != nil || role.Address != testDistributor {
		t.Fatalf("unexpected distributor: %+v (%v)", role, err)
	}
}

func TestUnknownOperations(t *testing.T) {
	svc := newTestService(t)
	if _, _, err := svc.Transition(context.Background(), as(testOwner), "teleport", 1); err == nil {
		t.Fatal("expected unknown transition error")
	}
	if _, _, err := svc.RegisterRole(context.Background(), as(testOwner), "wizard", "a", "b", "c"); err == nil {
		t.Fatal("expected unknown role kind error")
	}
	if ops := TransitionOperations(); len(ops) != 5 || ops[4] != OpSell {
		t.Fatalf("unexpected transition operations %v", ops)
	}
}

func TestCanceledContextLeavesNoTrace(t *testing.T) {
	svc := newTestService(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, _, err := svc.CreateProduct(ctx, as(testStranger), "Widget", ""); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected canceled, got %v", err)
	}
	if n, _ := svc.ProductCount(context.Background()); n != 0 {
		t.Fatalf("expected no products, got %d", n)
	}
}

func TestExplicitCallTimeBackwardsIsBlocked(t *testing.T) {
	svc := newTestService(t)
	registerCast(t, svc)
	ctx := context.Background()
	product, _, _ := svc.CreateProduct(ctx, domain.NewCall(string(testStranger), testEpoch.Add(time.Hour)), "Widget", "")
	_, _, err := svc.SupplyRawMaterial(ctx, domain.NewCall(string(testSupplier), testEpoch), product.ID)
	if !errors.Is(err, domain.ErrRuleViolation) {
		t.Fatalf("expected rule violation for out-of-order time, got %v", err)
	}
	got, _ := svc.Product(ctx, product.ID)
	if got.Stage != domain.StageOrdered {
		t.Fatalf("expected stage unchanged, got %s", got.Stage)
	}
}
