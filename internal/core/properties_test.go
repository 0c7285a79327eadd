package core

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"pgregory.net/rapid"

	"github.com/poudelalish/blockchain-inventory/internal/infra/persistence/memory"
	"github.com/poudelalish/blockchain-inventory/pkg/domain"
)

var propertyCallers = []domain.Address{testOwner, testSupplier, testManufacturer, testDistributor, testRetailer, testStranger, "0xsecondretailer"}

// TestLedgerInvariantsHoldUnderRandomCalls drives the service with arbitrary
// call sequences and checks the ledger invariants after every call.
func TestLedgerInvariantsHoldUnderRandomCalls(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		svc := NewInMemoryService(NewDefaultRulesEngine(), WithClock(newSteppingClock()))
		ctx := context.Background()
		if _, err := svc.Bootstrap(ctx, testOwner); err != nil {
			rt.Fatalf("bootstrap: %v", err)
		}
		store := svc.Store().(*memory.Store)
		history := map[uint64]domain.ProductState{}

		steps := rapid.IntRange(1, 60).Draw(rt, "steps")
		for i := 0; i < steps; i++ {
			before := store.ExportState()
			caller := rapid.SampledFrom(propertyCallers).Draw(rt, "caller")
			var err error
			switch rapid.IntRange(0, 2).Draw(rt, "kind") {
			case 0:
				_, _, err = svc.CreateProduct(ctx, as(caller), "p", "d")
			case 1:
				kind := rapid.SampledFrom(domain.RoleKinds()).Draw(rt, "role")
				holder := rapid.SampledFrom(propertyCallers).Draw(rt, "holder")
				_, _, err = svc.RegisterRole(ctx, as(caller), kind, string(holder), "n", "p")
				if caller != testOwner && !errors.Is(err, domain.ErrAuthorization) {
					rt.Fatalf("non-owner registration returned %v", err)
				}
			default:
				op := rapid.SampledFrom(TransitionOperations()).Draw(rt, "op")
				counts, _ := svc.Counts(ctx)
				id := rapid.Uint64Range(0, counts.Products+1).Draw(rt, "product")
				_, _, err = svc.Transition(ctx, as(caller), op, id)
				if (id == 0 || id > counts.Products) && !errors.Is(err, domain.ErrNotFound) {
					rt.Fatalf("out of range id %d returned %v", id, err)
				}
			}
			if err != nil {
				if after := store.ExportState(); !reflect.DeepEqual(before, after) {
					rt.Fatalf("failed call mutated state: %v", err)
				}
			}
			checkLedgerInvariants(rt, svc, history)
		}
	})
}

func checkLedgerInvariants(rt *rapid.T, svc *Service, history map[uint64]domain.ProductState) {
	ctx := context.Background()
	products, _ := svc.Products(ctx)
	for i, p := range products {
		if p.ID != uint64(i+1) {
			rt.Fatalf("product ids not dense: position %d has id %d", i, p.ID)
		}
		ts, _ := svc.Timestamps(ctx, p.ID)
		state := domain.ProductState{Product: p, Timestamps: ts}
		if err := domain.CheckProductState(state); err != nil {
			rt.Fatalf("invariant: %v", err)
		}
		if prev, seen := history[p.ID]; seen {
			if p.Stage < prev.Product.Stage {
				rt.Fatalf("product %d regressed from %s to %s", p.ID, prev.Product.Stage, p.Stage)
			}
			if p.Stage != prev.Product.Stage {
				if p.Stage != prev.Product.Stage+1 {
					rt.Fatalf("product %d skipped from %s to %s", p.ID, prev.Product.Stage, p.Stage)
				}
				if msg := checkAdvance(prev, state); msg != "" {
					rt.Fatalf("illegal advance: %s", msg)
				}
			}
			for _, kind := range domain.RoleKinds() {
				if id := prev.Product.RoleID(kind); id != 0 && p.RoleID(kind) != id {
					rt.Fatalf("product %d %s role rebound", p.ID, kind)
				}
			}
			for _, s := range domain.Stages() {
				if at := prev.Timestamps.At(s); !at.IsZero() && !ts.At(s).Equal(at) {
					rt.Fatalf("product %d %s timestamp rewritten", p.ID, s)
				}
			}
		}
		history[p.ID] = state
	}
	for _, kind := range domain.RoleKinds() {
		roles, _ := svc.Roles(ctx, kind)
		for i, r := range roles {
			if r.ID != uint64(i+1) {
				rt.Fatalf("%s ids not dense: position %d has id %d", kind, i, r.ID)
			}
		}
	}
}
