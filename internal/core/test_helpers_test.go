package core

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/poudelalish/blockchain-inventory/pkg/domain"
)

const (
	testOwner        = domain.Address("0xowner")
	testSupplier     = domain.Address("0xsupplier")
	testManufacturer = domain.Address("0xmanufacturer")
	testDistributor  = domain.Address("0xdistributor")
	testRetailer     = domain.Address("0xretailer")
	testStranger     = domain.Address("0xstranger")
)

var testEpoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

// steppingClock advances one minute per reading.
type steppingClock struct {
	mu   sync.Mutex
	next time.Time
}

func newSteppingClock() *steppingClock { return &steppingClock{next: testEpoch} }

func (c *steppingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.next
	c.next = c.next.Add(time.Minute)
	return now
}

func as(caller domain.Address) domain.Call {
	return domain.Call{Caller: caller}
}

func newTestService(t *testing.T, opts ...Option) *Service {
	t.Helper()
	opts = append([]Option{WithClock(newSteppingClock())}, opts...)
	svc := NewInMemoryService(NewDefaultRulesEngine(), opts...)
	if _, err := svc.Bootstrap(context.Background(), testOwner); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	return svc
}

// registerCast registers one role of each kind and returns their IDs.
func registerCast(t *testing.T, svc *Service) map[domain.RoleKind]uint64 {
	t.Helper()
	ctx := context.Background()
	holders := map[domain.RoleKind]domain.Address{
		domain.RoleSupplier:     testSupplier,
		domain.RoleManufacturer: testManufacturer,
		domain.RoleDistributor:  testDistributor,
		domain.RoleRetailer:     testRetailer,
	}
	ids := make(map[domain.RoleKind]uint64, len(holders))
	for _, kind := range domain.RoleKinds() {
		role, _, err := svc.RegisterRole(ctx, as(testOwner), kind, string(holders[kind]), string(kind)+" co", "somewhere")
		if err != nil {
			t.Fatalf("register %s: %v", kind, err)
		}
		ids[kind] = role.ID
	}
	return ids
}
