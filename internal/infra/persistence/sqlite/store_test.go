package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/poudelalish/blockchain-inventory/internal/infra/persistence/memory"
	"github.com/poudelalish/blockchain-inventory/pkg/domain"
	"github.com/poudelalish/blockchain-inventory/testutil"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestSQLiteStorePersistAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "state.db")
	store, err := NewStore(path, domain.NewRulesEngine())
	if err != nil {
		t.Skipf("sqlite unavailable: %v", err)
	}
	ctx := context.Background()
	if _, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		if err := tx.SetOwner("0xowner"); err != nil {
			return err
		}
		if _, err := tx.CreateRole(domain.Role{Kind: domain.RoleSupplier, Address: "0xs", Name: "S", Place: "A"}); err != nil {
			return err
		}
		p, err := tx.CreateProduct("Persist", "d", t0)
		if err != nil {
			return err
		}
		_, err = tx.AdvanceProduct(p.ID, domain.StageRawMaterialSupplied, 1, t0.Add(time.Second))
		return err
	}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if store.Path() != path {
		t.Fatalf("unexpected path %s", store.Path())
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reloaded, err := NewStore(path, domain.NewRulesEngine())
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	t.Cleanup(func() { _ = reloaded.Close() })
	_ = reloaded.View(ctx, func(v domain.TransactionView) error {
		if v.Owner() != "0xowner" {
			t.Fatalf("owner not reloaded: %q", v.Owner())
		}
		p, ok := v.FindProduct(1)
		if !ok || p.Stage != domain.StageRawMaterialSupplied || p.SupplierRoleID != 1 {
			t.Fatalf("unexpected product %+v", p)
		}
		ts, _ := v.FindTimestamps(1)
		if !ts.RawSupplyAt.Equal(t0.Add(time.Second)) {
			t.Fatalf("timestamps not reloaded: %+v", ts)
		}
		return nil
	})
}

func TestSQLiteStoreRejectedTransactionNotPersisted(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	store, err := NewStore(path, domain.NewRulesEngine())
	if err != nil {
		t.Skipf("sqlite unavailable: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	_, _ = store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, _ = tx.CreateProduct("Ghost", "", t0)
		return domain.StateError{Operation: "test"}
	})
	var n int
	if err := store.DB().QueryRow(`SELECT COUNT(*) FROM state`).Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected no persisted buckets, got %d", n)
	}
}

func TestSQLiteStoreRejectsCorruptState(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	store, err := NewStore(path, nil)
	if err != nil {
		t.Skipf("sqlite unavailable: %v", err)
	}
	if _, err := store.DB().Exec(`INSERT INTO state(bucket,payload) VALUES(?,?)`, memory.BucketProducts, []byte("{")); err != nil {
		t.Fatalf("seed: %v", err)
	}
	_ = store.Close()
	if _, err := NewStore(path, nil); err == nil {
		t.Fatalf("expected corrupt snapshot to fail load")
	}
}

func TestImportsAreDomainOrPersistence(t *testing.T) {
	testutil.AssertNoDirectImports(t, ".", testutil.OnlyModulePackages("pkg/domain", "internal/infra/persistence/memory"), "sqlite store builds on the memory arena only")
}
