package integration

import (
	"context"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/poudelalish/blockchain-inventory/internal/adapters/httpapi"
	"github.com/poudelalish/blockchain-inventory/internal/blob"
	"github.com/poudelalish/blockchain-inventory/internal/client"
	"github.com/poudelalish/blockchain-inventory/internal/core"
	"github.com/poudelalish/blockchain-inventory/internal/directory"
	"github.com/poudelalish/blockchain-inventory/internal/events"
	"github.com/poudelalish/blockchain-inventory/pkg/domain"
)

const owner = "0xowner"

// TestIntegrationSmoke deploys a ledger per storage driver, records it in a
// directory per blob driver, and drives one product from order to sale through
// the HTTP client.
func TestIntegrationSmoke(t *testing.T) {
	ctx := context.Background()
	gin.SetMode(gin.TestMode)

	storeVariants := []struct {
		name string
		cfg  func(t *testing.T) core.StorageConfig
	}{
		{
			name: "memory-store",
			cfg: func(*testing.T) core.StorageConfig {
				return core.StorageConfig{Driver: string(core.StorageMemory)}
			},
		},
		{
			name: "sqlite-store",
			cfg: func(t *testing.T) core.StorageConfig {
				return core.StorageConfig{Driver: string(core.StorageSQLite), SQLitePath: filepath.Join(t.TempDir(), "ledger.db")}
			},
		},
	}

	blobVariants := []struct {
		name string
		open func(t *testing.T) blob.Store
	}{
		{name: "memory-blob", open: func(*testing.T) blob.Store { return blob.NewMemory() }},
		{
			name: "filesystem-blob",
			open: func(t *testing.T) blob.Store {
				store, err := blob.Open(ctx, blob.Config{Driver: string(blob.DriverFilesystem), FSRoot: t.TempDir()})
				if err != nil {
					t.Fatalf("open fs blob: %v", err)
				}
				return store
			},
		},
		{name: "mock-s3-blob", open: func(*testing.T) blob.Store { return blob.NewMockS3ForTests() }},
	}

	for _, sv := range storeVariants {
		for _, bv := range blobVariants {
			t.Run(sv.name+"/"+bv.name, func(t *testing.T) {
				cfg := sv.cfg(t)
				store, closer, err := core.OpenPersistentStore(ctx, cfg, core.NewDefaultRulesEngine())
				if err != nil {
					t.Fatalf("open store: %v", err)
				}
				t.Cleanup(func() { _ = closer.Close() })

				reg := prometheus.NewRegistry()
				metrics, err := core.NewPrometheusMetricsRecorder(reg)
				if err != nil {
					t.Fatalf("metrics: %v", err)
				}
				spans := tracetest.NewSpanRecorder()
				tracer := core.NewOTelTracerFromProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spans)), "smoke")
				published := events.NewMemory()
				svc := core.NewService(store,
					core.WithMetricsRecorder(metrics),
					core.WithTracer(tracer),
					core.WithEventPublisher(published),
				)
				if _, err := svc.Bootstrap(ctx, owner); err != nil {
					t.Fatalf("bootstrap: %v", err)
				}

				api, err := httpapi.New(svc, httpapi.WithMetrics(reg, reg))
				if err != nil {
					t.Fatalf("httpapi: %v", err)
				}
				ts := httptest.NewServer(api.Handler())
				t.Cleanup(ts.Close)

				dir := directory.New(bv.open(t))
				if err := dir.Record(ctx, "31337", directory.Deployment{Address: ts.URL, Owner: owner}); err != nil {
					t.Fatalf("record deployment: %v", err)
				}

				dial := func(caller string) *client.Client {
					c, err := client.Dial(ctx, dir, "31337", client.WithCaller(caller))
					if err != nil {
						t.Fatalf("dial: %v", err)
					}
					return c
				}
				admin := dial(owner)
				actors := map[domain.RoleKind]string{
					domain.RoleSupplier:     "0xsupplier",
					domain.RoleManufacturer: "0xmanufacturer",
					domain.RoleDistributor:  "0xdistributor",
					domain.RoleRetailer:     "0xretailer",
				}
				for _, kind := range domain.RoleKinds() {
					if _, err := admin.RegisterRole(ctx, kind, actors[kind], string(kind), "Biratnagar"); err != nil {
						t.Fatalf("register %s: %v", kind, err)
					}
				}
				product, err := admin.CreateProduct(ctx, "Jute", "raw fibre")
				if err != nil {
					t.Fatalf("create product: %v", err)
				}
				for _, step := range []struct {
					kind domain.RoleKind
					op   string
				}{
					{domain.RoleSupplier, core.OpSupplyRawMaterial},
					{domain.RoleManufacturer, core.OpManufacture},
					{domain.RoleDistributor, core.OpDistribute},
					{domain.RoleRetailer, core.OpRetail},
					{domain.RoleRetailer, core.OpSell},
				} {
					if _, err := dial(actors[step.kind]).Transition(ctx, step.op, product.ID); err != nil {
						t.Fatalf("%s: %v", step.op, err)
					}
				}

				got, err := svc.Product(ctx, product.ID)
				if err != nil {
					t.Fatalf("product: %v", err)
				}
				if got.Stage != domain.StageSold {
					t.Fatalf("expected sold, got %s", got.Stage)
				}
				kpis, err := admin.LoadKPIs(ctx)
				if err != nil {
					t.Fatalf("kpis: %v", err)
				}
				if kpis.Participants != 4 || kpis.Sold() != 1 || kpis.InProgress != 0 {
					t.Fatalf("unexpected kpis %+v", kpis)
				}

				if n := promtestutil.CollectAndCount(reg, "supplyledger_core_operations_total"); n == 0 {
					t.Fatalf("expected core operation metrics")
				}
				if len(spans.Ended()) == 0 {
					t.Fatalf("expected ended spans")
				}
				// 4 registrations, 1 creation, 5 advances.
				if n := len(published.Events()); n != 10 {
					t.Fatalf("expected 10 events, got %d", n)
				}
			})
		}
	}
}

// TestSQLiteLedgerSurvivesRestart reopens a sqlite ledger and checks that
// counters, records and the owner were reloaded.
func TestSQLiteLedgerSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	cfg := core.StorageConfig{Driver: string(core.StorageSQLite), SQLitePath: filepath.Join(t.TempDir(), "ledger.db")}

	store, closer, err := core.OpenPersistentStore(ctx, cfg, core.NewDefaultRulesEngine())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	svc := core.NewService(store)
	if _, err := svc.Bootstrap(ctx, owner); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	call := domain.Call{Caller: owner}
	if _, _, err := svc.RegisterSupplier(ctx, call, "0xs", "Farm", "Jhapa"); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, _, err := svc.CreateProduct(ctx, call, "Tea", ""); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, _, err := svc.SupplyRawMaterial(ctx, domain.Call{Caller: "0xs"}, 1); err != nil {
		t.Fatalf("supply: %v", err)
	}
	_ = closer.Close()

	store, closer, err = core.OpenPersistentStore(ctx, cfg, core.NewDefaultRulesEngine())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer func() { _ = closer.Close() }()
	svc = core.NewService(store)
	gotOwner, err := svc.Owner(ctx)
	if err != nil || gotOwner != owner {
		t.Fatalf("expected owner %s, got %s (%v)", owner, gotOwner, err)
	}
	counts, err := svc.Counts(ctx)
	if err != nil {
		t.Fatalf("counts: %v", err)
	}
	if counts.Products != 1 || counts.Suppliers != 1 {
		t.Fatalf("unexpected counts %+v", counts)
	}
	label, err := svc.StageLabel(ctx, 1)
	if err != nil || label != "Raw Material Supply Stage" {
		t.Fatalf("unexpected label %q (%v)", label, err)
	}
	if _, err := svc.Bootstrap(ctx, "0xintruder"); err == nil {
		t.Fatalf("expected a different owner to be rejected")
	}
}
