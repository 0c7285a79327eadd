package core

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/poudelalish/blockchain-inventory/pkg/domain"
)

func installPolicies(t *testing.T, svc *Service, policies ...PolicyConfig) {
	t.Helper()
	plugin, err := NewPolicyPlugin(policies)
	if err != nil {
		t.Fatalf("policy plugin: %v", err)
	}
	if _, err := svc.InstallPlugin(plugin); err != nil {
		t.Fatalf("install: %v", err)
	}
}

func TestBlockingPolicyRejectsProduct(t *testing.T) {
	svc := newTestService(t)
	installPolicies(t, svc, PolicyConfig{Name: "named", Expression: `len(product.Name) > 0`})
	ctx := context.Background()

	_, res, err := svc.CreateProduct(ctx, as(testStranger), "", "anonymous")
	if !errors.Is(err, domain.ErrRuleViolation) {
		t.Fatalf("expected rule violation, got %v", err)
	}
	if len(res.Violations) != 1 || res.Violations[0].Rule != "named" {
		t.Fatalf("unexpected result %+v", res)
	}
	if n, _ := svc.ProductCount(ctx); n != 0 {
		t.Fatalf("expected no product committed, got %d", n)
	}
	if _, _, err := svc.CreateProduct(ctx, as(testStranger), "Widget", ""); err != nil {
		t.Fatalf("expected named product to pass, got %v", err)
	}
}

func TestWarnPolicyCommitsWithViolation(t *testing.T) {
	svc := newTestService(t)
	installPolicies(t, svc, PolicyConfig{
		Name:       "described",
		Expression: `product.Description != ""`,
		Severity:   "warn",
		Message:    "product has no description",
	})
	product, res, err := svc.CreateProduct(context.Background(), as(testStranger), "Widget", "")
	if err != nil {
		t.Fatalf("warn policy must not block: %v", err)
	}
	if len(res.Violations) != 1 || res.Violations[0].Severity != domain.SeverityWarn || res.Violations[0].EntityID != product.ID {
		t.Fatalf("unexpected result %+v", res)
	}
	if res.Violations[0].Message != "product has no description" {
		t.Fatalf("unexpected message %q", res.Violations[0].Message)
	}
}

func TestRolePolicySeesRoleChanges(t *testing.T) {
	svc := newTestService(t)
	installPolicies(t, svc, PolicyConfig{
		Name:       "placed",
		Entity:     "ret",
		Expression: `role.Place != ""`,
	})
	ctx := context.Background()
	if _, _, err := svc.RegisterRetailer(ctx, as(testOwner), "0xr", "Shop", ""); !errors.Is(err, domain.ErrRuleViolation) {
		t.Fatalf("expected violation for retailer without place, got %v", err)
	}
	if _, _, err := svc.RegisterSupplier(ctx, as(testOwner), "0xs", "Farm", ""); err != nil {
		t.Fatalf("supplier is outside the policy: %v", err)
	}
}

func TestPolicyStageAndBeforeBindings(t *testing.T) {
	svc := newTestService(t)
	registerCast(t, svc)
	installPolicies(t, svc, PolicyConfig{
		Name:       "name_stable",
		Expression: `action == "create" || (before.Name == product.Name && stage != "ordered")`,
	})
	ctx := context.Background()
	product, _, err := svc.CreateProduct(ctx, as(testStranger), "Widget", "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, _, err := svc.SupplyRawMaterial(ctx, as(testSupplier), product.ID); err != nil {
		t.Fatalf("supply: %v", err)
	}
}

func TestPolicyConfigErrors(t *testing.T) {
	cases := []PolicyConfig{
		{Expression: "true"},
		{Name: "empty"},
		{Name: "bad_sev", Expression: "true", Severity: "panic"},
		{Name: "bad_entity", Expression: "true", Entity: "wizard"},
		{Name: "bad_syntax", Expression: "product.Name ==="},
	}
	for _, cfg := range cases {
		if _, err := NewExprRule(cfg); err == nil {
			t.Fatalf("expected error for %+v", cfg)
		}
	}
	if _, err := NewPolicyPlugin([]PolicyConfig{{Name: "a", Expression: "true"}, {Name: "a", Expression: "true"}}); err == nil {
		t.Fatal("expected duplicate policy error")
	}
}

func TestPolicyNonBooleanResultErrors(t *testing.T) {
	svc := newTestService(t)
	installPolicies(t, svc, PolicyConfig{Name: "numeric", Expression: `product.ID + 1`})
	_, _, err := svc.CreateProduct(context.Background(), as(testStranger), "Widget", "")
	if err == nil || !strings.Contains(err.Error(), "want bool") {
		t.Fatalf("expected non-bool error, got %v", err)
	}
}

type ruleOnlyPlugin struct {
	name string
	err  error
}

func (p ruleOnlyPlugin) Name() string    { return p.name }
func (p ruleOnlyPlugin) Version() string { return "0.1" }
func (p ruleOnlyPlugin) Register(r *PluginRegistry) error {
	r.RegisterRule(nil)
	r.RegisterRule(StageTransitionRule())
	return p.err
}

func TestInstallPlugin(t *testing.T) {
	svc := newTestService(t)
	meta, err := svc.InstallPlugin(ruleOnlyPlugin{name: "extra"})
	if err != nil {
		t.Fatalf("install: %v", err)
	}
	if meta.Version != "0.1" || len(meta.Rules) != 1 {
		t.Fatalf("unexpected metadata %+v", meta)
	}
	if _, err := svc.InstallPlugin(ruleOnlyPlugin{name: "extra"}); err == nil || !strings.Contains(err.Error(), "already registered") {
		t.Fatalf("expected duplicate error, got %v", err)
	}
	if _, err := svc.InstallPlugin(ruleOnlyPlugin{name: "broken", err: errors.New("nope")}); err == nil {
		t.Fatal("expected register error")
	}
	if _, err := svc.InstallPlugin(nil); err == nil {
		t.Fatal("expected nil plugin error")
	}
	if plugins := svc.RegisteredPlugins(); len(plugins) != 1 || plugins[0].Name != "extra" {
		t.Fatalf("unexpected plugins %+v", plugins)
	}
}
