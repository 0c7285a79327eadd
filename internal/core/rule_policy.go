package core

import (
	"context"
	"fmt"
	"strings"

	exprlang "github.com/expr-lang/expr"
	exprvm "github.com/expr-lang/expr/vm"

	"github.com/poudelalish/blockchain-inventory/pkg/domain"
)

// PolicyConfig declares an expression policy. The expression must evaluate
// to a boolean; false produces a violation with the configured severity.
// Entity selects the changes the policy sees: "product" (default) or a role
// kind such as "supplier".
type PolicyConfig struct {
	Name       string `mapstructure:"name" json:"name" yaml:"name"`
	Expression string `mapstructure:"expression" json:"expression" yaml:"expression"`
	Severity   string `mapstructure:"severity" json:"severity" yaml:"severity"`
	Entity     string `mapstructure:"entity" json:"entity" yaml:"entity"`
	Message    string `mapstructure:"message" json:"message" yaml:"message"`
}

// ExprRule evaluates a compiled expr-lang program against each matching
// change.
//
// Product changes expose: product, before (zero Product on create),
// timestamps, stage (machine name), action, counts.
// Role changes expose: role, action, counts.
type ExprRule struct {
	name       string
	expression string
	message    string
	severity   domain.Severity
	entity     domain.EntityType
	program    *exprvm.Program
}

// NewExprRule compiles cfg into a rule.
func NewExprRule(cfg PolicyConfig) (*ExprRule, error) {
	name := strings.TrimSpace(cfg.Name)
	if name == "" {
		return nil, fmt.Errorf("policy name must not be empty")
	}
	if strings.TrimSpace(cfg.Expression) == "" {
		return nil, fmt.Errorf("policy %s: expression must not be empty", name)
	}
	severity := domain.SeverityBlock
	if cfg.Severity != "" {
		var err error
		if severity, err = domain.ParseSeverity(cfg.Severity); err != nil {
			return nil, fmt.Errorf("policy %s: %w", name, err)
		}
	}
	entity := domain.EntityProduct
	if cfg.Entity != "" && cfg.Entity != string(domain.EntityProduct) {
		kind, err := domain.ParseRoleKind(cfg.Entity)
		if err != nil {
			return nil, fmt.Errorf("policy %s: %w", name, err)
		}
		entity = kind.Entity()
	}
	program, err := exprlang.Compile(cfg.Expression,
		exprlang.Env(map[string]any{}),
		exprlang.AllowUndefinedVariables(),
	)
	if err != nil {
		return nil, fmt.Errorf("policy %s: compile: %w", name, err)
	}
	msg := cfg.Message
	if msg == "" {
		msg = "policy failed: " + cfg.Expression
	}
	return &ExprRule{
		name:       name,
		expression: cfg.Expression,
		message:    msg,
		severity:   severity,
		entity:     entity,
		program:    program,
	}, nil
}

// Name implements domain.Rule.
func (r *ExprRule) Name() string { return r.name }

// Severity reports the severity of violations raised by the rule.
func (r *ExprRule) Severity() domain.Severity { return r.severity }

// Evaluate implements domain.Rule.
func (r *ExprRule) Evaluate(_ context.Context, view domain.TransactionView, changes []domain.Change) (domain.Result, error) {
	var res domain.Result
	for _, change := range changes {
		if change.Entity != r.entity {
			continue
		}
		env, id, ok := r.environment(view, change)
		if !ok {
			continue
		}
		out, err := exprlang.Run(r.program, env)
		if err != nil {
			return domain.Result{}, fmt.Errorf("policy %s: %w", r.name, err)
		}
		pass, isBool := out.(bool)
		if !isBool {
			return domain.Result{}, fmt.Errorf("policy %s: expression returned %T, want bool", r.name, out)
		}
		if pass {
			continue
		}
		res.Violations = append(res.Violations, domain.Violation{
			Rule:     r.name,
			Severity: r.severity,
			Message:  r.message,
			Entity:   change.Entity,
			EntityID: id,
		})
	}
	return res, nil
}

func (r *ExprRule) environment(view domain.TransactionView, change domain.Change) (map[string]any, uint64, bool) {
	env := map[string]any{
		"action": string(change.Action),
		"counts": view.Counts(),
	}
	if change.Entity == domain.EntityProduct {
		before, after, ok := productChange(change)
		if !ok {
			return nil, 0, false
		}
		env["product"] = after.Product
		env["timestamps"] = after.Timestamps
		env["stage"] = after.Product.Stage.String()
		env["before"] = domain.Product{}
		if before != nil {
			env["before"] = before.Product
		}
		return env, after.Product.ID, true
	}
	role, ok := change.After.(domain.Role)
	if !ok {
		return nil, 0, false
	}
	env["role"] = role
	return env, role.ID, true
}

// PolicyPlugin bundles configured expression policies as a plugin.
type PolicyPlugin struct {
	rules []*ExprRule
}

// NewPolicyPlugin compiles every policy; the first invalid one fails.
func NewPolicyPlugin(policies []PolicyConfig) (*PolicyPlugin, error) {
	p := &PolicyPlugin{}
	seen := make(map[string]struct{}, len(policies))
	for _, cfg := range policies {
		rule, err := NewExprRule(cfg)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[rule.Name()]; dup {
			return nil, fmt.Errorf("policy %s declared twice", rule.Name())
		}
		seen[rule.Name()] = struct{}{}
		p.rules = append(p.rules, rule)
	}
	return p, nil
}

// Name implements Plugin.
func (p *PolicyPlugin) Name() string { return "policies" }

// Version implements Plugin.
func (p *PolicyPlugin) Version() string { return "1" }

// Register implements Plugin.
func (p *PolicyPlugin) Register(registry *PluginRegistry) error {
	for _, rule := range p.rules {
		registry.RegisterRule(rule)
	}
	return nil
}
