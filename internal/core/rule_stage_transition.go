package core

import (
	"context"
	"fmt"

	"github.com/poudelalish/blockchain-inventory/pkg/domain"
)

const stageTransitionRuleName = "stage_transition"

// StageTransitionRule re-checks every product change at commit time: created
// products start in Ordered, updates advance exactly one stage, fields set
// earlier never change and the record stays internally consistent.
func StageTransitionRule() domain.Rule {
	return stageTransitionRule{}
}

type stageTransitionRule struct{}

func (stageTransitionRule) Name() string { return stageTransitionRuleName }

func (r stageTransitionRule) Evaluate(_ context.Context, _ domain.TransactionView, changes []domain.Change) (domain.Result, error) {
	var res domain.Result
	for _, change := range changes {
		if change.Entity != domain.EntityProduct {
			if change.Action != domain.ActionCreate {
				res.Violations = append(res.Violations, r.violation(change.Entity, 0, "%s records are immutable", change.Entity))
			}
			continue
		}
		before, after, ok := productChange(change)
		if !ok {
			return domain.Result{}, fmt.Errorf("%s: product change carries %T", stageTransitionRuleName, change.After)
		}
		id := after.Product.ID
		if err := domain.CheckProductState(after); err != nil {
			res.Violations = append(res.Violations, r.violation(domain.EntityProduct, id, "%v", err))
			continue
		}
		switch change.Action {
		case domain.ActionCreate:
			if after.Product.Stage != domain.StageOrdered {
				res.Violations = append(res.Violations, r.violation(domain.EntityProduct, id, "product %d created in %s", id, after.Product.Stage))
			}
		case domain.ActionUpdate:
			if before == nil {
				res.Violations = append(res.Violations, r.violation(domain.EntityProduct, id, "product %d update has no prior state", id))
				continue
			}
			if msg := checkAdvance(*before, after); msg != "" {
				res.Violations = append(res.Violations, r.violation(domain.EntityProduct, id, "%s", msg))
			}
		}
	}
	return res, nil
}

func (stageTransitionRule) violation(entity domain.EntityType, id uint64, format string, args ...any) domain.Violation {
	return domain.Violation{
		Rule:     stageTransitionRuleName,
		Severity: domain.SeverityBlock,
		Message:  fmt.Sprintf(format, args...),
		Entity:   entity,
		EntityID: id,
	}
}

// checkAdvance returns a description of the first problem with moving from
// before to after, or "" when the move is legal.
func checkAdvance(before, after domain.ProductState) string {
	b, a := before.Product, after.Product
	if a.ID != b.ID {
		return fmt.Sprintf("product id changed from %d to %d", b.ID, a.ID)
	}
	next, ok := b.Stage.Next()
	if !ok || a.Stage != next {
		return fmt.Sprintf("product %d moved from %s to %s", a.ID, b.Stage, a.Stage)
	}
	if a.Name != b.Name || a.Description != b.Description {
		return fmt.Sprintf("product %d identity fields changed", a.ID)
	}
	for _, kind := range domain.RoleKinds() {
		if prev := b.RoleID(kind); prev != 0 && a.RoleID(kind) != prev {
			return fmt.Sprintf("product %d %s role changed from %d to %d", a.ID, kind, prev, a.RoleID(kind))
		}
	}
	for _, s := range domain.Stages() {
		if prev := before.Timestamps.At(s); !prev.IsZero() && !after.Timestamps.At(s).Equal(prev) {
			return fmt.Sprintf("product %d %s timestamp changed", a.ID, s)
		}
	}
	return ""
}
