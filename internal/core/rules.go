package core

import (
	"github.com/poudelalish/blockchain-inventory/pkg/domain"
)

// NewDefaultRulesEngine builds a rules engine with the built-in rule set.
func NewDefaultRulesEngine() *domain.RulesEngine {
	engine := domain.NewRulesEngine()
	engine.Register(StageTransitionRule())
	return engine
}

// productChange extracts the before/after product states from a change.
func productChange(change domain.Change) (before *domain.ProductState, after domain.ProductState, ok bool) {
	if change.Entity != domain.EntityProduct {
		return nil, domain.ProductState{}, false
	}
	after, ok = change.After.(domain.ProductState)
	if !ok {
		return nil, domain.ProductState{}, false
	}
	if b, isState := change.Before.(domain.ProductState); isState {
		before = &b
	}
	return before, after, true
}
