package core

import (
	"context"

	"github.com/poudelalish/blockchain-inventory/pkg/domain"
)

// Queries never mutate state. Each one reads a single committed snapshot.

// Owner returns the ledger owner, or the empty address before bootstrap.
func (s *Service) Owner(ctx context.Context) (domain.Address, error) {
	var owner domain.Address
	err := s.store.View(ctx, func(v domain.TransactionView) error {
		owner = v.Owner()
		return nil
	})
	return owner, err
}

// Counts returns the product and per-catalog counters.
func (s *Service) Counts(ctx context.Context) (domain.Counts, error) {
	var counts domain.Counts
	err := s.store.View(ctx, func(v domain.TransactionView) error {
		counts = v.Counts()
		return nil
	})
	return counts, err
}

// ProductCount returns the number of products created so far.
func (s *Service) ProductCount(ctx context.Context) (uint64, error) {
	counts, err := s.Counts(ctx)
	return counts.Products, err
}

// RoleCount returns the number of records in the catalog of kind.
func (s *Service) RoleCount(ctx context.Context, kind domain.RoleKind) (uint64, error) {
	counts, err := s.Counts(ctx)
	return counts.Role(kind), err
}

// Role returns the role record id of kind.
func (s *Service) Role(ctx context.Context, kind domain.RoleKind, id uint64) (domain.Role, error) {
	var role domain.Role
	err := s.store.View(ctx, func(v domain.TransactionView) error {
		r, ok := v.FindRole(kind, id)
		if !ok {
			return domain.NotFoundError{Entity: kind.Entity(), ID: id}
		}
		role = r
		return nil
	})
	return role, err
}

// Roles returns every record of kind in ID order.
func (s *Service) Roles(ctx context.Context, kind domain.RoleKind) ([]domain.Role, error) {
	var roles []domain.Role
	err := s.store.View(ctx, func(v domain.TransactionView) error {
		roles = v.ListRoles(kind)
		return nil
	})
	return roles, err
}

// Product returns product id.
func (s *Service) Product(ctx context.Context, id uint64) (domain.Product, error) {
	var product domain.Product
	err := s.store.View(ctx, func(v domain.TransactionView) error {
		p, ok := v.FindProduct(id)
		if !ok {
			return domain.NotFoundError{Entity: domain.EntityProduct, ID: id}
		}
		product = p
		return nil
	})
	return product, err
}

// Products returns every product in ID order.
func (s *Service) Products(ctx context.Context) ([]domain.Product, error) {
	var products []domain.Product
	err := s.store.View(ctx, func(v domain.TransactionView) error {
		products = v.ListProducts()
		return nil
	})
	return products, err
}

// StageLabel returns the descriptive label of product id's current stage.
func (s *Service) StageLabel(ctx context.Context, id uint64) (string, error) {
	product, err := s.Product(ctx, id)
	if err != nil {
		return "", err
	}
	return product.Stage.Label(), nil
}

// Timestamps returns the stage entry times of product id.
func (s *Service) Timestamps(ctx context.Context, id uint64) (domain.Timestamps, error) {
	var ts domain.Timestamps
	err := s.store.View(ctx, func(v domain.TransactionView) error {
		t, ok := v.FindTimestamps(id)
		if !ok {
			return domain.NotFoundError{Entity: domain.EntityProduct, ID: id}
		}
		ts = t
		return nil
	})
	return ts, err
}
