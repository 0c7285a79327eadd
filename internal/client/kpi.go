package client

import (
	"context"

	"github.com/poudelalish/blockchain-inventory/pkg/domain"
)

// KPIs summarise a ledger the way the operator dashboard shows it.
type KPIs struct {
	Counts       domain.Counts           `json:"counts"`
	Participants uint64                  `json:"participants"`
	ByStage      map[domain.Stage]uint64 `json:"by_stage"`
	InProgress   uint64                  `json:"in_progress"`
}

// Sold returns the number of products that reached the terminal stage.
func (k KPIs) Sold() uint64 { return k.ByStage[domain.StageSold] }

// LoadKPIs reads counters and products and derives the dashboard figures.
func (c *Client) LoadKPIs(ctx context.Context) (KPIs, error) {
	counts, err := c.Counts(ctx)
	if err != nil {
		return KPIs{}, err
	}
	products, err := c.Products(ctx)
	if err != nil {
		return KPIs{}, err
	}
	return ComputeKPIs(counts, products), nil
}

// ComputeKPIs derives participant totals, per-stage counts and the number of
// products not yet sold.
func ComputeKPIs(counts domain.Counts, products []domain.Product) KPIs {
	k := KPIs{
		Counts:       counts,
		Participants: counts.Participants(),
		ByStage:      make(map[domain.Stage]uint64, len(domain.Stages())),
	}
	for _, s := range domain.Stages() {
		k.ByStage[s] = 0
	}
	for _, p := range products {
		k.ByStage[p.Stage]++
		if !p.Stage.Terminal() {
			k.InProgress++
		}
	}
	return k
}
