package service

import (
	"time"

	"fulfillment_metrics_backend/internal/analytics/domain"
)

// Grid is the complete (date, product) keyspace the aggregate table must
// cover for one run: the cross-product of the run's spine window and the
// current product dimension. It is iterated in index order rather than
// materialized, since days × products grows combinatorially over the full
// historical window.
type Grid struct {
	Dates    []time.Time
	Products []domain.Product
}

// Size returns the number of cells in the grid.
func (g Grid) Size() int {
	return len(g.Dates) * len(g.Products)
}

// ForEach visits every (date, product) cell exactly once, dates outermost.
// The cross-product is unconditional: a cell exists whether or not any order
// matches it.
func (g Grid) ForEach(fn func(date time.Time, product domain.Product) error) error {
	for _, date := range g.Dates {
		for _, product := range g.Products {
			if err := fn(date, product); err != nil {
				return err
			}
		}
	}
	return nil
}
