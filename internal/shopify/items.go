package shopify

import (
	"context"
	"sort"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"boxrate/internal/packing"
)

// BuildItemList expands a cart of variant quantities into one Item per unit.
// Variants without complete dimensions are skipped; a failed lookup fails the
// whole cart. Items come back ordered by variant id.
func (c *Client) BuildItemList(ctx context.Context, cart map[string]int) ([]packing.Item, error) {
	ids := make([]string, 0, len(cart))
	for id, qty := range cart {
		if qty > 0 {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	dims := make([]*Dimensions, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.Concurrency)
	for i, id := range ids {
		g.Go(func() error {
			d, err := c.VariantDimensions(gctx, id)
			if err != nil {
				return err
			}
			dims[i] = d
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var items []packing.Item
	for i, id := range ids {
		d := dims[i]
		if d == nil {
			c.log.Info("skipping variant without dimensions", zap.String("variant_id", id))
			continue
		}
		for n := 0; n < cart[id]; n++ {
			items = append(items, packing.Item{
				ID:     id,
				Length: d.Length,
				Width:  d.Width,
				Height: d.Height,
				Weight: d.Weight,
			})
		}
	}
	return items, nil
}
