package packing

import "sort"

// Oracle reports which of the given items fit together inside box.
type Oracle interface {
	Pack(box Box, items []Item) []Item
}

const epsilon = 1e-9

// PivotPacker places items largest-first at candidate pivots: the box origin,
// then the far corner of each placed item along each axis. Every item is tried
// in all six axis-aligned orientations. Items that cannot be placed, or would
// push the load past MaxWeight, are left out of the result.
type PivotPacker struct{}

type placement struct {
	x, y, z    float64
	dx, dy, dz float64
}

func (p placement) intersects(o placement) bool {
	return p.x < o.x+o.dx-epsilon && o.x < p.x+p.dx-epsilon &&
		p.y < o.y+o.dy-epsilon && o.y < p.y+p.dy-epsilon &&
		p.z < o.z+o.dz-epsilon && o.z < p.z+p.dz-epsilon
}

func (PivotPacker) Pack(box Box, items []Item) []Item {
	order := make([]Item, len(items))
	copy(order, items)
	sort.SliceStable(order, func(i, j int) bool { return order[i].Volume() > order[j].Volume() })

	var (
		placed []placement
		packed []Item
		weight float64
	)
	for _, it := range order {
		if weight+it.Weight > box.MaxWeight+epsilon {
			continue
		}
		pos, ok := place(box, placed, it)
		if !ok {
			continue
		}
		placed = append(placed, pos)
		packed = append(packed, it)
		weight += it.Weight
	}
	return packed
}

func place(box Box, placed []placement, it Item) (placement, bool) {
	pivots := [][3]float64{{0, 0, 0}}
	for _, p := range placed {
		pivots = append(pivots,
			[3]float64{p.x + p.dx, p.y, p.z},
			[3]float64{p.x, p.y + p.dy, p.z},
			[3]float64{p.x, p.y, p.z + p.dz},
		)
	}
	for _, pv := range pivots {
		for _, r := range rotations(it) {
			cand := placement{x: pv[0], y: pv[1], z: pv[2], dx: r[0], dy: r[1], dz: r[2]}
			if cand.x+cand.dx > box.Length+epsilon ||
				cand.y+cand.dy > box.Width+epsilon ||
				cand.z+cand.dz > box.Height+epsilon {
				continue
			}
			free := true
			for _, p := range placed {
				if cand.intersects(p) {
					free = false
					break
				}
			}
			if free {
				return cand, true
			}
		}
	}
	return placement{}, false
}

func rotations(it Item) [6][3]float64 {
	l, w, h := it.Length, it.Width, it.Height
	return [6][3]float64{
		{l, w, h}, {w, l, h},
		{w, h, l}, {h, w, l},
		{h, l, w}, {l, h, w},
	}
}
