package packing

import (
	"go.uber.org/zap"
)

// DefaultDunnageRatio is the share of box volume kept free for packing material.
const DefaultDunnageRatio = 0.25

// Item is one physical unit to ship. Dimensions are inches, weight is pounds.
type Item struct {
	ID     string  `json:"id"`
	Length float64 `json:"length"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
	Weight float64 `json:"weight"`
}

func (i Item) Volume() float64 { return i.Length * i.Width * i.Height }

// Valid reports whether all measurements are strictly positive.
func (i Item) Valid() bool {
	return i.Length > 0 && i.Width > 0 && i.Height > 0 && i.Weight > 0
}

// Box is a catalog container with interior dimensions and a weight limit.
type Box struct {
	Name      string  `json:"name"`
	Length    float64 `json:"length"`
	Width     float64 `json:"width"`
	Height    float64 `json:"height"`
	MaxWeight float64 `json:"maxWeight"`
}

func (b Box) Volume() float64 { return b.Length * b.Width * b.Height }

func (b Box) Dimensions() Dimensions {
	return Dimensions{Length: b.Length, Width: b.Width, Height: b.Height}
}

type Dimensions struct {
	Length float64 `json:"length"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Constraint names the check a box failed during selection.
type Constraint string

const (
	ConstraintWeight  Constraint = "weight"
	ConstraintFit     Constraint = "fit"
	ConstraintDunnage Constraint = "dunnage"
)

type Rejection struct {
	Box        string     `json:"box"`
	Constraint Constraint `json:"constraint"`
}

// PackResult is either a selected box (Selected=true) or an infeasible
// outcome carrying Reason and the per-box rejections.
type PackResult struct {
	Selected        bool
	Box             Box
	Items           []Item
	UsedVolume      float64
	BoxVolume       float64
	DunnageReserved float64

	Reason     string
	Rejections []Rejection
}

const (
	reasonNoItems = "no items"
	reasonNoFit   = "no box fits all items with dunnage allowance"
)

// Engine picks the first catalog box that holds every item and still leaves
// the dunnage share of its volume empty.
type Engine struct {
	oracle Oracle
	ratio  float64
	log    *zap.Logger
}

// NewEngine builds an Engine. A nil oracle uses PivotPacker; a ratio outside
// [0,1) falls back to DefaultDunnageRatio.
func NewEngine(oracle Oracle, ratio float64, log *zap.Logger) *Engine {
	if oracle == nil {
		oracle = PivotPacker{}
	}
	if ratio < 0 || ratio >= 1 {
		ratio = DefaultDunnageRatio
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{oracle: oracle, ratio: ratio, log: log}
}

// DunnageRatio returns the effective ratio.
func (e *Engine) DunnageRatio() float64 { return e.ratio }

// Select walks catalog in order and returns the first acceptable box.
func (e *Engine) Select(items []Item, catalog []Box) PackResult {
	if len(items) == 0 {
		return PackResult{Reason: reasonNoItems}
	}

	var usedVolume, totalWeight float64
	for _, it := range items {
		usedVolume += it.Volume()
		totalWeight += it.Weight
	}

	var rejections []Rejection
	for _, box := range catalog {
		if totalWeight > box.MaxWeight {
			rejections = append(rejections, Rejection{Box: box.Name, Constraint: ConstraintWeight})
			continue
		}
		packed := e.oracle.Pack(box, items)
		if len(packed) != len(items) {
			rejections = append(rejections, Rejection{Box: box.Name, Constraint: ConstraintFit})
			continue
		}
		boxVolume := box.Volume()
		if usedVolume > boxVolume*(1-e.ratio) {
			rejections = append(rejections, Rejection{Box: box.Name, Constraint: ConstraintDunnage})
			continue
		}

		e.log.Debug("box selected",
			zap.String("box", box.Name),
			zap.Float64("used_volume", usedVolume),
			zap.Float64("box_volume", boxVolume),
			zap.Int("rejected", len(rejections)),
		)
		return PackResult{
			Selected:        true,
			Box:             box,
			Items:           packed,
			UsedVolume:      usedVolume,
			BoxVolume:       boxVolume,
			DunnageReserved: boxVolume * e.ratio,
			Rejections:      rejections,
		}
	}

	e.log.Debug("no box fits",
		zap.Int("items", len(items)),
		zap.Any("rejections", rejections),
	)
	return PackResult{Reason: reasonNoFit, Rejections: rejections}
}

// SelectBestBox runs the default engine with the given dunnage ratio.
func SelectBestBox(items []Item, catalog []Box, dunnageRatio float64) PackResult {
	return NewEngine(PivotPacker{}, dunnageRatio, nil).Select(items, catalog)
}

// TotalWeight sums item weights.
func TotalWeight(items []Item) float64 {
	var w float64
	for _, it := range items {
		w += it.Weight
	}
	return w
}
