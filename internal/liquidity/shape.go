// Package liquidity sizes and deploys the market-making bot's quotes: curve
// shapes distribute a market's share budget across a fixed price ladder,
// market weights split the global budget across markets, and the deployer
// turns the effective curve into resting orders through the matching engine.
package liquidity

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/flipside/market-engine/internal/book"
	"github.com/flipside/market-engine/internal/model"
	"github.com/flipside/market-engine/internal/store"
)

// DefaultPricePoints is the standard quoting ladder: every 50 from 100 to 900.
func DefaultPricePoints() []int64 {
	points := make([]int64, 0, 17)
	for p := int64(100); p <= 900; p += 50 {
		points = append(points, p)
	}
	return points
}

// BuildShape evaluates a shape kind over the price ladder and normalizes the
// result into a distribution whose points sum to exactly 1. The raw profile
// is computed in floating point; normalization assigns the final point the
// exact residual so the decimal sum is 1 with no rounding drift.
func BuildShape(name string, kind model.ShapeKind, params model.ShapeParams, points []int64) (*model.CurveShape, error) {
	if name == "" {
		return nil, fmt.Errorf("shape name required: %w", book.ErrInvalidArgument)
	}
	if len(points) == 0 {
		points = DefaultPricePoints()
	}

	raw, err := rawWeights(kind, params, points)
	if err != nil {
		return nil, err
	}

	normalized, err := normalize(raw)
	if err != nil {
		return nil, err
	}

	return &model.CurveShape{
		ID:        uuid.New().String(),
		Name:      name,
		Kind:      kind,
		Params:    params,
		Points:    normalized,
		CreatedAt: time.Now().UTC(),
	}, nil
}

func rawWeights(kind model.ShapeKind, params model.ShapeParams, points []int64) ([]decimal.Decimal, error) {
	n := len(points)
	out := make([]decimal.Decimal, n)

	fromFloat := func(i int, v float64) error {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return fmt.Errorf("shape weight at point %d is %v: %w", points[i], v, book.ErrInvalidArgument)
		}
		out[i] = decimal.NewFromFloat(v)
		return nil
	}

	switch kind {
	case model.ShapeFlat:
		for i := range points {
			out[i] = decimal.New(1, 0)
		}

	case model.ShapeBell:
		if params.Sigma <= 0 {
			return nil, fmt.Errorf("bell sigma %v: %w", params.Sigma, book.ErrInvalidArgument)
		}
		for i, p := range points {
			d := float64(p - params.Mean)
			if err := fromFloat(i, math.Exp(-d*d/(2*params.Sigma*params.Sigma))); err != nil {
				return nil, err
			}
		}

	case model.ShapeExpDecay:
		if params.Lambda <= 0 {
			return nil, fmt.Errorf("exp_decay lambda %v: %w", params.Lambda, book.ErrInvalidArgument)
		}
		for i := range points {
			if err := fromFloat(i, math.Exp(-params.Lambda*float64(i))); err != nil {
				return nil, err
			}
		}

	case model.ShapeLogarithmic:
		for i := range points {
			if err := fromFloat(i, math.Log(float64(i)+2)); err != nil {
				return nil, err
			}
		}

	case model.ShapeSigmoid:
		if params.Steepness == 0 {
			return nil, fmt.Errorf("sigmoid steepness required: %w", book.ErrInvalidArgument)
		}
		for i, p := range points {
			v := 1 / (1 + math.Exp(-params.Steepness*float64(p-params.Midpoint)))
			if err := fromFloat(i, v); err != nil {
				return nil, err
			}
		}

	case model.ShapeParabolic:
		half := float64(points[n-1]-points[0]) / 2
		if half <= 0 {
			half = 1
		}
		for i, p := range points {
			d := float64(p-params.Vertex) / half
			v := 1 - d*d
			if v < 0 {
				v = 0
			}
			if err := fromFloat(i, v); err != nil {
				return nil, err
			}
		}

	case model.ShapeCustom:
		if len(params.Custom) != n {
			return nil, fmt.Errorf("custom shape has %d weights for %d points: %w",
				len(params.Custom), n, book.ErrInvalidArgument)
		}
		for i, w := range params.Custom {
			if w.IsNegative() {
				return nil, fmt.Errorf("custom weight at point %d is negative: %w",
					points[i], book.ErrInvalidArgument)
			}
			out[i] = w
		}

	default:
		return nil, fmt.Errorf("shape kind %q: %w", kind, book.ErrInvalidArgument)
	}

	return out, nil
}

// normalize scales weights to sum to exactly 1: every point but the last is
// rounded to fixed precision and the last absorbs the residual.
func normalize(raw []decimal.Decimal) ([]decimal.Decimal, error) {
	sum := decimal.Zero
	for _, w := range raw {
		sum = sum.Add(w)
	}
	if !sum.IsPositive() {
		return nil, fmt.Errorf("shape weights sum to %s: %w", sum, book.ErrInvalidArgument)
	}

	out := make([]decimal.Decimal, len(raw))
	acc := decimal.Zero
	for i, w := range raw[:len(raw)-1] {
		out[i] = w.Div(sum).Round(12)
		acc = acc.Add(out[i])
	}
	last := decimal.New(1, 0).Sub(acc)
	if last.IsNegative() {
		return nil, fmt.Errorf("normalization residual %s: %w", last, book.ErrInvalidArgument)
	}
	out[len(raw)-1] = last
	return out, nil
}

// SaveShape persists a shape; marking it default clears the previous default.
func (m *Manager) SaveShape(ctx context.Context, shape *model.CurveShape, makeDefault bool) error {
	shape.IsDefault = makeDefault
	return m.store.Apply(ctx, &store.ChangeSet{Shapes: []model.CurveShape{*shape}})
}
