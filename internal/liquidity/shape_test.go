package liquidity_test

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/flipside/market-engine/internal/book"
	"github.com/flipside/market-engine/internal/liquidity"
	"github.com/flipside/market-engine/internal/model"
)

func sumPoints(points []decimal.Decimal) decimal.Decimal {
	sum := decimal.Zero
	for _, p := range points {
		sum = sum.Add(p)
	}
	return sum
}

func TestBuildShape_AllKindsSumToOne(t *testing.T) {
	ladder := liquidity.DefaultPricePoints()
	one := decimal.NewFromInt(1)

	cases := []struct {
		name   string
		kind   model.ShapeKind
		params model.ShapeParams
	}{
		{"flat", model.ShapeFlat, model.ShapeParams{}},
		{"bell", model.ShapeBell, model.ShapeParams{Mean: 500, Sigma: 150}},
		{"exp_decay", model.ShapeExpDecay, model.ShapeParams{Lambda: 0.3}},
		{"logarithmic", model.ShapeLogarithmic, model.ShapeParams{}},
		{"sigmoid", model.ShapeSigmoid, model.ShapeParams{Midpoint: 500, Steepness: 0.02}},
		{"parabolic", model.ShapeParabolic, model.ShapeParams{Vertex: 500}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			shape, err := liquidity.BuildShape(tc.name, tc.kind, tc.params, nil)
			if err != nil {
				t.Fatalf("build failed: %v", err)
			}
			if len(shape.Points) != len(ladder) {
				t.Fatalf("expected %d points, got %d", len(ladder), len(shape.Points))
			}
			if sum := sumPoints(shape.Points); !sum.Equal(one) {
				t.Errorf("points sum to %s, want exactly 1", sum)
			}
			for i, p := range shape.Points {
				if p.IsNegative() {
					t.Errorf("point %d is negative: %s", i, p)
				}
			}
		})
	}
}

func TestBuildShape_BellPeaksAtMean(t *testing.T) {
	ladder := liquidity.DefaultPricePoints()
	shape, err := liquidity.BuildShape("bell", model.ShapeBell, model.ShapeParams{Mean: 500, Sigma: 100}, nil)
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}

	peak := 0
	for i := range shape.Points {
		if shape.Points[i].GreaterThan(shape.Points[peak]) {
			peak = i
		}
	}
	if ladder[peak] != 500 {
		t.Errorf("expected peak at 500, got %d", ladder[peak])
	}
}

func TestBuildShape_ExpDecayDecreases(t *testing.T) {
	shape, err := liquidity.BuildShape("decay", model.ShapeExpDecay, model.ShapeParams{Lambda: 0.5}, nil)
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	for i := 1; i < len(shape.Points); i++ {
		if shape.Points[i].GreaterThan(shape.Points[i-1]) {
			t.Fatalf("weights must decrease: point %d (%s) > point %d (%s)",
				i, shape.Points[i], i-1, shape.Points[i-1])
		}
	}
}

func TestBuildShape_CustomNormalizes(t *testing.T) {
	ladder := []int64{200, 400, 600, 800}
	custom := []decimal.Decimal{
		decimal.NewFromInt(1),
		decimal.NewFromInt(2),
		decimal.NewFromInt(3),
		decimal.NewFromInt(4),
	}
	shape, err := liquidity.BuildShape("custom", model.ShapeCustom, model.ShapeParams{Custom: custom}, ladder)
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	if !sumPoints(shape.Points).Equal(decimal.NewFromInt(1)) {
		t.Errorf("custom points must normalize to 1, got %s", sumPoints(shape.Points))
	}
	if !shape.Points[1].Equal(shape.Points[0].Mul(decimal.NewFromInt(2))) {
		t.Errorf("normalization must preserve proportions: %s vs %s", shape.Points[0], shape.Points[1])
	}
}

func TestBuildShape_Validation(t *testing.T) {
	ladder := liquidity.DefaultPricePoints()

	cases := []struct {
		name   string
		kind   model.ShapeKind
		params model.ShapeParams
	}{
		{"unknown kind", "triangle", model.ShapeParams{}},
		{"bell without sigma", model.ShapeBell, model.ShapeParams{Mean: 500}},
		{"decay without lambda", model.ShapeExpDecay, model.ShapeParams{}},
		{"sigmoid without steepness", model.ShapeSigmoid, model.ShapeParams{Midpoint: 500}},
		{"custom wrong length", model.ShapeCustom, model.ShapeParams{
			Custom: []decimal.Decimal{decimal.NewFromInt(1)},
		}},
		{"custom negative", model.ShapeCustom, model.ShapeParams{
			Custom: negativeCustom(len(ladder)),
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := liquidity.BuildShape("s", tc.kind, tc.params, nil); !errors.Is(err, book.ErrInvalidArgument) {
				t.Errorf("expected ErrInvalidArgument, got %v", err)
			}
		})
	}

	if _, err := liquidity.BuildShape("", model.ShapeFlat, model.ShapeParams{}, nil); !errors.Is(err, book.ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument for empty name, got %v", err)
	}
}

func negativeCustom(n int) []decimal.Decimal {
	out := make([]decimal.Decimal, n)
	for i := range out {
		out[i] = decimal.NewFromInt(1)
	}
	out[n/2] = decimal.NewFromInt(-1)
	return out
}
