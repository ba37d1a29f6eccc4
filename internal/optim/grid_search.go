package optim

import (
	"context"
	"errors"
	"math"
	"runtime"

	"golang.org/x/sync/errgroup"
)

var ErrNoFeasiblePoint = errors.New("optim: objective failed at every grid point")

// GridSearch evaluates an objective on the Cartesian product of per-parameter
// value lists.
type GridSearch struct {
	paramNames []string
	ranges     [][]float64
	workers    int
}

func NewGridSearch(params []string, ranges [][]float64) *GridSearch {
	return &GridSearch{paramNames: params, ranges: ranges, workers: runtime.NumCPU()}
}

// SetWorkers bounds the number of concurrent objective calls.
func (g *GridSearch) SetWorkers(n int) {
	if n > 0 {
		g.workers = n
	}
}

// Point is one evaluated grid point. Err is set when the objective failed
// there; Value is then NaN.
type Point struct {
	X     []float64
	Value float64
	Err   error
}

// Points enumerates the grid, first parameter slowest.
func (g *GridSearch) Points() [][]float64 {
	var out [][]float64
	g.enumerate(0, make([]float64, 0, len(g.paramNames)), &out)
	return out
}

func (g *GridSearch) enumerate(depth int, current []float64, out *[][]float64) {
	if depth == len(g.paramNames) {
		*out = append(*out, append([]float64(nil), current...))
		return
	}
	for _, val := range g.ranges[depth] {
		g.enumerate(depth+1, append(current, val), out)
	}
}

// Evaluate runs objective at every grid point. Objective failures are kept
// on the point; only cancellation stops the search.
func (g *GridSearch) Evaluate(ctx context.Context, objective func(ctx context.Context, x []float64) (float64, error)) ([]Point, error) {
	xs := g.Points()
	points := make([]Point, len(xs))

	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(g.workers)
	for i, x := range xs {
		eg.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			v, err := objective(ctx, x)
			if err != nil {
				v = math.NaN()
			}
			points[i] = Point{X: x, Value: v, Err: err}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return points, nil
}

// Search returns the grid point with the smallest objective value.
func (g *GridSearch) Search(ctx context.Context, objective func(ctx context.Context, x []float64) (float64, error)) (Point, []Point, error) {
	points, err := g.Evaluate(ctx, objective)
	if err != nil {
		return Point{}, nil, err
	}

	best := Point{Value: math.Inf(1)}
	found := false
	for _, p := range points {
		if p.Err == nil && !math.IsNaN(p.Value) && p.Value < best.Value {
			best, found = p, true
		}
	}
	if !found {
		return Point{}, points, ErrNoFeasiblePoint
	}
	return best, points, nil
}
