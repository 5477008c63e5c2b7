// Package charts keeps matplotlib-style plotting state for scripts and
// renders finished figures to PNG.
package charts

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

// Kind is the drawing primitive a series was added with.
type Kind string

const (
	KindBar     Kind = "bar"
	KindBarH    Kind = "barh"
	KindLine    Kind = "line"
	KindScatter Kind = "scatter"
	KindHist    Kind = "hist"
	KindHeatmap Kind = "heatmap"
	KindBox     Kind = "box"
	KindViolin  Kind = "violin"
	KindPie     Kind = "pie"
)

const (
	DefaultWidth  = 1000
	DefaultHeight = 600
	DefaultBins   = 10

	// MaxDimension bounds either side of a figure in pixels.
	MaxDimension = 4000
)

// Series is one drawn layer of a figure.
type Series struct {
	Kind   Kind
	Name   string
	Labels []string
	X      []float64
	Y      []float64
}

// Figure is an open plot. Series accumulate until the figure is saved.
type Figure struct {
	Title  string
	XLabel string
	YLabel string
	Width  int
	Height int
	Series []Series
	closed bool
}

var errNoData = errors.New("no data to plot")

func (s Series) continuous() bool {
	return s.Kind == KindLine || s.Kind == KindScatter
}

// add appends s. A figure holds at most one categorical series, and a pie
// shares its figure with nothing.
func (f *Figure) add(s Series) error {
	for _, prev := range f.Series {
		if prev.Kind == KindPie || s.Kind == KindPie {
			return fmt.Errorf("%s: a pie chart cannot share a figure with %s", s.Kind, prev.Kind)
		}
		if !prev.continuous() && !s.continuous() {
			return fmt.Errorf("%s: figure already has a %s series; open a new figure for each categorical plot", s.Kind, prev.Kind)
		}
	}
	f.Series = append(f.Series, s)
	return nil
}

// finite rejects NaN and infinite values, which no axis can place.
func finite(kind Kind, v []float64) error {
	for i, x := range v {
		if math.IsNaN(x) {
			return fmt.Errorf("%s: value %d is NaN", kind, i+1)
		}
		if math.IsInf(x, 0) {
			return fmt.Errorf("%s: value %d is infinite", kind, i+1)
		}
	}
	return nil
}

func (f *Figure) Bar(labels []string, values []float64) error {
	return f.categorical(KindBar, labels, values)
}

func (f *Figure) BarH(labels []string, values []float64) error {
	return f.categorical(KindBarH, labels, values)
}

func (f *Figure) Pie(labels []string, values []float64) error {
	return f.categorical(KindPie, labels, values)
}

func (f *Figure) categorical(kind Kind, labels []string, values []float64) error {
	if len(values) == 0 {
		return errNoData
	}
	if len(labels) == 0 {
		labels = indexLabels(len(values))
	}
	if len(labels) != len(values) {
		return fmt.Errorf("%s: %d labels for %d values", kind, len(labels), len(values))
	}
	if err := finite(kind, values); err != nil {
		return err
	}
	return f.add(Series{Kind: kind, Labels: labels, Y: values})
}

// Line adds a line series. A nil x plots against the index.
func (f *Figure) Line(name string, x, y []float64) error {
	return f.xy(KindLine, name, x, y)
}

func (f *Figure) Scatter(name string, x, y []float64) error {
	return f.xy(KindScatter, name, x, y)
}

func (f *Figure) xy(kind Kind, name string, x, y []float64) error {
	if len(y) == 0 {
		return errNoData
	}
	if x == nil {
		x = make([]float64, len(y))
		for i := range x {
			x[i] = float64(i)
		}
	}
	if len(x) != len(y) {
		return fmt.Errorf("%s: x has %d points, y has %d", kind, len(x), len(y))
	}
	if err := finite(kind, x); err != nil {
		return err
	}
	if err := finite(kind, y); err != nil {
		return err
	}
	return f.add(Series{Kind: kind, Name: name, X: x, Y: y})
}

// Hist bins values into equal-width buckets.
func (f *Figure) Hist(values []float64, bins int) error {
	if len(values) == 0 {
		return errNoData
	}
	if bins <= 0 {
		bins = DefaultBins
	}
	if err := finite(KindHist, values); err != nil {
		return err
	}
	lo, hi := bounds(values)
	if lo == hi {
		hi = lo + 1
	}
	width := (hi - lo) / float64(bins)
	counts := make([]float64, bins)
	labels := make([]string, bins)
	for _, v := range values {
		i := int((v - lo) / width)
		if i >= bins {
			i = bins - 1
		}
		counts[i]++
	}
	for i := range labels {
		labels[i] = fmt.Sprintf("%.3g", lo+width*float64(i))
	}
	return f.add(Series{Kind: KindHist, Labels: labels, Y: counts})
}

// Heatmap is drawn as one bar per row holding the row mean.
func (f *Figure) Heatmap(matrix [][]float64, rowLabels []string) error {
	if len(matrix) == 0 {
		return errNoData
	}
	if len(rowLabels) == 0 {
		rowLabels = indexLabels(len(matrix))
	}
	if len(rowLabels) != len(matrix) {
		return fmt.Errorf("heatmap: %d labels for %d rows", len(rowLabels), len(matrix))
	}
	means := make([]float64, len(matrix))
	for i, row := range matrix {
		if err := finite(KindHeatmap, row); err != nil {
			return fmt.Errorf("row %d: %w", i+1, err)
		}
		means[i] = mean(row)
	}
	return f.add(Series{Kind: KindHeatmap, Labels: rowLabels, Y: means})
}

// Box and Violin summarise each group by its median.
func (f *Figure) Box(groups [][]float64, labels []string) error {
	return f.distribution(KindBox, groups, labels)
}

func (f *Figure) Violin(groups [][]float64, labels []string) error {
	return f.distribution(KindViolin, groups, labels)
}

func (f *Figure) distribution(kind Kind, groups [][]float64, labels []string) error {
	if len(groups) == 0 {
		return errNoData
	}
	if len(labels) == 0 {
		labels = indexLabels(len(groups))
	}
	if len(labels) != len(groups) {
		return fmt.Errorf("%s: %d labels for %d groups", kind, len(labels), len(groups))
	}
	medians := make([]float64, len(groups))
	for i, g := range groups {
		if err := finite(kind, g); err != nil {
			return fmt.Errorf("group %d: %w", i+1, err)
		}
		medians[i] = median(g)
	}
	return f.add(Series{Kind: kind, Labels: labels, Y: medians})
}

func indexLabels(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprint(i + 1)
	}
	return out
}

func bounds(v []float64) (lo, hi float64) {
	lo, hi = math.Inf(1), math.Inf(-1)
	for _, x := range v {
		lo = math.Min(lo, x)
		hi = math.Max(hi, x)
	}
	return lo, hi
}

func mean(v []float64) float64 {
	if len(v) == 0 {
		return 0
	}
	var sum float64
	for _, x := range v {
		sum += x
	}
	return sum / float64(len(v))
}

func median(v []float64) float64 {
	if len(v) == 0 {
		return 0
	}
	s := append([]float64(nil), v...)
	sort.Float64s(s)
	mid := len(s) / 2
	if len(s)%2 == 0 {
		return (s[mid-1] + s[mid]) / 2
	}
	return s[mid]
}

// Canvas tracks open figures for one script execution.
type Canvas struct {
	figures []*Figure
	current *Figure
}

func NewCanvas() *Canvas {
	return &Canvas{}
}

// NewFigure opens a figure and makes it current. Non-positive sizes take
// the defaults; sizes above MaxDimension are rejected.
func (c *Canvas) NewFigure(width, height int) (*Figure, error) {
	if width > MaxDimension || height > MaxDimension {
		return nil, fmt.Errorf("figure size %dx%d exceeds the %dx%d limit", width, height, MaxDimension, MaxDimension)
	}
	return c.open(width, height), nil
}

func (c *Canvas) open(width, height int) *Figure {
	if width <= 0 {
		width = DefaultWidth
	}
	if height <= 0 {
		height = DefaultHeight
	}
	f := &Figure{Width: width, Height: height}
	c.figures = append(c.figures, f)
	c.current = f
	return f
}

// Current returns the current figure, opening one when none is open.
func (c *Canvas) Current() *Figure {
	if c.current == nil || c.current.closed {
		return c.open(0, 0)
	}
	return c.current
}

// Close closes the current figure.
func (c *Canvas) Close() {
	if c.current != nil {
		c.current.closed = true
		c.current = nil
	}
}

// CloseAll closes every figure and releases their data. It returns how many
// were still open.
func (c *Canvas) CloseAll() int {
	open := 0
	for _, f := range c.figures {
		if !f.closed {
			open++
		}
		f.closed = true
		f.Series = nil
	}
	c.figures = nil
	c.current = nil
	return open
}

func (c *Canvas) Open() int {
	n := 0
	for _, f := range c.figures {
		if !f.closed {
			n++
		}
	}
	return n
}
