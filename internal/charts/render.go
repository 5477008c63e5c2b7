package charts

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/wcharczuk/go-chart/v2"
)

// ErrEmptyFigure is returned when a figure without series is rendered.
var ErrEmptyFigure = errors.New("figure has nothing drawn on it")

// PNG renders the figure and returns the encoded image.
func (f *Figure) PNG() ([]byte, error) {
	var buf bytes.Buffer
	if err := f.Render(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Render draws the figure as PNG. A pie or a lone categorical series is
// drawn on its own; anything with an x/y series is drawn on continuous axes.
func (f *Figure) Render(w io.Writer) error {
	if len(f.Series) == 0 {
		return ErrEmptyFigure
	}

	for _, s := range f.Series {
		if s.Kind == KindPie {
			return f.renderPie(w, s)
		}
	}

	allCategorical := true
	for _, s := range f.Series {
		if s.Kind == KindLine || s.Kind == KindScatter {
			allCategorical = false
			break
		}
	}
	if allCategorical {
		return f.renderBars(w, f.Series[0])
	}
	return f.renderXY(w)
}

func (f *Figure) renderPie(w io.Writer, s Series) error {
	values := make([]chart.Value, len(s.Y))
	for i := range s.Y {
		values[i] = chart.Value{Label: s.Labels[i], Value: s.Y[i]}
	}
	pie := chart.PieChart{
		Title:  f.Title,
		Width:  f.Width,
		Height: f.Height,
		Values: values,
	}
	if err := pie.Render(chart.PNG, w); err != nil {
		return fmt.Errorf("render pie: %w", err)
	}
	return nil
}

func (f *Figure) renderBars(w io.Writer, s Series) error {
	bars := make([]chart.Value, len(s.Y))
	for i := range s.Y {
		bars[i] = chart.Value{Label: s.Labels[i], Value: s.Y[i]}
	}

	lo, hi := bounds(s.Y)
	lo, hi = math.Min(lo, 0), math.Max(hi, 0)
	if lo == hi {
		hi = lo + 1
	}

	barWidth := (f.Width - 120) / (2 * len(bars))
	if barWidth < 4 {
		barWidth = 4
	}
	if barWidth > 60 {
		barWidth = 60
	}

	bc := chart.BarChart{
		Title:      f.Title,
		Width:      f.Width,
		Height:     f.Height,
		BarWidth:   barWidth,
		BarSpacing: barWidth / 2,
		Background: chart.Style{Padding: chart.Box{Top: 40}},
		YAxis: chart.YAxis{
			Name:  f.YLabel,
			Range: &chart.ContinuousRange{Min: lo, Max: hi},
		},
		Bars: bars,
	}
	if err := bc.Render(chart.PNG, w); err != nil {
		return fmt.Errorf("render %s: %w", s.Kind, err)
	}
	return nil
}

func (f *Figure) renderXY(w io.Writer) error {
	var series []chart.Series
	xlo, xhi := math.Inf(1), math.Inf(-1)
	ylo, yhi := math.Inf(1), math.Inf(-1)

	for _, s := range f.Series {
		x := s.X
		if x == nil {
			x = make([]float64, len(s.Y))
			for i := range x {
				x[i] = float64(i)
			}
		}
		a, b := bounds(x)
		xlo, xhi = math.Min(xlo, a), math.Max(xhi, b)
		a, b = bounds(s.Y)
		ylo, yhi = math.Min(ylo, a), math.Max(yhi, b)

		cs := chart.ContinuousSeries{Name: s.Name, XValues: x, YValues: s.Y}
		if s.Kind == KindScatter {
			cs.Style = chart.Style{StrokeWidth: chart.Disabled, DotWidth: 5}
		}
		series = append(series, cs)
	}
	if xlo == xhi {
		xhi = xlo + 1
	}
	if ylo == yhi {
		yhi = ylo + 1
	}

	graph := chart.Chart{
		Title:  f.Title,
		Width:  f.Width,
		Height: f.Height,
		XAxis: chart.XAxis{
			Name:  f.XLabel,
			Range: &chart.ContinuousRange{Min: xlo, Max: xhi},
		},
		YAxis: chart.YAxis{
			Name:  f.YLabel,
			Range: &chart.ContinuousRange{Min: ylo, Max: yhi},
		},
		Series: series,
	}
	if err := graph.Render(chart.PNG, w); err != nil {
		return fmt.Errorf("render chart: %w", err)
	}
	return nil
}
