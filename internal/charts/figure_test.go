package charts

import (
	"bytes"
	"image/png"
	"math"
	"strings"
	"testing"
)

func TestHistBinsEveryValue(t *testing.T) {
	f := NewCanvas().Current()
	if err := f.Hist([]float64{1, 2, 2, 3, 9, 10}, 3); err != nil {
		t.Fatal(err)
	}
	s := f.Series[0]
	var total float64
	for _, c := range s.Y {
		total += c
	}
	if total != 6 || len(s.Y) != 3 {
		t.Errorf("bins = %v", s.Y)
	}
	if s.Y[2] != 2 {
		t.Errorf("max value must land in last bin, got %v", s.Y)
	}
}

func TestDistributionUsesMedian(t *testing.T) {
	f := NewCanvas().Current()
	if err := f.Box([][]float64{{5, 1, 3}, {4, 2}}, []string{"a", "b"}); err != nil {
		t.Fatal(err)
	}
	if got := f.Series[0].Y; got[0] != 3 || got[1] != 3 {
		t.Errorf("medians = %v", got)
	}
}

func TestMismatchedInput(t *testing.T) {
	f := NewCanvas().Current()
	if err := f.Bar([]string{"a"}, []float64{1, 2}); err == nil {
		t.Error("expected label/value mismatch error")
	}
	if err := f.Line("", []float64{1}, []float64{1, 2}); err == nil {
		t.Error("expected x/y mismatch error")
	}
	if err := f.Scatter("", nil, nil); err == nil {
		t.Error("expected no-data error")
	}
}

func TestCanvasLifecycle(t *testing.T) {
	c := NewCanvas()
	a, err := c.NewFigure(0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if a.Width != DefaultWidth || a.Height != DefaultHeight {
		t.Errorf("defaults not applied: %dx%d", a.Width, a.Height)
	}
	c.Close()
	b := c.Current()
	if a == b {
		t.Error("Current after Close must open a new figure")
	}
	if _, err := c.NewFigure(10, 10); err != nil {
		t.Fatal(err)
	}
	if n := c.CloseAll(); n != 2 {
		t.Errorf("CloseAll reported %d open figures, want 2", n)
	}
	if c.Open() != 0 {
		t.Error("figures left open")
	}
}

func TestRenderProducesPNG(t *testing.T) {
	tests := []struct {
		name string
		draw func(*Figure) error
	}{
		{"bar", func(f *Figure) error { return f.Bar([]string{"Q1", "Q2", "Q3"}, []float64{3, 7, 5}) }},
		{"line", func(f *Figure) error { return f.Line("revenue", []float64{1, 2, 3}, []float64{10, 12, 9}) }},
		{"scatter", func(f *Figure) error { return f.Scatter("", []float64{1, 2, 3}, []float64{2, 4, 3}) }},
		{"pie", func(f *Figure) error { return f.Pie([]string{"a", "b"}, []float64{60, 40}) }},
		{"flat line", func(f *Figure) error { return f.Line("", nil, []float64{5, 5, 5}) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := NewCanvas().NewFigure(640, 480)
			if err != nil {
				t.Fatal(err)
			}
			f.Title = "Test " + tt.name
			if err := tt.draw(f); err != nil {
				t.Fatal(err)
			}
			data, err := f.PNG()
			if err != nil {
				t.Fatalf("PNG: %v", err)
			}
			if _, err := png.DecodeConfig(bytes.NewReader(data)); err != nil {
				t.Errorf("output is not a PNG: %v", err)
			}
		})
	}
}

func TestRenderEmpty(t *testing.T) {
	if _, err := NewCanvas().Current().PNG(); err != ErrEmptyFigure {
		t.Errorf("err = %v, want ErrEmptyFigure", err)
	}
}

func TestFigureSizeLimit(t *testing.T) {
	tests := []struct {
		name          string
		width, height int
		wantErr       bool
	}{
		{"defaults", 0, 0, false},
		{"at limit", MaxDimension, MaxDimension, false},
		{"too wide", 100000, 600, true},
		{"too tall", 800, MaxDimension + 1, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewCanvas()
			f, err := c.NewFigure(tt.width, tt.height)
			if tt.wantErr {
				if err == nil || !strings.Contains(err.Error(), "exceeds") {
					t.Fatalf("err = %v, want size limit error", err)
				}
				if c.Open() != 0 {
					t.Error("rejected figure was left open")
				}
				return
			}
			if err != nil || f == nil {
				t.Fatalf("NewFigure: %v", err)
			}
		})
	}
}

func TestNonFiniteValuesRejected(t *testing.T) {
	nan, inf := math.NaN(), math.Inf(1)
	tests := []struct {
		name string
		draw func(*Figure) error
		want string
	}{
		{"hist nan", func(f *Figure) error { return f.Hist([]float64{1, nan, 3}, 5) }, "value 2 is NaN"},
		{"hist inf", func(f *Figure) error { return f.Hist([]float64{inf}, 5) }, "value 1 is infinite"},
		{"bar nan", func(f *Figure) error { return f.Bar([]string{"a", "b"}, []float64{1, nan}) }, "NaN"},
		{"line x inf", func(f *Figure) error { return f.Line("", []float64{1, inf}, []float64{1, 2}) }, "infinite"},
		{"scatter y nan", func(f *Figure) error { return f.Scatter("", nil, []float64{nan}) }, "NaN"},
		{"heatmap row", func(f *Figure) error { return f.Heatmap([][]float64{{1}, {-inf}}, nil) }, "row 2"},
		{"box group", func(f *Figure) error { return f.Box([][]float64{{nan}}, nil) }, "group 1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := NewCanvas().Current()
			err := tt.draw(f)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("err = %v, want %q", err, tt.want)
			}
			if len(f.Series) != 0 {
				t.Errorf("series added despite error: %+v", f.Series)
			}
		})
	}
}

func TestOneCategoricalSeriesPerFigure(t *testing.T) {
	tests := []struct {
		name    string
		draw    func(*Figure) error
		wantErr bool
	}{
		{"two bars", func(f *Figure) error {
			if err := f.Bar([]string{"a"}, []float64{1}); err != nil {
				return err
			}
			return f.Bar([]string{"b"}, []float64{2})
		}, true},
		{"bar then hist", func(f *Figure) error {
			if err := f.Bar([]string{"a"}, []float64{1}); err != nil {
				return err
			}
			return f.Hist([]float64{1, 2}, 2)
		}, true},
		{"line then pie", func(f *Figure) error {
			if err := f.Line("", nil, []float64{1, 2}); err != nil {
				return err
			}
			return f.Pie([]string{"a"}, []float64{1})
		}, true},
		{"bar with lines", func(f *Figure) error {
			if err := f.Bar([]string{"a", "b"}, []float64{1, 2}); err != nil {
				return err
			}
			if err := f.Line("x", nil, []float64{1, 2}); err != nil {
				return err
			}
			return f.Scatter("y", nil, []float64{2, 1})
		}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.draw(NewCanvas().Current())
			if tt.wantErr && (err == nil || !strings.Contains(err.Error(), "figure")) {
				t.Fatalf("err = %v, want figure conflict error", err)
			}
			if !tt.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}
