// Package report renders events and merge runs for inspection: static PNG
// plots through gonum/plot and interactive HTML through go-echarts.
package report

import (
	"fmt"
	"image/color"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/particleflow/internal/pfa/event"
	"github.com/banshee-data/particleflow/internal/pfa/fragment"
)

// trajectoryLength is how far trajectories are drawn into the calorimeter, mm.
const trajectoryLength = 1500

// PlotEvent writes a side view (z against x) of the current clusters of ev
// to path. The image format follows the file extension.
func PlotEvent(ev *event.Event, path string) error {
	hs, err := ev.CurrentClusters()
	if err != nil {
		return fmt.Errorf("plot event %s: %w", ev.ID, err)
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("Event %s - %d clusters", ev.ID, len(hs))
	p.X.Label.Text = "z (mm)"
	p.Y.Label.Text = "x (mm)"

	colors := palette(len(hs))
	for i, h := range hs {
		hits, err := ev.Hits(h)
		if err != nil {
			return fmt.Errorf("plot event %s: %w", ev.ID, err)
		}
		pts := make(plotter.XYs, len(hits))
		for j, hit := range hits {
			pts[j] = plotter.XY{X: hit.Position[2], Y: hit.Position[0]}
		}
		s, err := plotter.NewScatter(pts)
		if err != nil {
			return fmt.Errorf("scatter %s: %w", h, err)
		}
		s.GlyphStyle.Color = colors[i]
		s.GlyphStyle.Radius = vg.Points(1.5)
		p.Add(s)

		tracked, err := ev.IsTrackAssociated(h)
		if err != nil {
			return fmt.Errorf("plot event %s: %w", ev.ID, err)
		}
		if tracked {
			p.Legend.Add(h.String(), s)
		}
	}

	for _, tr := range ev.Trajectories() {
		end := tr.PositionAt(trajectoryLength)
		l, err := plotter.NewLine(plotter.XYs{
			{X: tr.Origin[2], Y: tr.Origin[0]},
			{X: end[2], Y: end[0]},
		})
		if err != nil {
			return fmt.Errorf("trajectory %d: %w", tr.ID, err)
		}
		l.Color = color.Black
		l.Width = vg.Points(1)
		l.Dashes = []vg.Length{vg.Points(4), vg.Points(2)}
		p.Add(l)
	}

	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10

	if err := p.Save(14*vg.Inch, 6*vg.Inch, path); err != nil {
		return fmt.Errorf("save event plot: %w", err)
	}
	return nil
}

// PlotMerges writes the evidence and required evidence of each accepted
// merge, in merge order, to path.
func PlotMerges(res fragment.Result, path string) error {
	p := plot.New()
	p.Title.Text = fmt.Sprintf("Run %s - %d merges", res.RunID, len(res.Merges))
	p.X.Label.Text = "Merge step"
	p.Y.Label.Text = "Evidence"

	evidence := make(plotter.XYs, len(res.Merges))
	required := make(plotter.XYs, len(res.Merges))
	for i, m := range res.Merges {
		evidence[i] = plotter.XY{X: float64(m.Step), Y: m.Evidence}
		required[i] = plotter.XY{X: float64(m.Step), Y: m.Required}
	}

	colors := palette(2)
	if len(res.Merges) > 0 {
		ev, err := plotter.NewScatter(evidence)
		if err != nil {
			return fmt.Errorf("evidence scatter: %w", err)
		}
		ev.GlyphStyle.Color = colors[0]
		ev.GlyphStyle.Radius = vg.Points(2)

		req, err := plotter.NewLine(required)
		if err != nil {
			return fmt.Errorf("required line: %w", err)
		}
		req.Color = colors[1]
		req.Width = vg.Points(1)

		p.Add(ev, req)
		p.Legend.Add("evidence", ev)
		p.Legend.Add("required", req)
	}

	if err := p.Save(14*vg.Inch, 6*vg.Inch, path); err != nil {
		return fmt.Errorf("save merge plot: %w", err)
	}
	return nil
}

// palette returns n evenly spaced hues.
func palette(n int) []color.Color {
	colors := make([]color.Color, n)
	for i := range colors {
		r, g, b := hslToRGB(float64(i)/float64(n), 0.7, 0.45)
		colors[i] = color.RGBA{R: r, G: g, B: b, A: 255}
	}
	return colors
}

// hex formats c as a CSS colour.
func hex(c color.Color) string {
	r, g, b, _ := c.RGBA()
	return fmt.Sprintf("#%02x%02x%02x", r>>8, g>>8, b>>8)
}

func hslToRGB(h, s, l float64) (r, g, b uint8) {
	q := l + s - l*s
	if l < 0.5 {
		q = l * (1 + s)
	}
	p := 2*l - q
	return channel(p, q, h+1.0/3.0), channel(p, q, h), channel(p, q, h-1.0/3.0)
}

func channel(p, q, t float64) uint8 {
	switch {
	case t < 0:
		t++
	case t > 1:
		t--
	}
	v := p
	switch {
	case t < 1.0/6.0:
		v = p + (q-p)*6*t
	case t < 0.5:
		v = q
	case t < 2.0/3.0:
		v = p + (q-p)*(2.0/3.0-t)*6
	}
	return uint8(v * 255)
}
