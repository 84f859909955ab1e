package report

import (
	"fmt"
	"io"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/particleflow/internal/pfa/event"
	"github.com/banshee-data/particleflow/internal/pfa/fragment"
)

// AssetsHost is where rendered pages load the echarts scripts from.
var AssetsHost = "https://go-echarts.github.io/go-echarts-assets/assets/"

// eventScatter builds a z-x scatter with one series per current cluster.
func eventScatter(ev *event.Event, title string) (*charts.Scatter, error) {
	hs, err := ev.CurrentClusters()
	if err != nil {
		return nil, fmt.Errorf("chart event %s: %w", ev.ID, err)
	}

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: title, Width: "1200px", Height: "600px", AssetsHost: AssetsHost}),
		charts.WithTitleOpts(opts.Title{Title: title, Subtitle: fmt.Sprintf("event=%s clusters=%d trajectories=%d", ev.ID, len(hs), len(ev.Trajectories()))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(len(hs) <= 20)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "z (mm)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: "x (mm)", NameLocation: "middle", NameGap: 40}),
	)

	colors := palette(len(hs))
	for i, h := range hs {
		hits, err := ev.Hits(h)
		if err != nil {
			return nil, fmt.Errorf("chart event %s: %w", ev.ID, err)
		}
		data := make([]opts.ScatterData, len(hits))
		for j, hit := range hits {
			data[j] = opts.ScatterData{Value: []interface{}{hit.Position[2], hit.Position[0], hit.HadEnergy}}
		}
		scatter.AddSeries(h.String(), data,
			charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 4}),
			charts.WithItemStyleOpts(opts.ItemStyle{Color: hex(colors[i])}),
		)
	}
	return scatter, nil
}

// RenderEventChart writes an HTML page with the clusters of ev to w.
func RenderEventChart(w io.Writer, ev *event.Event, title string) error {
	scatter, err := eventScatter(ev, title)
	if err != nil {
		return err
	}
	if err := scatter.Render(w); err != nil {
		return fmt.Errorf("render event chart: %w", err)
	}
	return nil
}

// RenderRunPage writes an HTML page with the event after the run and a bar
// chart of the evidence excess of each merge.
func RenderRunPage(w io.Writer, ev *event.Event, res fragment.Result) error {
	scatter, err := eventScatter(ev, "Clusters after fragment removal")
	if err != nil {
		return err
	}

	steps := make([]string, len(res.Merges))
	excess := make([]opts.BarData, len(res.Merges))
	for i, m := range res.Merges {
		steps[i] = fmt.Sprintf("%d", m.Step)
		excess[i] = opts.BarData{Value: m.Excess, Name: fmt.Sprintf("%s <- %s", m.Parent, m.Daughter)}
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "1200px", Height: "400px", AssetsHost: AssetsHost}),
		charts.WithTitleOpts(opts.Title{Title: "Merge evidence excess", Subtitle: fmt.Sprintf("run=%s clusters %d -> %d", res.RunID, res.ClustersBefore, res.ClustersAfter)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "step"}),
	)
	bar.SetXAxis(steps).AddSeries("excess", excess)

	page := components.NewPage()
	page.SetAssetsHost(AssetsHost)
	page.SetPageTitle(fmt.Sprintf("Run %s", res.RunID))
	page.AddCharts(scatter, bar)
	if err := page.Render(w); err != nil {
		return fmt.Errorf("render run page: %w", err)
	}
	return nil
}
