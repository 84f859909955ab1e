// Command pfa runs the particle-flow reconstruction sequence over a batch
// of events, optionally persisting events and merge runs to SQLite and
// writing plots and charts per event.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/particleflow/internal/config"
	"github.com/banshee-data/particleflow/internal/pfa"
	"github.com/banshee-data/particleflow/internal/pfa/event"
	"github.com/banshee-data/particleflow/internal/pfa/pipeline"
	"github.com/banshee-data/particleflow/internal/pfa/report"
	"github.com/banshee-data/particleflow/internal/pfa/storage/sqlite"
	"github.com/banshee-data/particleflow/internal/pfa/synthetic"
	"github.com/banshee-data/particleflow/internal/security"
	"github.com/banshee-data/particleflow/internal/timeutil"
	"github.com/banshee-data/particleflow/internal/version"
)

var (
	dbFile     = flag.String("db", "", "Path to the SQLite database file (empty: no persistence)")
	configFile = flag.String("config", "", "Path to a tuning config JSON file (empty: built-in defaults)")
	nEvents    = flag.Int("events", 10, "Number of synthetic events to generate")
	seed       = flag.Uint64("seed", 1, "Seed of the first synthetic event")
	replay     = flag.Bool("replay", false, "Re-run the events stored in -db instead of generating new ones")
	workers    = flag.Int("workers", 0, "Events processed in parallel (0: from config)")
	plotDir    = flag.String("plots", "", "Directory for PNG plots per event (empty: none)")
	chartDir   = flag.String("charts", "", "Directory for HTML charts per event (empty: none)")
	verbose    = flag.Bool("verbose", false, "Log per-merge decisions")
	trace      = flag.Bool("trace", false, "Log every scored pair (very noisy)")
	showVer    = flag.Bool("version", false, "Print version and exit")
)

// options is the parsed command line.
type options struct {
	DBFile     string
	ConfigFile string
	Events     int
	Seed       uint64
	Replay     bool
	Workers    int
	PlotDir    string
	ChartDir   string
}

// summary aggregates the outcome of a batch.
type summary struct {
	Events         int
	ClustersBefore int
	ClustersAfter  int
	Merges         int
	Associated     int
}

func (s *summary) add(reports []pipeline.Report) {
	s.Events++
	for _, r := range reports {
		if r.Association != nil {
			s.Associated += r.Association.Associated
		}
		if r.Fragment != nil {
			s.ClustersBefore += r.Fragment.ClustersBefore
			s.ClustersAfter += r.Fragment.ClustersAfter
			s.Merges += len(r.Fragment.Merges)
		}
	}
}

func main() {
	flag.Parse()
	if *showVer {
		fmt.Println(version.String())
		return
	}

	w := pfa.LogWriters{Ops: os.Stderr}
	if *verbose || *trace {
		w.Diag = os.Stderr
	}
	if *trace {
		w.Trace = os.Stderr
	}
	pfa.SetLogWriters(w)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	clock := timeutil.RealClock{}
	start := clock.Now()
	sum, err := run(ctx, options{
		DBFile:     *dbFile,
		ConfigFile: *configFile,
		Events:     *nEvents,
		Seed:       *seed,
		Replay:     *replay,
		Workers:    *workers,
		PlotDir:    *plotDir,
		ChartDir:   *chartDir,
	})
	if err != nil {
		log.Fatalf("pfa: %v", err)
	}
	printSummary(os.Stdout, sum, clock.Since(start))
}

func loadConfig(path string) (*config.TuningConfig, error) {
	if path == "" {
		return config.EmptyTuningConfig(), nil
	}
	return config.LoadTuningConfig(path)
}

func run(ctx context.Context, o options) (summary, error) {
	cfg, err := loadConfig(o.ConfigFile)
	if err != nil {
		return summary{}, err
	}
	fc, err := cfg.FragmentConfig()
	if err != nil {
		return summary{}, err
	}
	params, err := json.Marshal(fc)
	if err != nil {
		return summary{}, fmt.Errorf("encode params: %w", err)
	}

	seq, err := pipeline.Build(cfg.GetAlgorithms(), pipeline.Settings{
		Association: cfg.AssociationConfig(),
		Fragment:    fc,
	})
	if err != nil {
		return summary{}, err
	}

	var store *sqlite.Store
	if o.DBFile != "" {
		store, err = sqlite.Open(o.DBFile)
		if err != nil {
			return summary{}, err
		}
		defer store.Close()
	} else if o.Replay {
		return summary{}, fmt.Errorf("-replay requires -db")
	}

	for _, dir := range []string{o.PlotDir, o.ChartDir} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return summary{}, fmt.Errorf("create output dir: %w", err)
		}
	}

	events, err := source(store, o)
	if err != nil {
		return summary{}, err
	}

	nWorkers := o.Workers
	if nWorkers <= 0 {
		nWorkers = cfg.GetWorkers()
	}
	pfa.Opsf("[Batch] events=%d workers=%d algorithms=%v", len(events), nWorkers, seq.Names())

	var (
		mu  sync.Mutex
		sum summary
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(nWorkers)
	for _, ev := range events {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			pctx := &pipeline.Context{Event: ev, Collection: cfg.GetInputCollection()}
			if err := seq.Run(pctx); err != nil {
				return err
			}
			if err := output(store, ev, pctx.Reports, params, o); err != nil {
				return fmt.Errorf("event %s: %w", ev.ID, err)
			}
			mu.Lock()
			sum.add(pctx.Reports)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return sum, err
	}
	return sum, nil
}

// source returns the events of the batch: stored ones on replay, freshly
// generated ones otherwise.
func source(store *sqlite.Store, o options) ([]*event.Event, error) {
	if !o.Replay {
		return synthetic.Events(o.Events, o.Seed, synthetic.DefaultConfig()), nil
	}
	ids, err := store.ListEventIDs()
	if err != nil {
		return nil, err
	}
	events := make([]*event.Event, 0, len(ids))
	for _, id := range ids {
		ev, err := store.LoadEvent(id)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, nil
}

// output persists and renders one processed event.
func output(store *sqlite.Store, ev *event.Event, reports []pipeline.Report, params json.RawMessage, o options) error {
	var frag *pipeline.Report
	for i := range reports {
		if reports[i].Fragment != nil {
			frag = &reports[i]
		}
	}

	if store != nil {
		if err := store.SaveEvent(ev); err != nil {
			return err
		}
		if frag != nil {
			if _, err := store.SaveFragmentRun(ev.ID, *frag.Fragment, params); err != nil {
				return err
			}
		}
	}

	if o.PlotDir != "" {
		path, err := security.ArtifactPath(o.PlotDir, ev.ID, ".png")
		if err != nil {
			return err
		}
		if err := report.PlotEvent(ev, path); err != nil {
			return err
		}
		if frag != nil {
			path, err := security.ArtifactPath(o.PlotDir, ev.ID, "_merges.png")
			if err != nil {
				return err
			}
			if err := report.PlotMerges(*frag.Fragment, path); err != nil {
				return err
			}
		}
	}

	if o.ChartDir != "" {
		path, err := security.ArtifactPath(o.ChartDir, ev.ID, ".html")
		if err != nil {
			return err
		}
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("create chart: %w", err)
		}
		defer f.Close()
		if frag != nil {
			err = report.RenderRunPage(f, ev, *frag.Fragment)
		} else {
			err = report.RenderEventChart(f, ev, "Event "+ev.ID)
		}
		if err != nil {
			return err
		}
		if err := f.Close(); err != nil {
			return fmt.Errorf("close chart: %w", err)
		}
	}
	return nil
}

func printSummary(w io.Writer, s summary, elapsed time.Duration) {
	fmt.Fprintf(w, "events:      %d\n", s.Events)
	fmt.Fprintf(w, "associated:  %d trajectories\n", s.Associated)
	fmt.Fprintf(w, "clusters:    %d -> %d\n", s.ClustersBefore, s.ClustersAfter)
	fmt.Fprintf(w, "merges:      %d\n", s.Merges)
	fmt.Fprintf(w, "elapsed:     %s\n", elapsed.Round(time.Millisecond))
}
