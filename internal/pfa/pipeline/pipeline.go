// Package pipeline sequences reconstruction algorithms over one event.
//
// Algorithms are resolved by name from a static registry when the
// sequence is built, so an unknown name or bad configuration fails before
// any event is touched. The pipeline owns no domain logic; it delegates to
// the algorithm packages.
package pipeline

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/banshee-data/particleflow/internal/pfa"
	"github.com/banshee-data/particleflow/internal/pfa/association"
	"github.com/banshee-data/particleflow/internal/pfa/event"
	"github.com/banshee-data/particleflow/internal/pfa/fragment"
	"github.com/banshee-data/particleflow/internal/timeutil"
)

// Registered algorithm names.
const (
	TrackClusterAssociation = "TrackClusterAssociation"
	FragmentRemoval         = "FragmentRemoval"
)

// ErrUnknownAlgorithm is returned by Build for a name not in the registry.
var ErrUnknownAlgorithm = errors.New("pipeline: unknown algorithm")

// Settings carries the configuration for every registered algorithm.
type Settings struct {
	Association association.Config
	Fragment    fragment.Config
}

// DefaultSettings returns the defaults of every algorithm.
func DefaultSettings() Settings {
	return Settings{
		Association: association.DefaultConfig(),
		Fragment:    fragment.DefaultConfig(),
	}
}

// Context is the explicit per-event state handed to each algorithm.
type Context struct {
	Event *event.Event
	// Collection is made current before the first algorithm runs. Empty
	// leaves the event's current collection unchanged.
	Collection string
	Reports    []Report
}

// Report is what one algorithm did to the event. Exactly one of the
// result fields is set, matching Algorithm.
type Report struct {
	Algorithm   string
	Elapsed     time.Duration
	Association *association.Result
	Fragment    *fragment.Result
}

// Algorithm is one reconstruction step.
type Algorithm interface {
	Name() string
	Run(ctx *Context) (Report, error)
}

type factory func(Settings) (Algorithm, error)

var registry = map[string]factory{
	TrackClusterAssociation: func(s Settings) (Algorithm, error) {
		if err := s.Association.Validate(); err != nil {
			return nil, err
		}
		return associationStep{cfg: s.Association}, nil
	},
	FragmentRemoval: func(s Settings) (Algorithm, error) {
		if err := s.Fragment.Validate(); err != nil {
			return nil, err
		}
		return fragmentStep{cfg: s.Fragment}, nil
	},
}

// Names returns the registered algorithm names in sorted order.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Sequence is an ordered list of algorithms.
type Sequence struct {
	algorithms []Algorithm
	clock      timeutil.Clock
}

// Build resolves names against the registry.
func Build(names []string, s Settings) (*Sequence, error) {
	seq := &Sequence{clock: timeutil.RealClock{}}
	for _, name := range names {
		f, ok := registry[name]
		if !ok {
			return nil, fmt.Errorf("%q: %w", name, ErrUnknownAlgorithm)
		}
		alg, err := f(s)
		if err != nil {
			return nil, fmt.Errorf("algorithm %s: %w", name, err)
		}
		seq.algorithms = append(seq.algorithms, alg)
	}
	return seq, nil
}

// SetClock replaces the clock used to time each algorithm.
func (s *Sequence) SetClock(c timeutil.Clock) {
	s.clock = c
}

// Names returns the algorithm names in execution order.
func (s *Sequence) Names() []string {
	names := make([]string, len(s.algorithms))
	for i, alg := range s.algorithms {
		names[i] = alg.Name()
	}
	return names
}

// Run executes every algorithm in order against ctx.Event. The first
// error aborts the sequence; reports of completed steps stay in ctx.
func (s *Sequence) Run(ctx *Context) error {
	if ctx == nil || ctx.Event == nil {
		return errors.New("pipeline: nil event")
	}
	if ctx.Collection != "" {
		if err := ctx.Event.SetCurrentCollection(ctx.Collection); err != nil {
			return fmt.Errorf("event %s: %w", ctx.Event.ID, err)
		}
	}

	for _, alg := range s.algorithms {
		start := s.clock.Now()
		rep, err := alg.Run(ctx)
		if err != nil {
			pfa.Opsf("[Pipeline] event=%s algorithm=%s failed: %v", ctx.Event.ID, alg.Name(), err)
			return fmt.Errorf("event %s: %s: %w", ctx.Event.ID, alg.Name(), err)
		}
		rep.Algorithm = alg.Name()
		rep.Elapsed = s.clock.Since(start)
		ctx.Reports = append(ctx.Reports, rep)
		pfa.Diagf("[Pipeline] event=%s algorithm=%s elapsed=%s", ctx.Event.ID, alg.Name(), rep.Elapsed)
	}
	return nil
}

type associationStep struct {
	cfg association.Config
}

func (associationStep) Name() string { return TrackClusterAssociation }

func (a associationStep) Run(ctx *Context) (Report, error) {
	res, err := association.Run(ctx.Event, a.cfg)
	if err != nil {
		return Report{}, err
	}
	return Report{Association: &res}, nil
}

type fragmentStep struct {
	cfg fragment.Config
}

func (fragmentStep) Name() string { return FragmentRemoval }

func (f fragmentStep) Run(ctx *Context) (Report, error) {
	engine, err := fragment.NewEngine(ctx.Event, f.cfg)
	if err != nil {
		return Report{}, err
	}
	res, err := engine.Run()
	if err != nil {
		// Merges already performed stay in the event; report them too.
		return Report{Fragment: &res}, err
	}
	return Report{Fragment: &res}, nil
}
