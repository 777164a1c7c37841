// Package experiment serves named bandits to concurrent callers and persists
// them through a banditstore.Store.
package experiment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/alextanhongpin/mab/ab"
	"github.com/alextanhongpin/mab/ab/banditstore"
)

var (
	ErrExperimentNotFound = errors.New("experiment: not found")
	ErrExperimentExists   = errors.New("experiment: already exists")
)

const tracerName = "github.com/alextanhongpin/mab/ab/experiment"

const defaultStripes = 64

type options struct {
	logger   *slog.Logger
	tracer   trace.Tracer
	metrics  *Metrics
	policies []Policy
	stripes  int
	now      func() time.Time
}

type Option func(*options)

func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) {
		if tp != nil {
			o.tracer = tp.Tracer(tracerName)
		}
	}
}

func WithMetrics(m *Metrics) Option {
	return func(o *options) {
		if m != nil {
			o.metrics = m
		}
	}
}

// WithAutosave saves in the background whenever one of the policies is due.
func WithAutosave(policies ...Policy) Option {
	return func(o *options) {
		o.policies = append(o.policies, policies...)
	}
}

// WithStripes sets the number of locks shared by the experiments.
func WithStripes(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.stripes = n
		}
	}
}

// Registry owns every running experiment. Access to a bandit is serialized
// by one of a fixed set of mutexes picked by hashing the experiment name, so
// experiments rarely contend with each other.
type Registry struct {
	store    banditstore.Store
	logger   *slog.Logger
	tracer   trace.Tracer
	metrics  *Metrics
	autosave *autosave
	stop     func()

	mu      sync.RWMutex
	bandits map[string]*ab.Bandit
	added   map[string]bool
	locks   []sync.Mutex

	closeOnce sync.Once
	closeErr  error
}

// New loads the saved bandits from the store. They are served right away and
// take precedence over bandits added later under the same name.
func New(ctx context.Context, store banditstore.Store, opts ...Option) (*Registry, error) {
	o := &options{
		logger:  slog.Default(),
		tracer:  otel.Tracer(tracerName),
		stripes: defaultStripes,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.metrics == nil {
		o.metrics = NewMetrics(nil)
	}

	r := &Registry{
		store:    store,
		logger:   o.logger,
		tracer:   o.tracer,
		metrics:  o.metrics,
		autosave: newAutosave(o.policies, o.now),
		added:    make(map[string]bool),
		locks:    make([]sync.Mutex, o.stripes),
	}

	bandits, err := r.load(ctx)
	if err != nil {
		return nil, err
	}
	r.bandits = bandits

	if len(o.policies) > 0 {
		r.stop = r.autosave.run(context.WithoutCancel(ctx), r.saveIfDue)
	}

	return r, nil
}

func (r *Registry) load(ctx context.Context) (map[string]*ab.Bandit, error) {
	ctx, span := r.tracer.Start(ctx, "experiment.Load")
	defer span.End()

	bandits, err := r.store.Load(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("experiment: load: %w", err)
	}
	if bandits == nil {
		bandits = make(map[string]*ab.Bandit)
	}

	span.SetAttributes(attribute.Int("experiments", len(bandits)))
	r.logger.InfoContext(ctx, "experiment: loaded", slog.Int("experiments", len(bandits)))

	return bandits, nil
}

// Add registers the bandit under name and takes ownership of it. When saved
// state exists for the name, the saved bandit is kept and only gains the arms
// it does not know yet.
func (r *Registry) Add(name string, b *ab.Bandit) error {
	if name == "" || b == nil {
		return fmt.Errorf("%w: experiment name and bandit are required", ab.ErrInvalidParameter)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.added[name] {
		return fmt.Errorf("%w: %q", ErrExperimentExists, name)
	}

	saved, ok := r.bandits[name]
	if !ok {
		r.bandits[name] = b
		r.added[name] = true
		return nil
	}

	mu := r.lock(name)
	mu.Lock()
	defer mu.Unlock()

	for _, arm := range b.Arms() {
		if _, err := saved.Arm(arm.ID); err == nil {
			continue
		}
		if err := saved.AddArm(arm.ID, arm.Value); err != nil {
			return err
		}
		r.logger.Info("experiment: arm added to saved bandit",
			slog.String("experiment", name),
			slog.String("arm", arm.ID),
		)
	}
	r.added[name] = true

	return nil
}

// Suggest returns the next arm without registering a pull.
func (r *Registry) Suggest(name string) (arm ab.Arm, err error) {
	err = r.with(name, func(b *ab.Bandit) error {
		arm, err = b.SuggestArm()
		return err
	})
	if err != nil {
		return ab.Arm{}, err
	}

	r.metrics.suggested(name, arm.ID)
	return arm, nil
}

// Assign suggests an arm and pulls it in one step, for a new visitor.
func (r *Registry) Assign(name string) (arm ab.Arm, err error) {
	err = r.with(name, func(b *ab.Bandit) error {
		arm, err = b.SuggestArm()
		if err != nil {
			return err
		}
		if err := b.PullArm(arm.ID); err != nil {
			return err
		}

		arm, err = b.Arm(arm.ID)
		return err
	})
	if err != nil {
		return ab.Arm{}, err
	}

	r.autosave.inc(1)
	r.metrics.suggested(name, arm.ID)
	r.metrics.pulled(name, arm.ID)
	return arm, nil
}

func (r *Registry) Pull(name, arm string) error {
	err := r.with(name, func(b *ab.Bandit) error {
		return b.PullArm(arm)
	})
	if err != nil {
		return err
	}

	r.autosave.inc(1)
	r.metrics.pulled(name, arm)
	return nil
}

func (r *Registry) Reward(name, arm string, amount float64) error {
	err := r.with(name, func(b *ab.Bandit) error {
		return b.RewardArm(arm, amount)
	})
	if err != nil {
		return err
	}

	r.autosave.inc(1)
	r.metrics.rewarded(name, arm, amount)
	return nil
}

func (r *Registry) Arm(name, id string) (arm ab.Arm, err error) {
	err = r.with(name, func(b *ab.Bandit) error {
		arm, err = b.Arm(id)
		return err
	})

	return arm, err
}

func (r *Registry) Arms(name string) (arms []ab.Arm, err error) {
	err = r.with(name, func(b *ab.Bandit) error {
		arms = b.Arms()
		return nil
	})

	return arms, err
}

// Get returns a copy of the bandit.
func (r *Registry) Get(name string) (b *ab.Bandit, err error) {
	err = r.with(name, func(bandit *ab.Bandit) error {
		b = bandit.Clone()
		return nil
	})

	return b, err
}

// Names returns the experiment names in order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.bandits))
	for name := range r.bandits {
		names = append(names, name)
	}
	slices.Sort(names)

	return names
}

// Save persists a consistent copy of every bandit.
func (r *Registry) Save(ctx context.Context) error {
	return r.save(ctx, r.autosave.changes.Load())
}

func (r *Registry) save(ctx context.Context, changes int64) error {
	ctx, span := r.tracer.Start(ctx, "experiment.Save")
	defer span.End()

	bandits := r.snapshot()
	span.SetAttributes(
		attribute.Int("experiments", len(bandits)),
		attribute.Int64("changes", changes),
	)

	err := r.store.Save(ctx, bandits)
	r.metrics.saved(err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.logger.ErrorContext(ctx, "experiment: save failed",
			slog.Int64("changes", changes),
			slog.String("err", err.Error()),
		)
		return err
	}

	r.autosave.reset(changes)
	r.logger.DebugContext(ctx, "experiment: saved",
		slog.Int("experiments", len(bandits)),
		slog.Int64("changes", changes),
	)

	return nil
}

func (r *Registry) saveIfDue(ctx context.Context) {
	changes, ok := r.autosave.due()
	if !ok {
		return
	}

	// Failures are logged and retried on the next tick.
	_ = r.save(ctx, changes)
}

// Close stops the autosave and saves one last time. It is safe to call more
// than once.
func (r *Registry) Close(ctx context.Context) error {
	r.closeOnce.Do(func() {
		if r.stop != nil {
			r.stop()
		}
		r.closeErr = r.Save(ctx)
	})

	return r.closeErr
}

func (r *Registry) snapshot() map[string]*ab.Bandit {
	r.mu.RLock()
	defer r.mu.RUnlock()

	bandits := make(map[string]*ab.Bandit, len(r.bandits))
	for name, b := range r.bandits {
		mu := r.lock(name)
		mu.Lock()
		bandits[name] = b.Clone()
		mu.Unlock()
	}

	return bandits
}

func (r *Registry) with(name string, fn func(b *ab.Bandit) error) error {
	r.mu.RLock()
	b, ok := r.bandits[name]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %q", ErrExperimentNotFound, name)
	}

	mu := r.lock(name)
	mu.Lock()
	defer mu.Unlock()

	return fn(b)
}

func (r *Registry) lock(name string) *sync.Mutex {
	return &r.locks[ab.Hash(name, uint64(len(r.locks)))]
}
