package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Simplici0/montaje/internal/metrics"
)

// DefaultDebounce is the quiet period before a batch is flushed.
const DefaultDebounce = 300 * time.Millisecond

// UpdateFunc derives a target value from a source value.
type UpdateFunc func(source Value) (Value, error)

// Rule says how an edge updates its target: either through an UpdateFunc, or
// by marking the target for the recompute routine.
type Rule struct {
	update UpdateFunc
}

// Compute returns a rule that writes fn(source) to the target.
func Compute(fn UpdateFunc) Rule {
	return Rule{update: fn}
}

// Recompute returns a rule that hands the target to the recompute routine on
// the next flush.
func Recompute() Rule {
	return Rule{}
}

func (r Rule) IsRecompute() bool {
	return r.update == nil
}

// ChangeEvent records that a field was touched during a debounce window.
// Value is the field's value at flush time.
type ChangeEvent struct {
	Field string
	Value Value
	At    time.Time
}

// Batch is what one flush hands to the recompute routine. Snapshot holds every
// field value at Revision, taken under the same lock that closed the batch;
// results derived from it are committed with Commit(batch.Revision, ...).
type Batch struct {
	Seq      uint64
	Revision uint64
	Events   []ChangeEvent
	Dirty    []string
	Snapshot Snapshot
}

// Touched reports whether any of ids changed or was marked dirty in the batch.
func (b Batch) Touched(ids ...string) bool {
	for _, id := range ids {
		for _, e := range b.Events {
			if e.Field == id {
				return true
			}
		}
		for _, d := range b.Dirty {
			if d == id {
				return true
			}
		}
	}
	return false
}

// RecomputeFunc is invoked once per flush.
type RecomputeFunc func(ctx context.Context, batch Batch) error

// FlushReport summarizes one flush. Changed lists fields whose value differs
// after the recompute routine returned.
type FlushReport struct {
	Seq     uint64
	Events  []ChangeEvent
	Dirty   []string
	Changed []string
	Err     error
}

// Write is one field assignment produced by a recompute.
type Write struct {
	Field string
	Value Value
}

type edge struct {
	source string
	target string
	rule   Rule
}

type field struct {
	value Value
	edges []edge
}

// Option configures a Propagator.
type Option func(*Propagator)

func WithDebounce(d time.Duration) Option {
	return func(p *Propagator) { p.debounce = d }
}

func WithScheduler(s Scheduler) Option {
	return func(p *Propagator) { p.scheduler = s }
}

func WithClock(now func() time.Time) Option {
	return func(p *Propagator) { p.now = now }
}

func WithLogger(logger *zap.Logger) Option {
	return func(p *Propagator) { p.logger = logger }
}

func WithRecompute(fn RecomputeFunc) Option {
	return func(p *Propagator) { p.recompute = fn }
}

// WithContext sets the context handed to the recompute routine. It is
// cancelled by Close.
func WithContext(ctx context.Context) Option {
	return func(p *Propagator) { p.parent = ctx }
}

// Propagator owns the fields of one order-editing session and pushes edits
// along their dependency edges.
type Propagator struct {
	mu sync.Mutex

	fields map[string]*field
	order  []string

	// fields currently mid-update
	updating map[string]struct{}

	events  []ChangeEvent
	touched map[string]int
	dirty   []string
	isDirty map[string]struct{}

	revision uint64
	seq      uint64
	timer    Timer
	timerGen uint64
	closed   bool

	debounce  time.Duration
	scheduler Scheduler
	now       func() time.Time
	logger    *zap.Logger
	recompute RecomputeFunc
	parent    context.Context
	ctx       context.Context
	cancel    context.CancelFunc
}

// New returns an empty Propagator.
func New(opts ...Option) *Propagator {
	p := &Propagator{
		fields:    make(map[string]*field),
		updating:  make(map[string]struct{}),
		touched:   make(map[string]int),
		isDirty:   make(map[string]struct{}),
		debounce:  DefaultDebounce,
		scheduler: wallScheduler{},
		now:       time.Now,
		logger:    zap.NewNop(),
		parent:    context.Background(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.ctx, p.cancel = context.WithCancel(p.parent)
	return p
}

// SetRecompute replaces the recompute routine.
func (p *Propagator) SetRecompute(fn RecomputeFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.recompute = fn
}

// RegisterField adds a field with its initial value.
func (p *Propagator) RegisterField(id string, initial Value) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.fields[id]; exists {
		return &DuplicateFieldError{ID: id}
	}
	p.fields[id] = &field{value: initial}
	p.order = append(p.order, id)
	return nil
}

// RegisterDependency appends an edge from source to target. Edges from the
// same source run in registration order.
func (p *Propagator) RegisterDependency(source, target string, rule Rule) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	src, ok := p.fields[source]
	if !ok {
		return fmt.Errorf("register dependency source %q: %w", source, ErrUnknownField)
	}
	if _, ok := p.fields[target]; !ok {
		return fmt.Errorf("register dependency target %q: %w", target, ErrUnknownField)
	}
	src.edges = append(src.edges, edge{source: source, target: target, rule: rule})
	return nil
}

// NotifyChanged stores value on the field, propagates it along the field's
// out-edges and (re)starts the debounce timer. With immediate the timer fires
// without delay.
func (p *Propagator) NotifyChanged(id string, value Value, immediate bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrClosed
	}
	if _, ok := p.fields[id]; !ok {
		return fmt.Errorf("notify %q: %w", id, ErrUnknownField)
	}

	p.revision++
	p.apply(id, value, p.now(), true)
	p.schedule(immediate)
	return nil
}

// Touch queues fields for the next flush without changing their values.
func (p *Propagator) Touch(immediate bool, ids ...string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrClosed
	}
	if len(ids) == 0 {
		ids = p.order
	}
	at := p.now()
	for _, id := range ids {
		if _, ok := p.fields[id]; !ok {
			return fmt.Errorf("touch %q: %w", id, ErrUnknownField)
		}
		p.record(id, at)
	}
	p.revision++
	p.schedule(immediate)
	return nil
}

// apply must be called with mu held. When user is false the write comes from
// the recompute routine: it still propagates along edges but is not queued for
// another flush.
func (p *Propagator) apply(id string, value Value, at time.Time, user bool) {
	if _, busy := p.updating[id]; busy {
		metrics.GuardSkipsTotal.Inc()
		p.logger.Debug("recursion guard skipped write", zap.String("field", id))
		return
	}
	p.updating[id] = struct{}{}
	defer delete(p.updating, id)

	f := p.fields[id]
	f.value = value
	if user {
		p.record(id, at)
	}

	for _, e := range f.edges {
		if e.rule.IsRecompute() {
			if user {
				p.markDirty(e.target)
			}
			continue
		}

		out, err := p.run(e, value)
		if err != nil {
			metrics.RuleFailuresTotal.WithLabelValues(e.source, e.target).Inc()
			p.logger.Warn("update rule failed",
				zap.String("source", e.source),
				zap.String("target", e.target),
				zap.Error(err),
			)
			continue
		}
		p.apply(e.target, out, at, user)
	}
}

func (p *Propagator) run(e edge, value Value) (out Value, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("rule %s -> %s panicked: %v", e.source, e.target, r)
		}
	}()
	return e.rule.update(value)
}

func (p *Propagator) record(id string, at time.Time) {
	if i, ok := p.touched[id]; ok {
		p.events[i].At = at
		return
	}
	p.touched[id] = len(p.events)
	p.events = append(p.events, ChangeEvent{Field: id, At: at})
}

func (p *Propagator) markDirty(id string) {
	if _, ok := p.isDirty[id]; ok {
		return
	}
	p.isDirty[id] = struct{}{}
	p.dirty = append(p.dirty, id)
}

func (p *Propagator) schedule(immediate bool) {
	if p.timer != nil {
		p.timer.Stop()
	}
	delay := p.debounce
	if immediate {
		delay = 0
	}
	p.timerGen++
	gen := p.timerGen
	p.timer = p.scheduler.AfterFunc(delay, func() {
		p.fire(gen)
	})
}

func (p *Propagator) fire(gen uint64) {
	p.mu.Lock()
	current := gen == p.timerGen && !p.closed
	p.mu.Unlock()
	if !current {
		return
	}
	p.Flush()
}

// Flush delivers the pending batch to the recompute routine now. It returns
// an empty report when nothing is pending.
func (p *Propagator) Flush() FlushReport {
	p.mu.Lock()
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	p.timerGen++
	if p.closed || (len(p.events) == 0 && len(p.dirty) == 0) {
		p.mu.Unlock()
		return FlushReport{}
	}

	p.seq++
	batch := Batch{
		Seq:      p.seq,
		Revision: p.revision,
		Events:   make([]ChangeEvent, len(p.events)),
		Dirty:    p.dirty,
	}
	for i, e := range p.events {
		e.Value = p.fields[e.Field].value
		batch.Events[i] = e
	}
	p.events = nil
	p.touched = make(map[string]int)
	p.dirty = nil
	p.isDirty = make(map[string]struct{})

	before := p.valuesLocked()
	batch.Snapshot = Snapshot{Revision: batch.Revision, Values: before}
	recompute := p.recompute
	ctx := p.ctx
	p.mu.Unlock()

	report := FlushReport{Seq: batch.Seq, Events: batch.Events, Dirty: batch.Dirty}
	metrics.FlushBatchSize.Observe(float64(len(batch.Events)))

	if recompute != nil {
		start := time.Now()
		report.Err = recompute(ctx, batch)
		metrics.FlushDuration.Observe(time.Since(start).Seconds())
	}

	p.mu.Lock()
	for _, id := range p.order {
		if !p.fields[id].value.Equal(before[id]) {
			report.Changed = append(report.Changed, id)
		}
	}
	p.mu.Unlock()

	status := "ok"
	if report.Err != nil {
		status = "error"
		p.logger.Warn("recompute failed", zap.Uint64("seq", batch.Seq), zap.Error(report.Err))
	}
	metrics.FlushesTotal.WithLabelValues(status).Inc()
	p.logger.Debug("flushed batch",
		zap.Uint64("seq", batch.Seq),
		zap.Int("events", len(batch.Events)),
		zap.Int("dirty", len(batch.Dirty)),
		zap.Strings("changed", report.Changed),
	)

	return report
}

// Requeue puts the fields of a discarded batch back into the pending batch so
// the next flush sees them again. A flush is scheduled if none is pending.
func (p *Propagator) Requeue(batch Batch) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}
	for _, e := range batch.Events {
		if _, ok := p.touched[e.Field]; ok {
			continue
		}
		p.record(e.Field, e.At)
	}
	for _, id := range batch.Dirty {
		p.markDirty(id)
	}
	if p.timer == nil {
		p.schedule(false)
	}
}

// Commit applies writes computed from the snapshot at revision. If any edit
// arrived since, nothing is written and ErrStale is returned.
func (p *Propagator) Commit(revision uint64, writes []Write) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrClosed
	}
	if revision != p.revision {
		return fmt.Errorf("commit at revision %d, current %d: %w", revision, p.revision, ErrStale)
	}
	for _, w := range writes {
		if _, ok := p.fields[w.Field]; !ok {
			return fmt.Errorf("commit %q: %w", w.Field, ErrUnknownField)
		}
	}

	at := p.now()
	for _, w := range writes {
		p.apply(w.Field, w.Value, at, false)
	}
	return nil
}

// Value returns the current value of a field.
func (p *Propagator) Value(id string) (Value, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	f, ok := p.fields[id]
	if !ok {
		return Value{}, false
	}
	return f.value, true
}

// Snapshot is a consistent copy of every field value at one revision.
type Snapshot struct {
	Revision uint64
	Values   map[string]Value
}

func (s Snapshot) Number(id string) float64 { return s.Values[id].Float() }
func (s Snapshot) Int(id string) int        { return s.Values[id].Int() }
func (s Snapshot) Text(id string) string    { return s.Values[id].String() }

func (p *Propagator) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Snapshot{Revision: p.revision, Values: p.valuesLocked()}
}

func (p *Propagator) valuesLocked() map[string]Value {
	values := make(map[string]Value, len(p.fields))
	for id, f := range p.fields {
		values[id] = f.value
	}
	return values
}

// Revision counts edits received through NotifyChanged and Touch.
func (p *Propagator) Revision() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.revision
}

// Fields lists field ids in registration order.
func (p *Propagator) Fields() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.order...)
}

// Export returns the flat field id -> value mapping.
func (p *Propagator) Export() map[string]Value {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.valuesLocked()
}

// Restore overwrites registered fields from a saved mapping without
// propagating. Unknown ids are returned so the caller can report them.
func (p *Propagator) Restore(values map[string]Value) []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	var unknown []string
	for id, v := range values {
		f, ok := p.fields[id]
		if !ok {
			unknown = append(unknown, id)
			continue
		}
		f.value = v
	}
	return unknown
}

// Close stops the debounce timer, drops any pending batch and cancels the
// recompute context. Further edits fail with ErrClosed.
func (p *Propagator) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}
	p.closed = true
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	p.events = nil
	p.dirty = nil
	p.cancel()
}
