package quote

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Simplici0/montaje/internal/engine"
	"github.com/Simplici0/montaje/internal/layout"
	"github.com/Simplici0/montaje/internal/metrics"
	"github.com/Simplici0/montaje/internal/pricing"
)

const (
	defaultDecimals      = 2
	defaultLookupTimeout = 2 * time.Second
)

// PaperKey identifies a paper for the price source.
type PaperKey struct {
	Supplier string  `json:"supplier"`
	Material string  `json:"material"`
	Width    float64 `json:"width"`
	Height   float64 `json:"height"`
	Weight   float64 `json:"weight"`
}

// PaperPrice is a per-sheet paper price and where it came from.
type PaperPrice struct {
	UnitPrice decimal.Decimal `json:"unit_price"`
	Origin    string          `json:"origin"`
}

// PriceSource returns externally owned paper prices. Calls may block.
type PriceSource interface {
	PaperPrice(ctx context.Context, key PaperKey) (PaperPrice, error)
}

// PressCatalog returns the maximum sheet format of a press.
type PressCatalog interface {
	Press(ctx context.Context, id string) (layout.PressFormat, error)
}

// State is the persisted shape of a session: a flat field mapping plus the
// tier list.
type State struct {
	Fields map[string]engine.Value `json:"fields"`
	Tiers  []pricing.Tier          `json:"tiers"`
}

// Config configures a Session. Prices and Presses are required.
type Config struct {
	ID            string
	Prices        PriceSource
	Presses       PressCatalog
	Logger        *zap.Logger
	Debounce      time.Duration
	Decimals      int32
	LookupTimeout time.Duration
	Scheduler     engine.Scheduler
	State         *State
}

// Session is one order being edited. It owns its fields, dependency table and
// tier list; nothing in it is shared with other sessions.
type Session struct {
	ID string

	engine  *engine.Propagator
	prices  PriceSource
	presses PressCatalog
	logger  *zap.Logger

	decimals      int32
	lookupTimeout time.Duration

	ctx       context.Context
	closeOnce sync.Once

	mu         sync.Mutex
	tiers      []pricing.Tier
	issues     []pricing.ValidationIssue
	pressCache map[string]layout.PressFormat
}

// NewSession registers the field catalogue and dependency table, restores any
// saved state and queues an initial recompute.
func NewSession(ctx context.Context, cfg Config) (*Session, error) {
	if cfg.Prices == nil || cfg.Presses == nil {
		return nil, fmt.Errorf("new session: price source and press catalog are required")
	}
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Decimals <= 0 {
		cfg.Decimals = defaultDecimals
	}
	if cfg.LookupTimeout <= 0 {
		cfg.LookupTimeout = defaultLookupTimeout
	}

	s := &Session{
		ID:            cfg.ID,
		prices:        cfg.Prices,
		presses:       cfg.Presses,
		logger:        cfg.Logger.With(zap.String("session", cfg.ID)),
		decimals:      cfg.Decimals,
		lookupTimeout: cfg.LookupTimeout,
		ctx:           ctx,
		pressCache:    make(map[string]layout.PressFormat),
	}

	opts := []engine.Option{
		engine.WithLogger(s.logger),
		engine.WithContext(ctx),
		engine.WithRecompute(s.recompute),
	}
	if cfg.Debounce > 0 {
		opts = append(opts, engine.WithDebounce(cfg.Debounce))
	}
	if cfg.Scheduler != nil {
		opts = append(opts, engine.WithScheduler(cfg.Scheduler))
	}
	s.engine = engine.New(opts...)

	for _, f := range catalogue {
		if err := s.engine.RegisterField(f.id, f.initial); err != nil {
			return nil, fmt.Errorf("register field: %w", err)
		}
	}
	for _, d := range s.dependencies() {
		if err := s.engine.RegisterDependency(d.source, d.target, d.rule); err != nil {
			return nil, fmt.Errorf("register dependency: %w", err)
		}
	}

	if cfg.State != nil {
		if unknown := s.engine.Restore(cfg.State.Fields); len(unknown) > 0 {
			s.logger.Warn("ignoring unknown saved fields", zap.Strings("fields", unknown))
		}
		s.setTiers(cfg.State.Tiers)
	}
	if err := s.engine.Touch(true, InputFields()...); err != nil {
		return nil, fmt.Errorf("queue initial recompute: %w", err)
	}

	metrics.SessionsActive.Inc()
	return s, nil
}

// Set records an operator edit.
func (s *Session) Set(field string, value engine.Value, immediate bool) error {
	// Fetch the press before the engine takes its lock so the lookup rules
	// only read the cache. A failure here is reported by the rule.
	if field == FieldPressID && value.String() != "" {
		_, _ = s.press(value.String())
	}
	if err := s.engine.NotifyChanged(field, value, immediate); err != nil {
		return fmt.Errorf("set %s: %w", field, err)
	}
	return nil
}

// Value returns the current value of a field.
func (s *Session) Value(field string) (engine.Value, bool) {
	return s.engine.Value(field)
}

// Fields returns every field value.
func (s *Session) Fields() map[string]engine.Value {
	return s.engine.Export()
}

// Flush runs any pending recompute now.
func (s *Session) Flush() engine.FlushReport {
	return s.engine.Flush()
}

// SetTiers replaces the tier list, validates it and queues a re-price.
func (s *Session) SetTiers(tiers []pricing.Tier, immediate bool) ([]pricing.ValidationIssue, error) {
	issues := s.setTiers(tiers)
	if err := s.engine.Touch(immediate, tierInputs...); err != nil {
		return issues, fmt.Errorf("queue re-price: %w", err)
	}
	return issues, nil
}

func (s *Session) setTiers(tiers []pricing.Tier) []pricing.ValidationIssue {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tiers = append([]pricing.Tier(nil), tiers...)
	s.issues = pricing.Validate(s.tiers)
	return s.issues
}

// Tiers returns a copy of the tier list.
func (s *Session) Tiers() []pricing.Tier {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]pricing.Tier(nil), s.tiers...)
}

// Issues returns the validation issues of the current tier list.
func (s *Session) Issues() []pricing.ValidationIssue {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]pricing.ValidationIssue(nil), s.issues...)
}

// State returns the persistable shape of the session.
func (s *Session) State() State {
	return State{Fields: s.engine.Export(), Tiers: s.Tiers()}
}

// Close ends the session and returns its final state. Pending and in-flight
// recomputes are dropped. Calling Close again only returns the state.
func (s *Session) Close() State {
	state := s.State()
	s.closeOnce.Do(func() {
		s.engine.Close()
		metrics.SessionsActive.Dec()
	})
	return state
}

func (s *Session) pressDimension(width bool) engine.UpdateFunc {
	return func(v engine.Value) (engine.Value, error) {
		id := v.String()
		if id == "" {
			return engine.Number(0), nil
		}
		press, err := s.press(id)
		if err != nil {
			return engine.Value{}, err
		}
		if width {
			return engine.Number(press.MaxWidth), nil
		}
		return engine.Number(press.MaxHeight), nil
	}
}

func (s *Session) press(id string) (layout.PressFormat, error) {
	s.mu.Lock()
	cached, ok := s.pressCache[id]
	s.mu.Unlock()
	if ok {
		return cached, nil
	}

	ctx, cancel := context.WithTimeout(s.ctx, s.lookupTimeout)
	defer cancel()
	press, err := s.presses.Press(ctx, id)
	if err != nil {
		return layout.PressFormat{}, fmt.Errorf("look up press %q: %w", id, err)
	}

	s.mu.Lock()
	s.pressCache[id] = press
	s.mu.Unlock()
	return press, nil
}
