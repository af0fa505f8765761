package main

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Simplici0/montaje/internal/engine"
	"github.com/Simplici0/montaje/internal/quote"
	"github.com/Simplici0/montaje/internal/store"
)

type serverOptions struct {
	catalog       *store.Catalog
	saved         *store.Sessions
	logger        *zap.Logger
	debounce      time.Duration
	decimals      int32
	lookupTimeout time.Duration
	scheduler     engine.Scheduler
}

// server keeps the open order-editing sessions in memory. Each session is
// independent; the map only routes requests to them.
type server struct {
	// ctx outlives the caller's context so shutdown can still flush and save;
	// closeAll cancels it.
	ctx    context.Context
	cancel context.CancelFunc
	serverOptions

	mu       sync.Mutex
	sessions map[string]*quote.Session
}

var errSessionNotOpen = errors.New("session not open")

func newServer(ctx context.Context, opts serverOptions) *server {
	if opts.logger == nil {
		opts.logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	return &server{
		ctx:           ctx,
		cancel:        cancel,
		serverOptions: opts,
		sessions:      make(map[string]*quote.Session),
	}
}

// open starts a session from state, or a blank one when state is nil. If a
// session with the same id is already open, that one is returned.
func (s *server) open(id string, state *quote.State) (*quote.Session, error) {
	sess, err := quote.NewSession(s.ctx, quote.Config{
		ID:            id,
		Prices:        s.catalog,
		Presses:       s.catalog,
		Logger:        s.logger,
		Debounce:      s.debounce,
		Decimals:      s.decimals,
		LookupTimeout: s.lookupTimeout,
		Scheduler:     s.scheduler,
		State:         state,
	})
	if err != nil {
		return nil, fmt.Errorf("open session: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.sessions[sess.ID]; ok {
		sess.Close()
		return existing, nil
	}
	s.sessions[sess.ID] = sess
	s.logger.Info("session opened", zap.String("session", sess.ID), zap.Bool("restored", state != nil))
	return sess, nil
}

func (s *server) lookup(id string) (*quote.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", id, errSessionNotOpen)
	}
	return sess, nil
}

// get returns an open session, reopening it from saved state if needed.
func (s *server) get(ctx context.Context, id string) (*quote.Session, error) {
	if sess, err := s.lookup(id); err == nil {
		return sess, nil
	}
	state, err := s.saved.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.open(id, &state)
}

func (s *server) remove(id string) (quote.State, bool) {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()
	if !ok {
		return quote.State{}, false
	}
	return sess.Close(), true
}

// closeAll flushes and saves every open session, then closes it. Lookups
// made by the final flush still run after the caller's context is cancelled.
func (s *server) closeAll(ctx context.Context) {
	defer s.cancel()
	s.mu.Lock()
	open := s.sessions
	s.sessions = make(map[string]*quote.Session)
	s.mu.Unlock()

	for id, sess := range open {
		sess.Flush()
		if err := s.saved.Save(ctx, id, sess.Close()); err != nil {
			s.logger.Warn("failed to save session on shutdown", zap.String("session", id), zap.Error(err))
		}
	}
}
