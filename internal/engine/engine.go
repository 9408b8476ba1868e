// Package engine runs every issue operation: creation, invitations, criteria
// weighting, evaluation, consensus rounds, scenarios and closure. Each public
// method validates, reads, calls the model service when needed, and commits
// its writes in one transaction.
package engine

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/decisionhub/backend/internal/metrics"
	"github.com/decisionhub/backend/internal/ordering"
	"github.com/decisionhub/backend/internal/solver"
	"github.com/decisionhub/backend/internal/storage/sqlite"
	"github.com/decisionhub/backend/pkg/logger"
)

// Solver is the remote model service.
type Solver interface {
	Run(ctx context.Context, endpoint string, req solver.Request) (json.RawMessage, error)
	BWM(ctx context.Context, experts map[string]solver.BWMInput) ([]float64, error)
}

// Locker serializes state-changing operations per issue. ok is false when the
// lock is held elsewhere.
type Locker interface {
	Acquire(ctx context.Context, issueID string) (release func(), ok bool, err error)
}

// Publisher fans out live events to connected clients.
type Publisher interface {
	Publish(issueID, kind string, data interface{})
}

// Mailer delivers outbound mail. Failures are logged, never surfaced.
type Mailer interface {
	Send(ctx context.Context, to, subject, body string) error
}

type Config struct {
	DefaultThreshold  float64
	DefaultDomainName string
	CollationLocale   string
	MailTimeout       time.Duration
}

type Engine struct {
	db        *sqlite.Client
	solver    Solver
	locker    Locker
	publisher Publisher
	mailer    Mailer
	orderer   *ordering.Orderer
	cfg       Config
	now       func() time.Time
	mailWG    sync.WaitGroup
}

type Option func(*Engine)

func WithLocker(l Locker) Option {
	return func(e *Engine) { e.locker = l }
}

func WithPublisher(p Publisher) Option {
	return func(e *Engine) { e.publisher = p }
}

func WithMailer(m Mailer) Option {
	return func(e *Engine) { e.mailer = m }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func NewEngine(db *sqlite.Client, s Solver, cfg Config, opts ...Option) (*Engine, error) {
	orderer, err := ordering.NewOrderer(cfg.CollationLocale)
	if err != nil {
		return nil, err
	}
	if cfg.DefaultThreshold <= 0 || cfg.DefaultThreshold > 1 {
		cfg.DefaultThreshold = 0.8
	}
	if cfg.MailTimeout <= 0 {
		cfg.MailTimeout = 30 * time.Second
	}

	e := &Engine{
		db:      db,
		solver:  s,
		locker:  NewMemoryLocker(),
		orderer: orderer,
		cfg:     cfg,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// lock takes the issue lock or fails with a conflict.
func (e *Engine) lock(ctx context.Context, issueID, operation string) (func(), error) {
	release, ok, err := e.locker.Acquire(ctx, issueID)
	if err != nil {
		return nil, err
	}
	if !ok {
		metrics.LockContention.WithLabelValues(operation).Inc()
		return nil, conflict("issue", "another operation on this issue is in progress")
	}
	return release, nil
}

func (e *Engine) publish(issueID, kind string, data interface{}) {
	if e.publisher == nil {
		return
	}
	e.publisher.Publish(issueID, kind, data)
}

// mail sends in the background after the caller has committed.
func (e *Engine) mail(to []string, subject, body string) {
	if e.mailer == nil || len(to) == 0 {
		return
	}
	e.mailWG.Add(1)
	go func() {
		defer e.mailWG.Done()
		ctx, cancel := context.WithTimeout(context.Background(), e.cfg.MailTimeout)
		defer cancel()
		for _, addr := range to {
			if err := e.mailer.Send(ctx, addr, subject, body); err != nil {
				metrics.NotificationFailures.WithLabelValues("mail").Inc()
				logger.Warn("Failed to send mail", zap.String("to", addr), zap.Error(err))
			}
		}
	}()
}

// Wait blocks until queued mail has been handed to the mailer.
func (e *Engine) Wait() {
	e.mailWG.Wait()
}

// MemoryLocker is the single-process Locker.
type MemoryLocker struct {
	mu   sync.Mutex
	held map[string]bool
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{held: make(map[string]bool)}
}

func (l *MemoryLocker) Acquire(_ context.Context, issueID string) (func(), bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[issueID] {
		return nil, false, nil
	}
	l.held[issueID] = true

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, issueID)
			l.mu.Unlock()
		})
	}, true, nil
}
