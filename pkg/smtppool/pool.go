// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package smtppool

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/telekom/mail-sms-gateway/pkg/events"
	"github.com/telekom/mail-sms-gateway/pkg/metrics"
	"github.com/telekom/mail-sms-gateway/pkg/store"
)

const (
	// DefaultKeepAliveInterval is the NOOP period for idle sessions.
	DefaultKeepAliveInterval = 5 * time.Minute
	// DefaultKeepAliveTimeout bounds a single keep-alive tick.
	DefaultKeepAliveTimeout = 30 * time.Second
	// DefaultRetireTimeout bounds waiting for in-flight work before a retired session is closed.
	DefaultRetireTimeout = 30 * time.Second
)

var tracer = otel.Tracer("github.com/telekom/mail-sms-gateway/pkg/smtppool")

// Option configures a Pool.
type Option func(*Pool)

// WithKeepAliveInterval sets the NOOP period. Non-positive values keep the default.
func WithKeepAliveInterval(d time.Duration) Option {
	return func(p *Pool) {
		if d > 0 {
			p.keepAliveInterval = d
		}
	}
}

// WithKeepAliveTimeout bounds how long a tick waits for a busy session.
func WithKeepAliveTimeout(d time.Duration) Option {
	return func(p *Pool) {
		if d > 0 {
			p.keepAliveTimeout = d
		}
	}
}

// WithRetireTimeout bounds waiting for in-flight sends on a replaced session.
func WithRetireTimeout(d time.Duration) Option {
	return func(p *Pool) {
		if d > 0 {
			p.retireTimeout = d
		}
	}
}

// WithLogger sets the pool logger.
func WithLogger(log *zap.SugaredLogger) Option {
	return func(p *Pool) {
		if log != nil {
			p.log = log.Named("smtp-pool")
		}
	}
}

// WithEvents publishes connect and replace events.
func WithEvents(pub *events.Publisher) Option {
	return func(p *Pool) { p.events = pub }
}

// InitReport summarises a bulk warm-up.
type InitReport struct {
	Connected []string `json:"connected"`
	Existing  []string `json:"existing"`
	Failed    []string `json:"failed"`
}

// Pool owns at most one Entry per sender address. It is safe for concurrent use.
type Pool struct {
	dialer Dialer
	creds  store.CredentialStore
	log    *zap.SugaredLogger
	events *events.Publisher

	keepAliveInterval time.Duration
	keepAliveTimeout  time.Duration
	retireTimeout     time.Duration

	mu      sync.RWMutex
	entries map[string]*Entry
	closed  bool

	flight singleflight.Group

	// ctx parents every keep-alive loop; cancel stops them all.
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New returns an empty pool. Call Close to release every session.
func New(dialer Dialer, creds store.CredentialStore, opts ...Option) *Pool {
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		dialer:            dialer,
		creds:             creds,
		log:               zap.NewNop().Sugar(),
		keepAliveInterval: DefaultKeepAliveInterval,
		keepAliveTimeout:  DefaultKeepAliveTimeout,
		retireTimeout:     DefaultRetireTimeout,
		entries:           make(map[string]*Entry),
		ctx:               ctx,
		cancel:            cancel,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Get returns the entry for address without connecting.
func (p *Pool) Get(address string) (*Entry, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	e, ok := p.entries[address]
	return e, ok
}

// Len returns the number of pooled sessions.
func (p *Pool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.entries)
}

// Addresses returns the pooled sender addresses in sorted order.
func (p *Pool) Addresses() []string {
	p.mu.RLock()
	out := make([]string, 0, len(p.entries))
	for addr := range p.entries {
		out = append(out, addr)
	}
	p.mu.RUnlock()
	slices.Sort(out)
	return out
}

// Snapshot describes every pooled session, sorted by address.
func (p *Pool) Snapshot() []EntryInfo {
	p.mu.RLock()
	out := make([]EntryInfo, 0, len(p.entries))
	for _, e := range p.entries {
		out = append(out, e.Info())
	}
	p.mu.RUnlock()
	slices.SortFunc(out, func(a, b EntryInfo) int { return cmp.Compare(a.Address, b.Address) })
	return out
}

// Connect returns the entry for sender, opening a session if none exists.
// Concurrent calls for the same address share one dial. A caller whose ctx
// ends stops waiting, but the shared dial carries on for the others.
func (p *Pool) Connect(ctx context.Context, sender store.Sender) (*Entry, error) {
	if e, ok := p.Get(sender.Address); ok {
		return e, nil
	}
	return p.shared(ctx, "connect/"+sender.Address, func(ctx context.Context) (*Entry, error) {
		if e, ok := p.Get(sender.Address); ok {
			return e, nil
		}
		fresh, err := p.open(ctx, sender)
		if err != nil {
			return nil, err
		}

		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			_ = fresh.shutdown(p.retireTimeout)
			return nil, ErrPoolClosed
		}
		if existing, ok := p.entries[sender.Address]; ok {
			// a concurrent Replace installed a session first
			p.retireLocked(fresh)
			p.mu.Unlock()
			return existing, nil
		}
		p.installLocked(fresh)
		p.mu.Unlock()

		p.events.Publish(ctx, events.New(events.SessionConnected, sender.Address))
		return fresh, nil
	})
}

// shared runs fn once per key for all concurrent callers. fn gets ctx's
// values but is cancelled only when the pool closes; each caller waits on
// its own ctx.
func (p *Pool) shared(ctx context.Context, key string, fn func(context.Context) (*Entry, error)) (*Entry, error) {
	ch := p.flight.DoChan(key, func() (any, error) {
		flightCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		defer cancel()
		stop := context.AfterFunc(p.ctx, cancel)
		defer stop()
		return fn(flightCtx)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Entry), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Replace re-reads the sender's credentials, opens a new session and swaps
// it into the pool. The previous session is retired: its keep-alive loop is
// cancelled and it is closed once in-flight work drains. If the new session
// cannot be opened the previous entry stays in place.
func (p *Pool) Replace(ctx context.Context, address string) (*Entry, error) {
	return p.shared(ctx, "replace/"+address, func(ctx context.Context) (*Entry, error) {
		ctx, span := tracer.Start(ctx, "smtppool.Replace")
		span.SetAttributes(attribute.String("sender", address))
		defer span.End()

		sender, err := p.creds.GetSender(ctx, address)
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
			return nil, fmt.Errorf("reloading credentials: %w", err)
		}
		fresh, err := p.open(ctx, sender)
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}

		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			_ = fresh.shutdown(p.retireTimeout)
			return nil, ErrPoolClosed
		}
		old := p.entries[address]
		p.installLocked(fresh)
		if old != nil {
			p.retireLocked(old)
		}
		p.mu.Unlock()

		metrics.PoolReplacements.WithLabelValues(sender.Host).Inc()
		p.log.Infow("Replaced SMTP session", "sender", address, "host", sender.Host)
		p.events.Publish(ctx, events.New(events.SessionReplaced, address))
		return fresh, nil
	})
}

// InitializeAll connects every stored sender that is not pooled yet.
// Individual failures are logged and reported, never returned; the error is
// non-nil only when the credential store cannot be listed.
func (p *Pool) InitializeAll(ctx context.Context) (InitReport, error) {
	report := InitReport{Connected: []string{}, Existing: []string{}, Failed: []string{}}
	senders, err := p.creds.ListSenders(ctx)
	if err != nil {
		return report, fmt.Errorf("listing senders: %w", err)
	}
	for _, s := range senders {
		if _, ok := p.Get(s.Address); ok {
			report.Existing = append(report.Existing, s.Address)
			continue
		}
		if _, err := p.Connect(ctx, s); err != nil {
			p.log.Warnw("Failed to connect sender", "sender", s.Address, "host", s.Host, "error", err)
			report.Failed = append(report.Failed, s.Address)
			if errors.Is(err, ErrPoolClosed) {
				return report, err
			}
			continue
		}
		report.Connected = append(report.Connected, s.Address)
	}
	p.log.Infow("Initialized SMTP sessions",
		"connected", len(report.Connected),
		"existing", len(report.Existing),
		"failed", len(report.Failed))
	return report, nil
}

// Close retires every session and waits for keep-alive loops to stop or ctx
// to expire. The pool cannot be used afterwards.
func (p *Pool) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	entries := make([]*Entry, 0, len(p.entries))
	for _, e := range p.entries {
		entries = append(entries, e)
	}
	clear(p.entries)
	metrics.PoolEntries.Set(0)
	p.mu.Unlock()

	p.cancel()

	var (
		errMu sync.Mutex
		errs  []error
		wg    sync.WaitGroup
	)
	for _, e := range entries {
		wg.Add(1)
		go func(e *Entry) {
			defer wg.Done()
			if err := e.shutdown(p.retireTimeout); err != nil {
				errMu.Lock()
				errs = append(errs, fmt.Errorf("closing %s: %w", e.address, err))
				errMu.Unlock()
			}
		}(e)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	p.log.Infow("Connection pool closed", "sessions", len(entries))
	return errors.Join(errs...)
}

func (p *Pool) open(ctx context.Context, sender store.Sender) (*Entry, error) {
	ctx, span := tracer.Start(ctx, "smtppool.Connect")
	span.SetAttributes(attribute.String("sender", sender.Address), attribute.String("host", sender.Host))
	defer span.End()

	session, err := p.dialer.Dial(ctx, sender)
	metrics.PoolConnects.WithLabelValues(sender.Host, metrics.Result(err)).Inc()
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		p.events.Publish(ctx, events.New(events.SessionConnectFailed, sender.Address).WithError(err))
		return nil, err
	}
	p.log.Debugw("Opened SMTP session", "sender", sender.Address, "host", sender.Host, "port", sender.Port)
	return newEntry(sender.Address, sender.Host, session, time.Now().UTC()), nil
}

// installLocked stores e and starts its keep-alive loop. p.mu must be held.
func (p *Pool) installLocked(e *Entry) {
	ctx, cancel := context.WithCancel(p.ctx)
	e.stopKeepAlive = cancel
	p.entries[e.address] = e
	metrics.PoolEntries.Set(float64(len(p.entries)))
	p.wg.Add(1)
	go p.keepAlive(ctx, e)
}

// retireLocked closes e in the background. p.mu must be held and the pool open.
func (p *Pool) retireLocked(e *Entry) {
	e.stopKeepAlive()
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		if err := e.shutdown(p.retireTimeout); err != nil {
			p.log.Debugw("Error closing retired SMTP session", "sender", e.address, "error", err)
		}
	}()
}

func (p *Pool) keepAlive(ctx context.Context, e *Entry) {
	defer p.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			p.log.Errorw("Keep-alive loop panicked", "sender", e.address, "panic", r)
		}
	}()

	ticker := time.NewTicker(p.keepAliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.keepAliveTick(ctx, e)
		}
	}
}

func (p *Pool) keepAliveTick(ctx context.Context, e *Entry) {
	tickCtx, cancel := context.WithTimeout(ctx, p.keepAliveTimeout)
	defer cancel()
	err := e.Do(tickCtx, func(s Session) error { return s.Noop() })
	if ctx.Err() != nil || errors.Is(err, ErrEntryClosed) {
		return
	}
	if errors.Is(err, context.DeadlineExceeded) {
		// session busy with a send; that traffic keeps it alive
		p.log.Debugw("Skipped keep-alive for busy session", "sender", e.address)
		return
	}
	e.recordKeepAlive(time.Now().UTC(), err)
	metrics.KeepAlives.WithLabelValues(e.host, metrics.Result(err)).Inc()
	if err != nil {
		p.log.Warnw("Keep-alive failed", "sender", e.address, "error", err)
	}
}
