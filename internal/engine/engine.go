package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/devblac/nft-stream/internal/domain"
	"github.com/devblac/nft-stream/internal/metrics"
	"github.com/devblac/nft-stream/internal/source/evm"
	"github.com/devblac/nft-stream/internal/storage"
)

// ErrHalted wraps the integrity error that stopped the engine.
var ErrHalted = errors.New("sync engine halted")

// Reader is the chain read contract.
type Reader interface {
	Height(ctx context.Context) (uint64, error)
	Logs(ctx context.Context, contract common.Address, topics []common.Hash, from, to uint64) ([]evm.RawLog, error)
}

// Translator turns raw logs into domain events.
type Translator interface {
	Topics(contract common.Address) []common.Hash
	Translate(lg types.Log, block evm.BlockMeta) (domain.Event, error)
}

// Publisher receives events after their window has committed.
type Publisher interface {
	Publish(ev domain.Event) (int, error)
}

// Contract is a watched contract and the block to begin at when it has no
// cursor yet ("N" or "latest-N").
type Contract struct {
	Address    common.Address
	StartBlock string
}

// Options tunes the control loop.
type Options struct {
	Confirmations uint64
	Window        uint64
	PollInterval  time.Duration
	Retry         RetryConfig
	// Once stops the loop when no window is left instead of polling.
	Once bool
}

type Phase string

const (
	PhaseIdle    Phase = "idle"
	PhaseCatchUp Phase = "catchup"
	PhaseLive    Phase = "live"
	PhaseHalted  Phase = "halted"
	PhaseStopped Phase = "stopped"
)

// Status is a snapshot of the engine's progress.
type Status struct {
	Phase     Phase
	Head      uint64
	Target    uint64
	Cursors   map[common.Address]uint64
	LastError string
}

// Engine keeps the projections in step with the chain: catch-up first, then
// live polling, one transactional window at a time.
type Engine struct {
	reader     Reader
	translator Translator
	store      *storage.Store
	publisher  Publisher
	contracts  []Contract
	opts       Options
	logger     *slog.Logger
	metrics    *metrics.Metrics

	starts map[common.Address]uint64

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
	err     error
	status  Status
}

// New builds an engine. publisher, logger and m may be nil.
func New(reader Reader, translator Translator, store *storage.Store, publisher Publisher, contracts []Contract, opts Options, logger *slog.Logger, m *metrics.Metrics) (*Engine, error) {
	if len(contracts) == 0 {
		return nil, errors.New("engine needs at least one contract")
	}
	if opts.Window == 0 {
		opts.Window = 1000
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 5 * time.Second
	}
	opts.Retry = opts.Retry.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		reader:     reader,
		translator: translator,
		store:      store,
		publisher:  publisher,
		contracts:  contracts,
		opts:       opts,
		logger:     logger.With("component", "engine"),
		metrics:    m,
		starts:     map[common.Address]uint64{},
		status:     Status{Phase: PhaseIdle, Cursors: map[common.Address]uint64{}},
	}, nil
}

// Start launches the sync loop in the background. Calling Start while the
// loop is running does nothing.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return nil
	}
	loopCtx, cancel := context.WithCancel(ctx)
	e.running = true
	e.cancel = cancel
	e.done = make(chan struct{})
	e.err = nil
	e.status.Phase = PhaseCatchUp
	e.status.LastError = ""

	go e.run(loopCtx, e.done)
	return nil
}

// Stop cancels the loop and waits for the in-flight window to finish.
func (e *Engine) Stop() {
	e.mu.Lock()
	cancel, done := e.cancel, e.done
	e.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Done is closed when the loop exits. It is nil before the first Start.
func (e *Engine) Done() <-chan struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.done
}

// Err returns the error that ended the loop, nil for a clean stop.
func (e *Engine) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.err
}

// Status returns a copy of the current progress.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	st := e.status
	st.Cursors = make(map[common.Address]uint64, len(e.status.Cursors))
	for k, v := range e.status.Cursors {
		st.Cursors[k] = v
	}
	return st
}

func (e *Engine) run(ctx context.Context, done chan struct{}) {
	err := e.loop(ctx)

	e.mu.Lock()
	e.running = false
	e.cancel = nil
	e.err = err
	if err != nil {
		e.status.Phase = PhaseHalted
		e.status.LastError = err.Error()
	} else {
		e.status.Phase = PhaseStopped
	}
	e.mu.Unlock()
	close(done)

	if err != nil {
		e.logger.Error("sync halted", "err", err)
	} else {
		e.logger.Info("sync stopped")
	}
}

func (e *Engine) loop(ctx context.Context) error {
	attempt := 0
	for {
		progressed, err := e.step(ctx)
		switch {
		case err == nil:
			attempt = 0
			if progressed {
				continue
			}
			if e.opts.Once {
				return nil
			}
			e.setPhase(PhaseLive)
			if sleep(ctx, e.opts.PollInterval) != nil {
				return nil
			}
		case ctx.Err() != nil:
			return nil
		case errors.Is(err, domain.ErrIntegrity):
			e.metrics.Errors("integrity")
			return fmt.Errorf("%w: %w", ErrHalted, err)
		default:
			e.metrics.Errors("transient")
			delay := calculateBackoff(attempt, e.opts.Retry)
			attempt++
			e.logger.Warn("window failed, retrying", "err", err, "attempt", attempt, "delay", delay)
			e.mu.Lock()
			e.status.LastError = err.Error()
			e.mu.Unlock()
			if sleep(ctx, delay) != nil {
				return nil
			}
		}
	}
}

// step processes at most one window. It reports whether a window was
// committed.
func (e *Engine) step(ctx context.Context) (bool, error) {
	head, err := e.reader.Height(ctx)
	if err != nil {
		return false, err
	}
	if head < e.opts.Confirmations {
		return false, nil
	}
	target := head - e.opts.Confirmations
	e.metrics.Heights(head, target)
	e.mu.Lock()
	e.status.Head, e.status.Target = head, target
	e.mu.Unlock()

	next := make([]uint64, len(e.contracts))
	from := ^uint64(0)
	for i, c := range e.contracts {
		n, err := e.nextBlock(ctx, c, target)
		if err != nil {
			return false, err
		}
		next[i] = n
		from = min(from, n)
	}
	if from > target {
		return false, nil
	}
	to := min(from+e.opts.Window-1, target)
	if to < from {
		to = target // overflow guard for huge windows
	}

	var events []domain.Event
	var participants []common.Address
	for i, c := range e.contracts {
		if next[i] > to {
			continue
		}
		participants = append(participants, c.Address)
		logs, err := e.reader.Logs(ctx, c.Address, e.translator.Topics(c.Address), max(from, next[i]), to)
		if err != nil {
			return false, fmt.Errorf("logs %s [%d,%d]: %w", c.Address.Hex(), max(from, next[i]), to, err)
		}
		for _, raw := range logs {
			ev, err := e.translator.Translate(raw.Log, raw.Block)
			if err != nil {
				return false, err
			}
			events = append(events, ev)
		}
	}
	domain.Sort(events)

	kinds := map[string]int{}
	// The window commits even if ctx is cancelled meanwhile; Stop waits for it.
	commitCtx := context.WithoutCancel(ctx)
	err = e.store.WithTx(commitCtx, func(tx *storage.Tx) error {
		for _, ev := range events {
			if err := apply(commitCtx, tx, ev); err != nil {
				return err
			}
			kinds[string(ev.Kind())]++
		}
		for _, addr := range participants {
			if err := tx.SetCursor(commitCtx, addr, to); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("commit window [%d,%d]: %w", from, to, err)
	}

	e.metrics.WindowCommitted(kinds)
	e.mu.Lock()
	for _, addr := range participants {
		e.status.Cursors[addr] = to
		e.metrics.Cursor(addr.Hex(), to)
	}
	if to < target {
		e.status.Phase = PhaseCatchUp
	}
	e.mu.Unlock()
	e.logger.Info("window committed", "from", from, "to", to, "target", target, "events", len(events))

	if e.publisher != nil {
		for _, ev := range events {
			if _, err := e.publisher.Publish(ev); err != nil {
				e.logger.Warn("broadcast failed", "kind", ev.Kind(), "block", ev.Header().BlockNumber, "err", err)
			}
		}
	}
	return true, nil
}

// nextBlock is the first block not yet reflected for c.
func (e *Engine) nextBlock(ctx context.Context, c Contract, target uint64) (uint64, error) {
	cur, ok, err := e.store.GetCursor(ctx, c.Address)
	if err != nil {
		return 0, err
	}
	if ok {
		e.mu.Lock()
		e.status.Cursors[c.Address] = cur
		e.mu.Unlock()
		return cur + 1, nil
	}
	if start, ok := e.starts[c.Address]; ok {
		return start, nil
	}
	start, err := resolveStartHeight(c.StartBlock, target)
	if err != nil {
		return 0, fmt.Errorf("contract %s: %w", c.Address.Hex(), err)
	}
	e.starts[c.Address] = start
	e.logger.Info("no cursor, starting from configured block", "contract", c.Address.Hex(), "start", start)
	return start, nil
}

func (e *Engine) setPhase(p Phase) {
	e.mu.Lock()
	e.status.Phase = p
	e.mu.Unlock()
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
