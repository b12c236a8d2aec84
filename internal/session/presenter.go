package session

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cybershield-x/shield/internal/metrics"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Challenge is one outstanding request shown to the device UI.
type Challenge struct {
	ID          uuid.UUID `json:"id"`
	PackageName string    `json:"package_name"`
	RequestedAt time.Time `json:"requested_at"`
}

type queued struct {
	challenge Challenge
	result    chan Outcome
}

// QueuePresenter is a Presenter that publishes challenges to subscribers
// (the device UI) and waits for Resolve. Unanswered challenges time out
// when the Manager's challenge context expires.
type QueuePresenter struct {
	mu          sync.Mutex
	pending     map[string]*queued
	subscribers map[chan Challenge]struct{}
	logger      *zap.Logger
}

func NewQueuePresenter(logger *zap.Logger) *QueuePresenter {
	return &QueuePresenter{
		pending:     make(map[string]*queued),
		subscribers: make(map[chan Challenge]struct{}),
		logger:      logger,
	}
}

// Request publishes a challenge for pkg and blocks for its answer.
func (p *QueuePresenter) Request(ctx context.Context, pkg string) Outcome {
	q := &queued{
		challenge: Challenge{ID: uuid.New(), PackageName: pkg, RequestedAt: time.Now()},
		result:    make(chan Outcome, 1),
	}

	p.mu.Lock()
	if old, ok := p.pending[pkg]; ok {
		// Superseded by the new challenge.
		old.result <- OutcomeTimedOut
	}
	p.pending[pkg] = q
	for ch := range p.subscribers {
		select {
		case ch <- q.challenge:
		default:
			p.logger.Warn("challenge subscriber full, dropping", zap.String("package", pkg))
		}
	}
	p.mu.Unlock()

	select {
	case o := <-q.result:
		return o
	case <-ctx.Done():
		p.mu.Lock()
		if p.pending[pkg] == q {
			delete(p.pending, pkg)
		}
		p.mu.Unlock()
		return OutcomeTimedOut
	}
}

// Resolve answers the pending challenge for pkg.
func (p *QueuePresenter) Resolve(pkg string, approved bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	q, ok := p.pending[pkg]
	if !ok {
		return ErrNoPendingChallenge
	}
	delete(p.pending, pkg)

	outcome := OutcomeDenied
	if approved {
		outcome = OutcomeApproved
	}
	q.result <- outcome
	return nil
}

// Pending lists outstanding challenges, oldest first.
func (p *QueuePresenter) Pending() []Challenge {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Challenge, 0, len(p.pending))
	for _, q := range p.pending {
		out = append(out, q.challenge)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RequestedAt.Before(out[j].RequestedAt) })
	return out
}

// Subscribe returns a channel of new challenges and a function that
// unsubscribes and closes it.
func (p *QueuePresenter) Subscribe(buffer int) (<-chan Challenge, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Challenge, buffer)

	p.mu.Lock()
	p.subscribers[ch] = struct{}{}
	n := len(p.subscribers)
	p.mu.Unlock()
	metrics.ChallengeSubscribers.Set(float64(n))

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			p.mu.Lock()
			delete(p.subscribers, ch)
			n := len(p.subscribers)
			p.mu.Unlock()
			close(ch)
			metrics.ChallengeSubscribers.Set(float64(n))
		})
	}
}
