package source

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jonesrussell/reply-agent/internal/domain"
	"github.com/jonesrussell/reply-agent/internal/logger"
)

// Enqueuer admits candidates into the queue
type Enqueuer interface {
	Enqueue(ctx context.Context, c *domain.Candidate) error
}

// Blocklist filters out recently handled targets before they reach the queue
type Blocklist interface {
	Contains(ctx context.Context, targetID string) bool
}

// Poller periodically fetches all feeds and enqueues the surviving
// candidates. Duplicate rejections from the queue are expected and counted,
// not errored.
type Poller struct {
	feeds     []Feed
	queue     Enqueuer
	blocklist Blocklist
	interval  time.Duration
	logger    logger.Logger

	stopChan chan struct{}
	wg       sync.WaitGroup
	started  bool
	mu       sync.Mutex
}

// NewPoller creates a feed poller
func NewPoller(feeds []Feed, queue Enqueuer, blocklist Blocklist, interval time.Duration, log logger.Logger) *Poller {
	return &Poller{
		feeds:     feeds,
		queue:     queue,
		blocklist: blocklist,
		interval:  interval,
		logger:    log,
		stopChan:  make(chan struct{}),
	}
}

// Start begins the polling loop
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.mu.Unlock()

	p.wg.Add(1)
	go p.run(ctx)

	p.logger.Info("feed poller started",
		logger.Duration("interval", p.interval),
		logger.Int("feeds", len(p.feeds)),
	)
}

// Stop gracefully stops the poller
func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()

	close(p.stopChan)
	p.wg.Wait()
	p.logger.Info("feed poller stopped")
}

func (p *Poller) run(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	// Poll immediately on start
	p.PollOnce(ctx)

	for {
		select {
		case <-ticker.C:
			p.PollOnce(ctx)
		case <-p.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

// PollOnce fetches every feed once and enqueues the results. A failing feed
// is logged and skipped so the others still contribute.
func (p *Poller) PollOnce(ctx context.Context) {
	for _, feed := range p.feeds {
		candidates, err := feed.Fetch(ctx)
		if err != nil {
			p.logger.Error("feed fetch failed",
				logger.String("feed", feed.Name()),
				logger.Error(err),
			)
			continue
		}

		enqueued, blocked, duplicates := 0, 0, 0
		for _, c := range candidates {
			if p.blocklist.Contains(ctx, c.TargetID) {
				blocked++
				continue
			}
			switch err := p.queue.Enqueue(ctx, c); {
			case err == nil:
				enqueued++
			case errors.Is(err, domain.ErrAlreadyExists):
				duplicates++
			default:
				p.logger.Error("enqueue failed",
					logger.String("feed", feed.Name()),
					logger.String("target_id", c.TargetID),
					logger.Error(err),
				)
			}
		}

		p.logger.Debug("feed polled",
			logger.String("feed", feed.Name()),
			logger.Int("fetched", len(candidates)),
			logger.Int("enqueued", enqueued),
			logger.Int("blocked", blocked),
			logger.Int("duplicates", duplicates),
		)
	}
}
