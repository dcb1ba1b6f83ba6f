package broadcast

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/krobus00/market-stream/internal/entity"
	"github.com/krobus00/market-stream/internal/pubsub"
	"github.com/sirupsen/logrus"
)

// publisher replays one symbol's feed into its topic, one record per tick,
// wrapping back to the first record at the end of the feed.
type publisher struct {
	symbol  string
	records []entity.MarketRecord
	topic   *pubsub.Topic[entity.MarketTick]
	clock   clockwork.Clock

	mu      sync.Mutex
	cursor  int
	emitted uint64
	paused  bool
}

func newPublisher(feed entity.SymbolFeed, capacity int, clock clockwork.Clock) *publisher {
	return &publisher{
		symbol:  feed.Symbol,
		records: feed.Records,
		topic:   pubsub.NewTopic[entity.MarketTick](feed.Symbol, capacity),
		clock:   clock,
	}
}

func (p *publisher) run(ctx context.Context, interval time.Duration) {
	logger := logrus.WithFields(logrus.Fields{
		"symbol":  p.symbol,
		"records": len(p.records),
	})
	logger.Info("starting broadcast for symbol")

	if len(p.records) == 0 {
		<-ctx.Done()
		return
	}

	ticker := p.clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.WithField("emitted", p.snapshot().Emitted).Info("stopping broadcast for symbol")
			return
		case <-ticker.Chan():
			if ctx.Err() != nil {
				continue
			}
			p.emit()
		}
	}
}

func (p *publisher) emit() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.paused {
		return
	}

	p.emitted++
	tick := entity.MarketTick{
		Symbol:    p.symbol,
		Index:     p.cursor,
		Sequence:  p.emitted,
		Record:    p.records[p.cursor],
		Timestamp: p.clock.Now(),
	}
	p.cursor = (p.cursor + 1) % len(p.records)

	receivers := p.topic.Publish(tick)
	if receivers > 0 {
		logrus.WithFields(logrus.Fields{
			"symbol":      p.symbol,
			"index":       tick.Index,
			"records":     len(p.records),
			"subscribers": receivers,
		}).Debug("broadcasted tick")
	}
}

// setPaused holds the emit lock, so once it returns no tick is in flight.
func (p *publisher) setPaused(paused bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.paused = paused
}

func (p *publisher) snapshot() entity.SymbolStatus {
	p.mu.Lock()
	defer p.mu.Unlock()

	return entity.SymbolStatus{
		Symbol:      p.symbol,
		Records:     len(p.records),
		Cursor:      p.cursor,
		Emitted:     p.emitted,
		Subscribers: p.topic.SubscriberCount(),
	}
}
