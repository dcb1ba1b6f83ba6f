package broadcast

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/krobus00/market-stream/internal/entity"
	"github.com/krobus00/market-stream/internal/pubsub"
	"github.com/sirupsen/logrus"
)

const DefaultEmitInterval = time.Second

type ControllerConfig struct {
	EmitInterval    time.Duration
	ChannelCapacity int
	Clock           clockwork.Clock
}

// Controller owns the broadcast state machine and the per-symbol publishers.
// Every transition and every status read happens under mu.
type Controller struct {
	loader entity.FeedLoader
	cfg    ControllerConfig

	mu         sync.Mutex
	state      entity.BroadcastState
	publishers map[string]*publisher
	symbols    []string
	cancel     context.CancelFunc
	wg         sync.WaitGroup
}

func NewController(loader entity.FeedLoader, cfg ControllerConfig) *Controller {
	if cfg.EmitInterval <= 0 {
		cfg.EmitInterval = DefaultEmitInterval
	}
	if cfg.ChannelCapacity <= 0 {
		cfg.ChannelCapacity = pubsub.DefaultCapacity
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}

	return &Controller{
		loader:     loader,
		cfg:        cfg,
		state:      entity.BroadcastStopped,
		publishers: make(map[string]*publisher),
	}
}

// Result is the outcome of one transition, read under the same lock that
// applied it.
type Result struct {
	Message string
	State   entity.BroadcastState
}

// Execute applies op to the current state. A rejected transition leaves the
// state unchanged. A failed Restart has already torn down the running
// publishers and leaves the controller stopped.
func (c *Controller) Execute(ctx context.Context, op entity.BroadcastOperation) (Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	message, err := c.execute(ctx, op)
	return Result{Message: message, State: c.state}, err
}

func (c *Controller) execute(ctx context.Context, op entity.BroadcastOperation) (string, error) {
	next, err := nextState(c.state, op)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"state":     c.state,
			"operation": op,
		}).Warn(err.Error())
		return "", err
	}

	switch op {
	case entity.BroadcastStart:
		return c.start(ctx)
	case entity.BroadcastPause:
		c.setPaused(true)
		c.state = next
		logrus.Info("broadcasting paused")
		return "Broadcasting paused successfully", nil
	case entity.BroadcastResume:
		c.setPaused(false)
		c.state = next
		logrus.Info("broadcasting resumed")
		return "Broadcasting resumed successfully", nil
	case entity.BroadcastStop:
		c.teardown()
		c.state = next
		logrus.Info("broadcasting stopped")
		return "Broadcasting stopped successfully", nil
	case entity.BroadcastRestart:
		c.teardown()
		c.state = entity.BroadcastStopped
		logrus.Info("restarting broadcast")
		return c.start(ctx)
	default:
		return "", &TransitionError{State: c.state, Operation: op}
	}
}

func (c *Controller) Start(ctx context.Context) (string, error) {
	return c.run(ctx, entity.BroadcastStart)
}

func (c *Controller) Pause(ctx context.Context) (string, error) {
	return c.run(ctx, entity.BroadcastPause)
}

func (c *Controller) Resume(ctx context.Context) (string, error) {
	return c.run(ctx, entity.BroadcastResume)
}

func (c *Controller) Stop(ctx context.Context) (string, error) {
	return c.run(ctx, entity.BroadcastStop)
}

func (c *Controller) Restart(ctx context.Context) (string, error) {
	return c.run(ctx, entity.BroadcastRestart)
}

func (c *Controller) run(ctx context.Context, op entity.BroadcastOperation) (string, error) {
	result, err := c.Execute(ctx, op)
	return result.Message, err
}

func (c *Controller) State() entity.BroadcastState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) Status() entity.BroadcastStatus {
	c.mu.Lock()
	defer c.mu.Unlock()

	status := entity.BroadcastStatus{
		State:       c.state,
		SymbolCount: len(c.symbols),
		Symbols:     make([]entity.SymbolStatus, 0, len(c.symbols)),
	}
	for _, symbol := range c.symbols {
		snapshot := c.publishers[symbol].snapshot()
		status.TotalRecords += snapshot.Records
		status.Symbols = append(status.Symbols, snapshot)
	}

	return status
}

// Subscribe binds a new consumer to the symbol's topic. It reports false when
// the symbol has no active publisher.
func (c *Controller) Subscribe(symbol string) (*pubsub.Subscription[entity.MarketTick], bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.publishers[symbol]
	if !ok {
		return nil, false
	}

	sub, err := p.topic.Subscribe()
	if err != nil {
		return nil, false
	}
	return sub, true
}

func (c *Controller) Symbols() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	symbols := make([]string, len(c.symbols))
	copy(symbols, c.symbols)
	return symbols
}

// start must be called with mu held and no publishers active.
func (c *Controller) start(ctx context.Context) (string, error) {
	feeds, err := c.loader.LoadFeeds(ctx)
	if err != nil {
		logrus.WithError(err).Error("failed to load feeds")
		return "", fmt.Errorf("%w: %w", ErrFeedLoad, err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel

	totalRecords := 0
	for _, feed := range feeds {
		if _, ok := c.publishers[feed.Symbol]; ok {
			logrus.WithField("symbol", feed.Symbol).Warn("duplicate symbol feed, skipping")
			continue
		}

		p := newPublisher(feed, c.cfg.ChannelCapacity, c.cfg.Clock)
		c.publishers[feed.Symbol] = p
		c.symbols = append(c.symbols, feed.Symbol)
		totalRecords += len(feed.Records)

		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			p.run(runCtx, c.cfg.EmitInterval)
		}()
	}

	c.state = entity.BroadcastRunning

	logrus.WithFields(logrus.Fields{
		"symbols":       len(c.symbols),
		"total_records": totalRecords,
	}).Info("started broadcasting")

	return fmt.Sprintf("Broadcasting started for %d symbols with %d total records", len(c.symbols), totalRecords), nil
}

// teardown stops every publisher, waits for them to exit and closes their
// topics so bound consumers observe the end of the stream.
func (c *Controller) teardown() {
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.wg.Wait()

	for _, symbol := range c.symbols {
		c.publishers[symbol].topic.Close()
	}
	c.publishers = make(map[string]*publisher)
	c.symbols = nil
}

func (c *Controller) setPaused(paused bool) {
	for _, p := range c.publishers {
		p.setPaused(paused)
	}
}
