package stream

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/goccy/go-json"
	"github.com/jonboulle/clockwork"
	"github.com/krobus00/market-stream/internal/constant"
	"github.com/krobus00/market-stream/internal/entity"
	"github.com/krobus00/market-stream/internal/pubsub"
	"github.com/sirupsen/logrus"
)

const DefaultOutboundBuffer = 100

var (
	ErrUnknownSymbol    = errors.New("symbol is not being broadcast")
	ErrPermissionDenied = errors.New("admin permission required")
	ErrAdminUnavailable = errors.New("admin feed unavailable")
	ErrRouterClosed     = errors.New("router closed")
)

type Broadcaster interface {
	Subscribe(symbol string) (*pubsub.Subscription[entity.MarketTick], bool)
}

type AdminSource interface {
	Subscribe() (*pubsub.Subscription[entity.OrderEvent], error)
}

type RouterConfig struct {
	Session        entity.Session
	Broadcaster    Broadcaster
	Admin          AdminSource
	OutboundBuffer int
	// OnPing runs for every inbound ping action.
	OnPing func()
	Clock  clockwork.Clock
}

// Router binds one connection to at most one symbol feed and, for admins, to
// the order event feed. Everything destined for the client goes through Outbound.
type Router struct {
	session     entity.Session
	broadcaster Broadcaster
	admin       AdminSource
	onPing      func()
	clock       clockwork.Clock
	logger      *logrus.Entry

	out    chan []byte
	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	data      *binding
	adminFeed *binding
	closed    bool
}

type binding struct {
	symbol      string
	ctx         context.Context
	cancel      context.CancelFunc
	ready       chan struct{}
	readyOnce   sync.Once
	done        chan struct{}
	ended       atomic.Bool
	unsubscribe func()
}

func NewRouter(cfg RouterConfig) *Router {
	if cfg.OutboundBuffer <= 0 {
		cfg.OutboundBuffer = DefaultOutboundBuffer
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Router{
		session:     cfg.Session,
		broadcaster: cfg.Broadcaster,
		admin:       cfg.Admin,
		onPing:      cfg.OnPing,
		clock:       cfg.Clock,
		logger: logrus.WithFields(logrus.Fields{
			"session_id": cfg.Session.ShortID(),
			"user_id":    cfg.Session.UserID,
		}),
		out:    make(chan []byte, cfg.OutboundBuffer),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Outbound is drained by the connection writer. It is never closed; use Done.
func (r *Router) Outbound() <-chan []byte {
	return r.out
}

func (r *Router) Done() <-chan struct{} {
	return r.ctx.Done()
}

func (r *Router) Subscribe(symbol string) error {
	b, err := r.bindSymbol(symbol)
	if err != nil {
		return err
	}
	b.start()
	return nil
}

// Unsubscribe drops the current symbol binding and returns its symbol, if any.
func (r *Router) Unsubscribe() (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b := r.data
	if b == nil {
		return "", false
	}
	r.data = nil
	b.stop()

	return b.symbol, !b.ended.Load()
}

// SubscribeAdmin binds the order event feed and greets the client. Binding an
// already bound feed is a no-op.
func (r *Router) SubscribeAdmin() error {
	_, err := r.subscribeAdmin(r.ctx)
	return err
}

func (r *Router) UnsubscribeAdmin() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	b := r.adminFeed
	if b == nil {
		return false
	}
	r.adminFeed = nil
	b.stop()

	return true
}

// Symbol reports the symbol currently bound, if its feed is still live.
func (r *Router) Symbol() (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.data == nil || r.data.ended.Load() {
		return "", false
	}
	return r.data.symbol, true
}

func (r *Router) AdminBound() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.adminFeed != nil && !r.adminFeed.ended.Load()
}

func (r *Router) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}
	r.closed = true
	r.cancel()

	if r.data != nil {
		r.data.stop()
		r.data = nil
	}
	if r.adminFeed != nil {
		r.adminFeed.stop()
		r.adminFeed = nil
	}
}

// Handle processes one inbound client frame and queues the response.
// It only fails when the response cannot be delivered.
func (r *Router) Handle(ctx context.Context, raw []byte) error {
	var req entity.SubscriptionRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		r.logger.WithError(err).Warn("received malformed client message")
		return r.respond(ctx, entity.StatusError, nil, "Invalid message format")
	}

	switch req.Action {
	case entity.ActionSubscribe:
		return r.handleSubscribe(ctx, req.Symbol)
	case entity.ActionUnsubscribe:
		symbol, ok := r.Unsubscribe()
		if !ok {
			return r.respond(ctx, entity.StatusSuccess, nil, "No active subscription")
		}
		return r.respond(ctx, entity.StatusSuccess, &symbol, "Successfully unsubscribed")
	case entity.ActionUnsubscribeAll:
		count := 0
		if _, ok := r.Unsubscribe(); ok {
			count++
		}
		return r.respond(ctx, entity.StatusSuccess, nil, fmt.Sprintf("Successfully unsubscribed from %d symbols", count))
	case entity.ActionSubscribeAdmin:
		return r.handleSubscribeAdmin(ctx)
	case entity.ActionUnsubscribeAdmin:
		r.UnsubscribeAdmin()
		return r.respond(ctx, entity.StatusSuccess, nil, "Unsubscribed from admin order feed")
	case entity.ActionPing:
		if r.onPing != nil {
			r.onPing()
		}
		return r.sendJSON(ctx, entity.NewPongMessage(r.clock.Now()))
	default:
		r.logger.WithField("action", req.Action).Warn("unknown subscription action")
		return r.respond(ctx, entity.StatusError, nil, fmt.Sprintf("Unknown action: %s", req.Action))
	}
}

func (r *Router) handleSubscribe(ctx context.Context, symbol string) error {
	if symbol == "" {
		return r.respond(ctx, entity.StatusError, nil, "Symbol is required")
	}

	b, err := r.bindSymbol(symbol)
	switch {
	case errors.Is(err, ErrUnknownSymbol):
		return r.respond(ctx, entity.StatusError, &symbol, fmt.Sprintf("Symbol %s is not being broadcast", symbol))
	case err != nil:
		return err
	}

	// ack first so the client never sees a tick before the confirmation
	err = r.respond(ctx, entity.StatusSuccess, &symbol, "Successfully subscribed")
	b.start()
	return err
}

func (r *Router) subscribeAdmin(ctx context.Context) (bool, error) {
	b, err := r.bindAdmin()
	if err != nil || b == nil {
		return false, err
	}

	err = r.sendJSON(ctx, entity.NewAdminWelcomeMessage(r.clock.Now()))
	b.start()
	return true, err
}

func (r *Router) handleSubscribeAdmin(ctx context.Context) error {
	bound, err := r.subscribeAdmin(ctx)
	switch {
	case errors.Is(err, ErrPermissionDenied):
		return r.respond(ctx, entity.StatusError, nil, "Admin permission required")
	case errors.Is(err, ErrAdminUnavailable):
		return r.respond(ctx, entity.StatusError, nil, "Admin feed unavailable")
	case err != nil:
		return err
	}

	if !bound {
		return r.respond(ctx, entity.StatusSuccess, nil, "Already subscribed to admin order feed")
	}
	return nil
}

func (r *Router) bindSymbol(symbol string) (*binding, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrRouterClosed
	}

	if r.data != nil {
		r.data.stop()
		r.data = nil
	}

	sub, ok := r.broadcaster.Subscribe(symbol)
	if !ok {
		return nil, ErrUnknownSymbol
	}

	b := r.newBinding(symbol, sub.Unsubscribe)
	r.data = b
	go forward(r, b, sub, encodeTick, false)

	r.logger.WithField("symbol", symbol).Info("subscribed to symbol")
	return b, nil
}

// bindAdmin returns a nil binding when the admin feed is already bound.
func (r *Router) bindAdmin() (*binding, error) {
	if !r.session.HasPermission(constant.PermissionAdmin) {
		return nil, ErrPermissionDenied
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrRouterClosed
	}
	if r.admin == nil {
		return nil, ErrAdminUnavailable
	}
	if r.adminFeed != nil {
		if !r.adminFeed.ended.Load() {
			return nil, nil
		}
		r.adminFeed.stop()
		r.adminFeed = nil
	}

	sub, err := r.admin.Subscribe()
	if err != nil {
		return nil, ErrAdminUnavailable
	}

	b := r.newBinding("", sub.Unsubscribe)
	r.adminFeed = b
	go forward(r, b, sub, encodeOrderEvent, true)

	r.logger.Info("subscribed to admin order feed")
	return b, nil
}

func (r *Router) newBinding(symbol string, unsubscribe func()) *binding {
	ctx, cancel := context.WithCancel(r.ctx)
	return &binding{
		symbol:      symbol,
		ctx:         ctx,
		cancel:      cancel,
		ready:       make(chan struct{}),
		done:        make(chan struct{}),
		unsubscribe: unsubscribe,
	}
}

func (b *binding) start() {
	b.readyOnce.Do(func() { close(b.ready) })
}

// stop cancels the forwarder, waits for it to exit and only then releases
// the subscription, so nothing from this binding is queued afterwards.
func (b *binding) stop() {
	b.cancel()
	<-b.done
	b.unsubscribe()
}

// forward copies items from sub to the router outbound queue. It never takes
// the router lock.
func forward[T any](r *Router, b *binding, sub *pubsub.Subscription[T], encode func(T) ([]byte, error), warnOnLag bool) {
	defer close(b.done)

	select {
	case <-b.ready:
	case <-b.ctx.Done():
		return
	}

	for {
		select {
		case <-b.ctx.Done():
			return
		case item, ok := <-sub.C():
			if !ok {
				b.ended.Store(true)
				r.feedClosed(b)
				return
			}

			if warnOnLag {
				if skipped := sub.TakeDropped(); skipped > 0 {
					r.logger.WithField("skipped", skipped).Warn("admin client lagged")
					if r.sendJSON(b.ctx, entity.NewLagWarningMessage(skipped, r.clock.Now())) != nil {
						return
					}
				}
			}

			payload, err := encode(item)
			if err != nil {
				r.logger.WithError(err).Error("failed to encode outbound message")
				continue
			}
			if r.send(b.ctx, payload) != nil {
				return
			}
		}
	}
}

func (r *Router) feedClosed(b *binding) {
	if b.symbol == "" {
		r.logger.Info("admin order feed closed")
		return
	}

	r.logger.WithField("symbol", b.symbol).Info("symbol feed closed")
	symbol := b.symbol
	_ = r.respond(b.ctx, entity.StatusClosed, &symbol, "Broadcast stopped")
}

func (r *Router) respond(ctx context.Context, status string, symbol *string, message string) error {
	return r.sendJSON(ctx, entity.SubscriptionResponse{
		Status:  status,
		Symbol:  symbol,
		Message: message,
	})
}

func (r *Router) sendJSON(ctx context.Context, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return r.send(ctx, payload)
}

func (r *Router) send(ctx context.Context, payload []byte) error {
	select {
	case r.out <- payload:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-r.ctx.Done():
		return ErrRouterClosed
	}
}

func encodeTick(tick entity.MarketTick) ([]byte, error) {
	return json.Marshal(entity.NewTickMessage(tick))
}

func encodeOrderEvent(event entity.OrderEvent) ([]byte, error) {
	return json.Marshal(entity.NewAdminOrderMessage(event))
}
