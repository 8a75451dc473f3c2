package notify

import (
	"context"
	"runtime/debug"
	"sync"

	"github.com/sokoline/storefront/internal/domain/notify"
	"github.com/sokoline/storefront/internal/observability"
	"github.com/sokoline/storefront/internal/observability/logctx"
)

const componentBus = "notify_bus"

// Bus is an in-memory fan-out for best-effort notifications. It is not
// durable; a dropped event is acceptable by contract since every publish in
// this system is best-effort.
type Bus struct {
	mu          sync.RWMutex
	subs        map[string][]notify.Handler
	queue       chan notify.Event
	startOnce   sync.Once
	stopOnce    sync.Once
	cancel      context.CancelFunc
	concurrency int
	log         observability.Logger
}

func NewBus(logger observability.Logger) *Bus {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Bus{
		subs:        make(map[string][]notify.Handler),
		queue:       make(chan notify.Event, 1024),
		concurrency: 8,
		log:         logger.With(observability.F("component", componentBus)),
	}
}

func (b *Bus) Subscribe(eventName string, h notify.Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[eventName] = append(b.subs[eventName], h)
}

func (b *Bus) Start(ctx context.Context) {
	b.startOnce.Do(func() {
		bg, cancel := context.WithCancel(ctx)
		b.cancel = cancel
		go b.dispatchLoop(bg)
		logctx.FromOr(ctx, b.log).Info("notify_bus_started")
	})
}

func (b *Bus) Stop(ctx context.Context) {
	b.stopOnce.Do(func() {
		if b.cancel != nil {
			b.cancel()
		}
		close(b.queue)
		logctx.FromOr(ctx, b.log).Info("notify_bus_stopped")
	})
}

func (b *Bus) Publish(ctx context.Context, e notify.Event) error {
	if e == nil {
		return nil
	}
	select {
	case b.queue <- e:
		logctx.FromOr(ctx, b.log).Debug("event_enqueued",
			observability.F("event", e.EventName()),
		)
		return nil
	case <-ctx.Done():
		logctx.FromOr(ctx, b.log).Warn("event_enqueue_aborted",
			observability.F("event", e.EventName()),
			observability.F("error", ctx.Err()),
		)
		return ctx.Err()
	}
}

func (b *Bus) dispatchLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-b.queue:
			if !ok {
				return
			}
			b.fanout(ctx, e)
		}
	}
}

func (b *Bus) fanout(ctx context.Context, e notify.Event) {
	name := e.EventName()

	b.mu.RLock()
	handlers := append([]notify.Handler(nil), b.subs[name]...)
	b.mu.RUnlock()

	if len(handlers) == 0 {
		b.log.Debug("event_dropped_no_subscriber", observability.F("event", name))
		return
	}

	ctx = context.WithoutCancel(ctx)
	ctx = logctx.With(ctx, b.log)

	sem := make(chan struct{}, b.concurrency)
	var wg sync.WaitGroup
	for _, h := range handlers {
		wg.Add(1)
		sem <- struct{}{}
		go func(handler notify.Handler) {
			defer wg.Done()
			defer func() { <-sem }()
			defer func() {
				if rec := recover(); rec != nil {
					b.log.Error("notify_handler_panic",
						observability.F("event", name),
						observability.F("panic", rec),
						observability.F("stack", string(debug.Stack())),
					)
				}
			}()
			if err := handler(ctx, e); err != nil {
				b.log.Warn("notify_handler_failed",
					observability.F("event", name),
					observability.F("error", err.Error()),
				)
			}
		}(h)
	}
	wg.Wait()
}
