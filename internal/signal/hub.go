package signal

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/skalibog/sigtrade/internal/metrics"
	"github.com/skalibog/sigtrade/pkg/models"
)

// SignalSink получатель сигналов
type SignalSink interface {
	OnSignal(s *models.Signal)
}

// PriceSink получатель тиков цен
type PriceSink interface {
	OnPrices(prices models.Prices)
}

// ErrHubStarted подписка после запуска раздачи
var ErrHubStarted = errors.New("раздача событий уже запущена")

// Hub раздает сигналы и цены независимым подписчикам. У каждого подписчика
// своя очередь и горутина, медленный подписчик не задерживает остальных.
type Hub struct {
	signalQueue int
	priceQueue  int
	logger      *zap.Logger

	mu      sync.Mutex
	subs    []*subscriber
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

type subscriber struct {
	name    string
	signals chan *models.Signal
	prices  chan models.Prices
	onSig   SignalSink
	onPrice PriceSink
}

// NewHub создает раздатчик с очередями указанного размера
func NewHub(signalQueue, priceQueue int, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		signalQueue: max(signalQueue, 1),
		priceQueue:  max(priceQueue, 1),
		logger:      logger,
	}
}

// Subscribe регистрирует подписчика. sink должен реализовывать SignalSink и/или PriceSink.
func (h *Hub) Subscribe(name string, sink any) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.started {
		return ErrHubStarted
	}

	sub := &subscriber{name: name}
	if s, ok := sink.(SignalSink); ok {
		sub.onSig = s
		sub.signals = make(chan *models.Signal, h.signalQueue)
	}
	if p, ok := sink.(PriceSink); ok {
		sub.onPrice = p
		sub.prices = make(chan models.Prices, h.priceQueue)
	}
	if sub.onSig == nil && sub.onPrice == nil {
		return fmt.Errorf("подписчик %s не принимает ни сигналы, ни цены", name)
	}

	h.subs = append(h.subs, sub)
	return nil
}

// Start запускает горутины подписчиков
func (h *Hub) Start(ctx context.Context) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.started {
		return
	}
	h.started = true

	ctx, h.cancel = context.WithCancel(ctx)
	for _, sub := range h.subs {
		h.wg.Add(1)
		go func(sub *subscriber) {
			defer h.wg.Done()
			h.run(ctx, sub)
		}(sub)
	}
}

// Stop останавливает раздачу и ждет завершения обработчиков
func (h *Hub) Stop() {
	h.mu.Lock()
	cancel := h.cancel
	h.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	h.wg.Wait()
}

// PublishSignal ставит сигнал в очередь каждого подписчика. Блокируется, пока
// очередь заполнена, чтобы сигналы не терялись.
func (h *Hub) PublishSignal(ctx context.Context, s *models.Signal) error {
	for _, sub := range h.snapshot() {
		if sub.signals == nil {
			continue
		}
		select {
		case sub.signals <- s:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// PublishPrices раздает тик без блокировки. При заполненной очереди тик
// подписчику не доставляется, следующий тик содержит более свежие цены.
func (h *Hub) PublishPrices(prices models.Prices) {
	tick := prices.Clone()
	for _, sub := range h.snapshot() {
		if sub.prices == nil {
			continue
		}
		select {
		case sub.prices <- tick:
		default:
			metrics.IncDroppedTick(sub.name)
			h.logger.Debug("Очередь цен переполнена, тик пропущен", zap.String("sink", sub.name))
		}
	}
}

func (h *Hub) snapshot() []*subscriber {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]*subscriber(nil), h.subs...)
}

func (h *Hub) run(ctx context.Context, sub *subscriber) {
	for {
		select {
		case <-ctx.Done():
			return
		case s := <-sub.signals:
			h.safely(sub.name, "signal", func() { sub.onSig.OnSignal(s) })
		case p := <-sub.prices:
			h.safely(sub.name, "prices", func() { sub.onPrice.OnPrices(p) })
		}
	}
}

// safely изолирует сбой обработчика, процесс продолжает работу
func (h *Hub) safely(sink, event string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("Паника в обработчике события",
				zap.String("sink", sink),
				zap.String("event", event),
				zap.Any("panic", r))
		}
	}()
	fn()
}
