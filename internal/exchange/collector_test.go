package exchange

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/skalibog/sigtrade/pkg/models"
)

type fakeSource struct {
	mu    sync.Mutex
	calls int
	fail  bool
}

func (f *fakeSource) Prices(context.Context) (models.Prices, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.fail {
		return nil, errors.New("network")
	}
	return models.Prices{"ABCUSDT": float64(f.calls)}, nil
}

func (f *fakeSource) DailyChanges(context.Context) (map[string]float64, error) {
	return map[string]float64{"BTCUSDT": -1}, nil
}

type fakeStore struct {
	mu      sync.Mutex
	updates int
	changes map[string]float64
}

func (f *fakeStore) Update(models.Prices) {
	f.mu.Lock()
	f.updates++
	f.mu.Unlock()
}

func (f *fakeStore) SetDailyChanges(c map[string]float64) {
	f.mu.Lock()
	f.changes = c
	f.mu.Unlock()
}

type fakePublisher struct {
	ticks chan models.Prices
}

func (f *fakePublisher) PublishPrices(p models.Prices) {
	select {
	case f.ticks <- p:
	default:
	}
}

func TestPriceCollectorPublishes(t *testing.T) {
	source := &fakeSource{}
	store := &fakeStore{}
	pub := &fakePublisher{ticks: make(chan models.Prices, 16)}
	c := NewPriceCollector(source, store, pub, 10*time.Millisecond, time.Hour, nil)

	done := make(chan error, 1)
	go func() { done <- c.Start(context.Background()) }()

	for i := 0; i < 2; i++ {
		select {
		case <-pub.ticks:
		case <-time.After(time.Second):
			t.Fatalf("tick %d not published", i)
		}
	}
	c.Stop()
	c.Stop()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Start error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("collector did not stop")
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	if store.updates < 2 || store.changes["BTCUSDT"] != -1 {
		t.Fatalf("store updates=%d changes=%v, expected >=2 and BTC stats", store.updates, store.changes)
	}
}

func TestPriceCollectorSkipsFailedPoll(t *testing.T) {
	source := &fakeSource{fail: true}
	store := &fakeStore{}
	pub := &fakePublisher{ticks: make(chan models.Prices, 1)}
	c := NewPriceCollector(source, store, pub, time.Hour, time.Hour, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := c.Start(ctx); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	if store.updates != 0 || len(pub.ticks) != 0 {
		t.Fatalf("failed poll reached store (%d) or publisher (%d)", store.updates, len(pub.ticks))
	}
}
