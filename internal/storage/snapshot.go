package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/skalibog/sigtrade/internal/execution"
	"github.com/skalibog/sigtrade/internal/metrics"
	"github.com/skalibog/sigtrade/internal/portfolio"
	"github.com/skalibog/sigtrade/pkg/models"
)

// LedgerSet журналы вариантов для сохранения
type LedgerSet interface {
	GetData() map[string]models.Ledger
	SetData(data map[string]models.Ledger)
	Rank(total, buyOnce float64) []portfolio.Ranked
}

// SignalSet сигналы для сохранения
type SignalSet interface {
	GetData() map[string]*models.Signal
	SetData(data map[string]*models.Signal)
}

// PositionSet живые позиции для сохранения
type PositionSet interface {
	Positions() []*execution.Position
	SetPositions(positions []*execution.Position)
}

// Recorder приемник временных рядов
type Recorder interface {
	RecordBalances(ctx context.Context, at time.Time, ranked []portfolio.Ranked) error
	RecordPositions(ctx context.Context, at time.Time, positions []*execution.Position) error
}

// SnapshotOptions источники и параметры снимков. Пустые источники пропускаются.
type SnapshotOptions struct {
	Ledgers     LedgerSet
	Signals     SignalSet
	Positions   PositionSet
	Recorder    Recorder
	Interval    time.Duration
	PrimaryUSDT float64
	BuyOnce     float64
}

// Snapshotter периодически сохраняет состояние на диск
type Snapshotter struct {
	store  *FileStore
	opts   SnapshotOptions
	logger *zap.Logger
	now    func() time.Time

	mu       sync.Mutex
	lastSave time.Time

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewSnapshotter создает задачу сохранения
func NewSnapshotter(store *FileStore, opts SnapshotOptions, logger *zap.Logger) *Snapshotter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Interval <= 0 {
		opts.Interval = time.Minute
	}
	return &Snapshotter{
		store:  store,
		opts:   opts,
		logger: logger,
		now:    time.Now,
		stopCh: make(chan struct{}),
	}
}

// Restore загружает сохраненное состояние в источники
func (s *Snapshotter) Restore() error {
	if s.opts.Ledgers != nil {
		data, err := s.store.LoadLedgers()
		if err != nil {
			return err
		}
		s.opts.Ledgers.SetData(data)
	}
	if s.opts.Signals != nil {
		data, err := s.store.LoadSignals()
		if err != nil {
			return err
		}
		s.opts.Signals.SetData(data)
	}
	if s.opts.Positions != nil {
		data, err := s.store.LoadPositions()
		if err != nil {
			return err
		}
		s.opts.Positions.SetPositions(data)
	}
	return nil
}

// Save сохраняет все источники. Ошибка одного не мешает остальным.
func (s *Snapshotter) Save(ctx context.Context) error {
	var errs []error
	if s.opts.Ledgers != nil {
		errs = append(errs, s.store.SaveLedgers(s.opts.Ledgers.GetData()))
	}
	if s.opts.Signals != nil {
		errs = append(errs, s.store.SaveSignals(s.opts.Signals.GetData()))
	}
	if s.opts.Positions != nil {
		errs = append(errs, s.store.SavePositions(s.opts.Positions.Positions()))
	}

	if s.opts.Recorder != nil {
		at := s.now()
		if s.opts.Ledgers != nil {
			ranked := s.opts.Ledgers.Rank(s.opts.PrimaryUSDT, s.opts.BuyOnce)
			errs = append(errs, s.opts.Recorder.RecordBalances(ctx, at, ranked))
		}
		if s.opts.Positions != nil {
			errs = append(errs, s.opts.Recorder.RecordPositions(ctx, at, s.opts.Positions.Positions()))
		}
	}

	if err := errors.Join(errs...); err != nil {
		metrics.IncSnapshotFailure()
		return fmt.Errorf("ошибка сохранения снимка: %w", err)
	}

	s.mu.Lock()
	s.lastSave = s.now()
	s.mu.Unlock()
	return nil
}

// LastSave время последнего успешного сохранения
func (s *Snapshotter) LastSave() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSave
}

// Start сохраняет состояние по таймеру и еще раз при остановке
func (s *Snapshotter) Start(ctx context.Context) error {
	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.saveAndLog(ctx)
		case <-s.stopCh:
			s.saveAndLog(context.Background())
			return nil
		case <-ctx.Done():
			s.saveAndLog(context.Background())
			return nil
		}
	}
}

// Stop останавливает задачу с финальным сохранением
func (s *Snapshotter) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

func (s *Snapshotter) saveAndLog(ctx context.Context) {
	if err := s.Save(ctx); err != nil {
		s.logger.Error("Ошибка сохранения данных", zap.Error(err))
		return
	}
	s.logger.Debug("Данные сохранены", zap.String("dir", s.store.Dir()))
}
