package signal

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/skalibog/sigtrade/internal/metrics"
	"github.com/skalibog/sigtrade/pkg/models"
)

// ErrDuplicate сигнал с таким id уже получен
var ErrDuplicate = errors.New("сигнал уже получен")

// StatsProvider источник суточной статистики для обогащения сигналов
type StatsProvider interface {
	DailyStats(coin string) map[string]float64
}

// Store хранит полученные сигналы по id
type Store struct {
	mu      sync.RWMutex
	signals map[string]*models.Signal
}

// NewStore создает пустое хранилище сигналов
func NewStore() *Store {
	return &Store{signals: make(map[string]*models.Signal)}
}

// Add сохраняет сигнал. Повторный id отклоняется.
func (s *Store) Add(sig *models.Signal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.signals[sig.SignalID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicate, sig.SignalID)
	}
	s.signals[sig.SignalID] = sig
	return nil
}

// Get возвращает сигнал по id
func (s *Store) Get(id string) (*models.Signal, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sig, ok := s.signals[id]
	return sig, ok
}

// All возвращает сигналы по времени создания
func (s *Store) All() []*models.Signal {
	s.mu.RLock()
	result := make([]*models.Signal, 0, len(s.signals))
	for _, sig := range s.signals {
		result = append(result, sig)
	}
	s.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].SignalID < result[j].SignalID
	})
	return result
}

// GetData экспортирует сигналы для снимка
func (s *Store) GetData() map[string]*models.Signal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data := make(map[string]*models.Signal, len(s.signals))
	for id, sig := range s.signals {
		data[id] = sig
	}
	return data
}

// SetData восстанавливает сигналы из снимка
func (s *Store) SetData(data map[string]*models.Signal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.signals = make(map[string]*models.Signal, len(data))
	for id, sig := range data {
		if sig != nil {
			s.signals[id] = sig
		}
	}
}

// Source принимает сигналы от внешних источников, проверяет, обогащает
// и раздает их подписчикам
type Source struct {
	store  *Store
	hub    *Hub
	stats  StatsProvider
	logger *zap.Logger
}

// NewSource создает приемник сигналов
func NewSource(store *Store, hub *Hub, stats StatsProvider, logger *zap.Logger) *Source {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Source{store: store, hub: hub, stats: stats, logger: logger}
}

// SubmitText разбирает текст сообщения и передает сигнал в Submit
func (s *Source) SubmitText(ctx context.Context, text string, at time.Time) (*models.Signal, error) {
	sig, err := Parse(text, at)
	if err != nil {
		if !errors.Is(err, ErrNotSignal) {
			metrics.IncSignal("invalid")
			s.logger.Warn("Ошибка разбора сигнала", zap.String("message", text), zap.Error(err))
		}
		return nil, err
	}
	return sig, s.Submit(ctx, sig)
}

// Submit проверяет сигнал и раздает его. Некорректный сигнал не доходит до ядра.
func (s *Source) Submit(ctx context.Context, sig *models.Signal) error {
	if err := sig.Validate(); err != nil {
		metrics.IncSignal("invalid")
		s.logger.Warn("Сигнал отклонен", zap.Any("signal", sig), zap.Error(err))
		return err
	}
	if sig.CreatedAt.IsZero() {
		sig.CreatedAt = time.Now()
	}
	if len(sig.DailyStats) == 0 && s.stats != nil {
		sig.DailyStats = s.stats.DailyStats(sig.Coin)
	}

	if err := s.store.Add(sig); err != nil {
		metrics.IncSignal("duplicate")
		s.logger.Info("Повторный сигнал пропущен", zap.String("signalId", sig.SignalID))
		return err
	}

	metrics.IncSignal("accepted")
	s.logger.Info("Получен сигнал", zap.Any("signal", sig))

	if err := s.hub.PublishSignal(ctx, sig); err != nil {
		return fmt.Errorf("ошибка раздачи сигнала %s: %w", sig.SignalID, err)
	}
	return nil
}
