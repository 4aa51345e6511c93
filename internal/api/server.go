// Package api HTTP-интерфейс для чтения состояния вариантов, позиций и сигналов
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/skalibog/sigtrade/internal/execution"
	"github.com/skalibog/sigtrade/internal/portfolio"
	"github.com/skalibog/sigtrade/internal/storage"
	"github.com/skalibog/sigtrade/pkg/models"
)

// Portfolio снимки портфеля вариантов
type Portfolio interface {
	Variants() []string
	Orders(id string) (models.Ledger, bool)
	GetData() map[string]models.Ledger
	Rank(total, buyOnce float64) []portfolio.Ranked
}

// Market текущие цены
type Market interface {
	Price(symbol string) (float64, bool)
	Prices() models.Prices
	Symbols() []string
}

// Signals полученные сигналы
type Signals interface {
	All() []*models.Signal
}

// Submitter прием новых сигналов
type Submitter interface {
	SubmitText(ctx context.Context, text string, at time.Time) (*models.Signal, error)
	Submit(ctx context.Context, sig *models.Signal) error
}

// Positions живые позиции
type Positions interface {
	Positions() []*execution.Position
}

// History история балансов вариантов
type History interface {
	BalanceHistory(ctx context.Context, variant string, since time.Duration, limit int) ([]storage.BalancePoint, error)
}

// Saver принудительное сохранение состояния
type Saver interface {
	Save(ctx context.Context) error
}

// Deps зависимости сервера. Positions может отсутствовать, если торговля выключена,
// History - если InfluxDB не настроен.
type Deps struct {
	Portfolio Portfolio
	Market    Market
	Signals   Signals
	Submitter Submitter
	Positions Positions
	History   History
	Saver     Saver
}

// Options настройки сервера
type Options struct {
	Listen         string
	SecretKey      string
	LogFile        string
	PrimaryUSDT    float64
	BuyOnce        float64
	StreamInterval time.Duration
	Logger         *zap.Logger
}

// Server HTTP-сервер поверх gin
type Server struct {
	Router *gin.Engine
	deps   Deps
	opts   Options
	logger *zap.Logger
	http   *http.Server
}

// NewServer создает сервер и регистрирует маршруты
func NewServer(deps Deps, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.StreamInterval <= 0 {
		opts.StreamInterval = time.Second
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(RequestLogger(opts.Logger))

	s := &Server{
		Router: r,
		deps:   deps,
		opts:   opts,
		logger: opts.Logger,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.GET("/health", s.health)
	s.Router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	s.Router.GET("/logs", s.logs)
	s.Router.GET("/ws/prices", s.priceStream)

	api := s.Router.Group("/api")
	{
		api.GET("/orders", s.getOrders)
		api.GET("/orders/:variant", s.getVariantOrders)
		api.GET("/balances", s.getBalances)
		api.GET("/positions", s.getPositions)
		api.GET("/signals", s.getSignals)
		api.GET("/prices", s.getPrices)
		api.GET("/symbols", s.getSymbols)
		api.GET("/history/:variant", s.getHistory)

		protected := api.Group("")
		protected.Use(SecretKeyMiddleware(s.opts.SecretKey))
		{
			protected.POST("/signals", s.postSignal)
			protected.POST("/save", s.save)
		}
	}
}

// Start слушает порт до отмены контекста или Stop
func (s *Server) Start(ctx context.Context) error {
	s.http = &http.Server{
		Addr:              s.opts.Listen,
		Handler:           s.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP API запущен", zap.String("listen", s.opts.Listen))
		errCh <- s.http.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("ошибка HTTP сервера: %w", err)
	case <-ctx.Done():
		s.Stop()
		return nil
	}
}

// Stop завершает сервер, дожидаясь активных запросов
func (s *Server) Stop() {
	if s.http == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.http.Shutdown(ctx); err != nil {
		s.logger.Warn("Ошибка остановки HTTP сервера", zap.Error(err))
	}
}
