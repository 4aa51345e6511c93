package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/skalibog/sigtrade/internal/api"
	"github.com/skalibog/sigtrade/internal/config"
	"github.com/skalibog/sigtrade/internal/exchange"
	"github.com/skalibog/sigtrade/internal/execution"
	"github.com/skalibog/sigtrade/internal/market"
	"github.com/skalibog/sigtrade/internal/newcoin"
	"github.com/skalibog/sigtrade/internal/portfolio"
	sigsource "github.com/skalibog/sigtrade/internal/signal"
	"github.com/skalibog/sigtrade/internal/storage"
	"github.com/skalibog/sigtrade/internal/ui"
	"github.com/skalibog/sigtrade/pkg/logger"
)

func main() {
	// Обработка флагов командной строки
	configPath := flag.String("config", "config.yaml", "путь к файлу конфигурации")
	flag.Parse()

	// Проверяем наличие файла конфигурации
	if _, err := os.Stat(*configPath); os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "Файл конфигурации не найден: %s\n", *configPath)
		os.Exit(1)
	}

	// Загружаем конфигурацию
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Ошибка загрузки конфигурации: %v\n", err)
		os.Exit(1)
	}

	logger.Init(logger.Options{
		Dir:     cfg.Log.Dir,
		Level:   cfg.Log.Level,
		Console: cfg.Log.Console && !cfg.UI.Enabled,
	})
	defer logger.GetLogger().Sync()
	logger.Info("Конфигурация загружена", zap.String("path", *configPath), zap.Bool("trading", cfg.Trading.Enabled))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Настраиваем обработку сигналов завершения
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("Завершение работы...")
		cancel()
	}()

	// Инициализируем клиент биржи
	client, err := exchange.NewBinanceClient(cfg.Binance, logger.Named("binance"))
	if err != nil {
		logger.Fatal("Ошибка инициализации клиента биржи", zap.Error(err))
	}
	if err := client.SyncTime(ctx); err != nil {
		logger.Warn("Не удалось синхронизировать время с биржей", zap.Error(err))
	}

	tracker := market.NewTracker(cfg.Strategy.PriceHistorySize)
	hub := sigsource.NewHub(cfg.Strategy.SignalQueueSize, cfg.Strategy.PriceQueueSize, logger.Named("hub"))

	// Портфель вариантов
	manager, err := portfolio.New(cfg.Strategy, tracker, logger.Named("portfolio"))
	if err != nil {
		logger.Fatal("Ошибка создания портфеля вариантов", zap.Error(err))
	}
	if err := hub.Subscribe("portfolio", manager); err != nil {
		logger.Fatal("Ошибка подписки портфеля", zap.Error(err))
	}

	signals := sigsource.NewStore()
	source := sigsource.NewSource(signals, hub, tracker, logger.Named("signal"))

	var watcher *newcoin.Watcher
	if cfg.NewCoin.Enabled {
		watcher = newcoin.NewWatcher(cfg.NewCoin, tracker, logger.Named("newcoin"))
	}

	// Реальная торговля
	var engine *execution.Engine
	if cfg.Trading.Enabled {
		var detector execution.NewCoinDetector
		if watcher != nil {
			detector = watcher
		}
		engine = execution.NewEngine(cfg.Trading, client, detector, logger.Named("execution"))
		if err := hub.Subscribe("execution", engine); err != nil {
			logger.Fatal("Ошибка подписки движка исполнения", zap.Error(err))
		}
	}

	// Хранилище
	fileStore, err := storage.NewFileStore(cfg.Storage.DataDir)
	if err != nil {
		logger.Fatal("Ошибка инициализации хранилища", zap.Error(err))
	}
	snapshotOpts := storage.SnapshotOptions{
		Ledgers:     manager,
		Signals:     signals,
		Interval:    time.Duration(cfg.Storage.SnapshotIntervalSeconds) * time.Second,
		PrimaryUSDT: cfg.Balance.PrimaryUSDT,
		BuyOnce:     cfg.Balance.BuyOnce,
	}
	if engine != nil {
		snapshotOpts.Positions = engine
	}
	var influx *storage.InfluxDBStorage
	if cfg.Storage.Influx.URL != "" {
		influx, err = storage.NewInfluxDBStorage(ctx, cfg.Storage.Influx)
		if err != nil {
			logger.Warn("InfluxDB недоступен, история балансов не пишется", zap.Error(err))
			influx = nil
		} else {
			defer influx.Close()
			snapshotOpts.Recorder = influx
		}
	}
	snapshotter := storage.NewSnapshotter(fileStore, snapshotOpts, logger.Named("storage"))
	if err := snapshotter.Restore(); err != nil {
		logger.Fatal("Ошибка загрузки сохраненных данных", zap.Error(err))
	}

	logFile := filepath.Join(cfg.Log.Dir, logger.JSONLogFile)
	deps := api.Deps{
		Portfolio: manager,
		Market:    tracker,
		Signals:   signals,
		Submitter: source,
		Saver:     snapshotter,
	}
	if engine != nil {
		deps.Positions = engine
	}
	if influx != nil {
		deps.History = influx
	}
	server := api.NewServer(deps, api.Options{
		Listen:      cfg.API.Listen,
		SecretKey:   cfg.API.SecretKey,
		LogFile:     logFile,
		PrimaryUSDT: cfg.Balance.PrimaryUSDT,
		BuyOnce:     cfg.Balance.BuyOnce,
		Logger:      logger.Named("api"),
	})

	hub.Start(ctx)

	// Запускаем сборщики данных и фоновые задачи в отдельных горутинах
	dataCollectors := []exchange.DataCollector{
		exchange.NewPriceCollector(client, tracker, hub,
			time.Duration(cfg.Binance.PriceIntervalSeconds)*time.Second,
			time.Duration(cfg.Binance.StatsIntervalSeconds)*time.Second,
			logger.Named("collector")),
		snapshotter,
		server,
	}
	if watcher != nil {
		dataCollectors = append(dataCollectors, watcher)
	}

	var wg sync.WaitGroup
	for _, collector := range dataCollectors {
		collector := collector
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer collector.Stop()
			if err := collector.Start(ctx); err != nil {
				logger.Error("Ошибка фоновой задачи", zap.Error(err))
			}
		}()
	}

	if engine != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			engine.Run(ctx)
		}()
	}

	// UI блокирует основной поток, пока пользователь не выйдет
	var pos ui.PositionSource
	if engine != nil {
		pos = engine
	}
	if cfg.UI.Enabled {
		userInterface := ui.NewTermUI(cfg.UI, manager, pos, cfg.Balance, logFile)
		if err := userInterface.Start(ctx); err != nil {
			logger.Error("Ошибка пользовательского интерфейса", zap.Error(err))
		}
		cancel()
	}
	<-ctx.Done()

	hub.Stop()
	if engine != nil {
		engine.Stop()
	}
	wg.Wait()
	logger.Info("Работа завершена")
}
