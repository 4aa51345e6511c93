package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"
)

// Config представляет полную конфигурацию приложения
type Config struct {
	Binance  BinanceConfig  `yaml:"binance"`
	Trading  TradingConfig  `yaml:"trading"`
	Strategy StrategyConfig `yaml:"strategy"`
	Balance  BalanceConfig  `yaml:"balance"`
	NewCoin  NewCoinConfig  `yaml:"new_coin"`
	Storage  StorageConfig  `yaml:"storage"`
	API      APIConfig      `yaml:"api"`
	Log      LogConfig      `yaml:"log"`
	UI       UIConfig       `yaml:"ui"`
}

// BinanceConfig содержит настройки подключения к Binance
type BinanceConfig struct {
	APIKey               string  `yaml:"api_key"`
	APISecret            string  `yaml:"api_secret"`
	Testnet              bool    `yaml:"testnet"`
	RecvWindowMs         int64   `yaml:"recv_window_ms"`
	RequestsPerSecond    float64 `yaml:"requests_per_second"`
	PriceIntervalSeconds int     `yaml:"price_interval_seconds"`
	StatsIntervalSeconds int     `yaml:"stats_interval_seconds"`
}

// TradingConfig содержит настройки реальной торговли
type TradingConfig struct {
	Enabled               bool     `yaml:"enabled"`
	CoinExceptions        []string `yaml:"coin_exceptions"`
	RatioTradeOnce        float64  `yaml:"ratio_trade_once"`
	MarketStressThreshold float64  `yaml:"market_stress_threshold"`
	TransferRetries       int      `yaml:"transfer_retries"`
	TransferBackoffMs     int      `yaml:"transfer_backoff_ms"`
	SettleDelayMs         int      `yaml:"settle_delay_ms"`
	WatchIntervalSeconds  int      `yaml:"watch_interval_seconds"`
	MaxIsolatedPairs      int      `yaml:"max_isolated_pairs"`
	EssentialPairs        []string `yaml:"essential_pairs"`
	QuoteAsset            string   `yaml:"quote_asset"`
}

// StrategyConfig задает измерения правил для портфеля вариантов
type StrategyConfig struct {
	BuyRules          []string `yaml:"buy_rules"`
	SellRules         []string `yaml:"sell_rules"`
	StopRules         []string `yaml:"stop_rules"`
	LeverageRules     []string `yaml:"leverage_rules"`
	BuyOrderLifetimeH int      `yaml:"buy_order_lifetime_hours"`
	TrailingPercent   float64  `yaml:"trailing_percent"`
	EMAPeriod         int      `yaml:"ema_period"`
	PriceHistorySize  int      `yaml:"price_history_size"`
	SignalQueueSize   int      `yaml:"signal_queue_size"`
	PriceQueueSize    int      `yaml:"price_queue_size"`
}

// BalanceConfig параметры расчета балансов по умолчанию
type BalanceConfig struct {
	PrimaryUSDT float64 `yaml:"primary_usdt"`
	BuyOnce     float64 `yaml:"buy_once"`
}

// NewCoinConfig настройки наблюдения за новыми листингами
type NewCoinConfig struct {
	Enabled         bool   `yaml:"enabled"`
	URL             string `yaml:"url"`
	IntervalMinutes int    `yaml:"interval_minutes"`
	WindowHours     int    `yaml:"window_hours"`
}

// StorageConfig настройки хранения данных
type StorageConfig struct {
	DataDir                 string       `yaml:"data_dir"`
	SnapshotIntervalSeconds int          `yaml:"snapshot_interval_seconds"`
	Influx                  InfluxConfig `yaml:"influx"`
}

// InfluxConfig настройки InfluxDB для истории балансов
type InfluxConfig struct {
	URL          string `yaml:"url"`
	Token        string `yaml:"token"`
	Organization string `yaml:"organization"`
	Bucket       string `yaml:"bucket"`
}

// APIConfig настройки HTTP API
type APIConfig struct {
	Listen    string `yaml:"listen"`
	SecretKey string `yaml:"secret_key"`
}

// LogConfig настройки логирования
type LogConfig struct {
	Dir     string `yaml:"dir"`
	Level   string `yaml:"level"`
	Console bool   `yaml:"console"`
}

// UIConfig настройки пользовательского интерфейса
type UIConfig struct {
	Enabled     bool `yaml:"enabled"`
	RefreshRate int  `yaml:"refresh_rate_ms"`
	TopVariants int  `yaml:"top_variants"`
}

// Load загружает конфигурацию из файла, затем применяет .env и переменные окружения
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения файла конфигурации: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}

	// .env необязателен
	_ = godotenv.Load()
	cfg.applyEnv()
	cfg.applyDefaults()

	return cfg, nil
}

// Parse разбирает YAML без обращения к окружению
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("ошибка разбора файла конфигурации: %w", err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

// applyEnv переопределяет секреты и торговые параметры из окружения
func (c *Config) applyEnv() {
	if v := os.Getenv("BINANCE_API_KEY"); v != "" {
		c.Binance.APIKey = v
	}
	if v := os.Getenv("BINANCE_SEC_KEY"); v != "" {
		c.Binance.APISecret = v
	}
	if v := os.Getenv("API_SECRET_KEY"); v != "" {
		c.API.SecretKey = v
	}
	if v := os.Getenv("COIN_EXCEPTION"); v != "" {
		c.Trading.CoinExceptions = splitList(v)
	}
	if v := os.Getenv("RATIO_TRADE_ONCE"); v != "" {
		if ratio, err := strconv.ParseFloat(v, 64); err == nil {
			c.Trading.RatioTradeOnce = ratio
		}
	}
	if v := os.Getenv("DATA_DIR"); v != "" {
		c.Storage.DataDir = v
	}
}

func (c *Config) applyDefaults() {
	if c.Binance.RecvWindowMs == 0 {
		c.Binance.RecvWindowMs = 5000
	}
	if c.Binance.RequestsPerSecond == 0 {
		c.Binance.RequestsPerSecond = 10
	}
	if c.Binance.PriceIntervalSeconds == 0 {
		c.Binance.PriceIntervalSeconds = 10
	}
	if c.Binance.StatsIntervalSeconds == 0 {
		c.Binance.StatsIntervalSeconds = 300
	}

	if c.Trading.RatioTradeOnce == 0 {
		c.Trading.RatioTradeOnce = 0.5
	}
	if c.Trading.MarketStressThreshold == 0 {
		c.Trading.MarketStressThreshold = -7
	}
	if c.Trading.TransferRetries == 0 {
		c.Trading.TransferRetries = 3
	}
	if c.Trading.TransferBackoffMs == 0 {
		c.Trading.TransferBackoffMs = 2000
	}
	if c.Trading.SettleDelayMs == 0 {
		c.Trading.SettleDelayMs = 5000
	}
	if c.Trading.WatchIntervalSeconds == 0 {
		c.Trading.WatchIntervalSeconds = 10
	}
	if c.Trading.MaxIsolatedPairs == 0 {
		c.Trading.MaxIsolatedPairs = 10
	}
	if c.Trading.QuoteAsset == "" {
		c.Trading.QuoteAsset = "USDT"
	}

	if len(c.Strategy.BuyRules) == 0 {
		c.Strategy.BuyRules = []string{"urgent", "ote", "min", "ema"}
	}
	if len(c.Strategy.SellRules) == 0 {
		c.Strategy.SellRules = []string{"shortest", "shortmax", "midfirst", "midmax", "maxtarget"}
	}
	if len(c.Strategy.StopRules) == 0 {
		c.Strategy.StopRules = []string{"fixed", "trailing", "ladder"}
	}
	if len(c.Strategy.LeverageRules) == 0 {
		c.Strategy.LeverageRules = []string{"high", "normal", "none"}
	}
	if c.Strategy.BuyOrderLifetimeH == 0 {
		c.Strategy.BuyOrderLifetimeH = 24
	}
	if c.Strategy.TrailingPercent == 0 {
		c.Strategy.TrailingPercent = 5
	}
	if c.Strategy.EMAPeriod == 0 {
		c.Strategy.EMAPeriod = 20
	}
	if c.Strategy.PriceHistorySize == 0 {
		c.Strategy.PriceHistorySize = 200
	}
	if c.Strategy.SignalQueueSize == 0 {
		c.Strategy.SignalQueueSize = 64
	}
	if c.Strategy.PriceQueueSize == 0 {
		c.Strategy.PriceQueueSize = 8
	}

	if c.Balance.PrimaryUSDT == 0 {
		c.Balance.PrimaryUSDT = 6000
	}
	if c.Balance.BuyOnce == 0 {
		c.Balance.BuyOnce = 2000
	}

	if c.NewCoin.URL == "" {
		c.NewCoin.URL = "https://www.binance.com/bapi/composite/v1/public/cms/article/catalog/list/query?catalogId=48&pageNo=1&pageSize=100"
	}
	if c.NewCoin.IntervalMinutes == 0 {
		c.NewCoin.IntervalMinutes = 30
	}
	if c.NewCoin.WindowHours == 0 {
		c.NewCoin.WindowHours = 24
	}

	if c.Storage.DataDir == "" {
		c.Storage.DataDir = "./data"
	}
	if c.Storage.SnapshotIntervalSeconds == 0 {
		c.Storage.SnapshotIntervalSeconds = 60
	}

	if c.API.Listen == "" {
		c.API.Listen = ":3333"
	}
	if c.Log.Dir == "" {
		c.Log.Dir = c.Storage.DataDir
	}
	if c.UI.RefreshRate == 0 {
		c.UI.RefreshRate = 1000
	}
	if c.UI.TopVariants == 0 {
		c.UI.TopVariants = 15
	}
}

// BuyOrderLifetime срок жизни неисполненного ордера на покупку
func (s StrategyConfig) BuyOrderLifetime() time.Duration {
	return time.Duration(s.BuyOrderLifetimeH) * time.Hour
}

// TransferBackoff пауза между попытками перевода
func (t TradingConfig) TransferBackoff() time.Duration {
	return time.Duration(t.TransferBackoffMs) * time.Millisecond
}

// SettleDelay пауза перед возвратом средств на спот
func (t TradingConfig) SettleDelay() time.Duration {
	return time.Duration(t.SettleDelayMs) * time.Millisecond
}

// WatchInterval интервал опроса ордеров
func (t TradingConfig) WatchInterval() time.Duration {
	return time.Duration(t.WatchIntervalSeconds) * time.Second
}

func splitList(value string) []string {
	var result []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			result = append(result, item)
		}
	}
	return result
}
