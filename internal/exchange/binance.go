package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/adshao/go-binance/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/skalibog/sigtrade/internal/config"
	"github.com/skalibog/sigtrade/internal/metrics"
	"github.com/skalibog/sigtrade/pkg/models"
)

const (
	mainnetURL = "https://api.binance.com"
	testnetURL = "https://testnet.binance.vision"
)

// BinanceClient клиент для спота и изолированной маржи Binance
type BinanceClient struct {
	spot       *binance.Client
	http       *http.Client
	baseURL    string
	apiKey     string
	apiSecret  string
	recvWindow int64
	limiter    *rate.Limiter
	logger     *zap.Logger

	mu      sync.RWMutex
	filters map[string]SymbolFilters
	offset  int64 // смещение времени сервера, мс
}

// NewBinanceClient создает новый клиент Binance
func NewBinanceClient(cfg config.BinanceConfig, logger *zap.Logger) (*BinanceClient, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	binance.UseTestnet = cfg.Testnet
	baseURL := mainnetURL
	if cfg.Testnet {
		baseURL = testnetURL
	}

	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 10
	}

	return &BinanceClient{
		spot:       binance.NewClient(cfg.APIKey, cfg.APISecret),
		http:       &http.Client{Timeout: 10 * time.Second},
		baseURL:    baseURL,
		apiKey:     cfg.APIKey,
		apiSecret:  cfg.APISecret,
		recvWindow: cfg.RecvWindowMs,
		limiter:    rate.NewLimiter(rate.Limit(rps), max(int(rps), 1)),
		logger:     logger,
		filters:    make(map[string]SymbolFilters),
	}, nil
}

// wait ждет свободный слот лимита запросов
func (c *BinanceClient) wait(ctx context.Context) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("ожидание лимита запросов: %w", err)
	}
	return nil
}

// fail фиксирует ошибку обращения к бирже
func (c *BinanceClient) fail(operation string, err error) error {
	metrics.IncExchangeError(operation)
	return fmt.Errorf("%s: %w", operation, err)
}

// signed опции подписанных запросов библиотеки
func (c *BinanceClient) signed() []binance.RequestOption {
	if c.recvWindow <= 0 {
		return nil
	}
	return []binance.RequestOption{binance.WithRecvWindow(c.recvWindow)}
}

// SyncTime синхронизирует смещение времени с сервером
func (c *BinanceClient) SyncTime(ctx context.Context) error {
	if err := c.wait(ctx); err != nil {
		return err
	}
	offset, err := c.spot.NewSetServerTimeService().Do(ctx)
	if err != nil {
		return c.fail("syncTime", err)
	}

	c.mu.Lock()
	c.offset = offset
	c.mu.Unlock()

	c.logger.Info("Время сервера синхронизировано", zap.Int64("offsetMs", offset))
	return nil
}

// Prices получает последние цены всех символов
func (c *BinanceClient) Prices(ctx context.Context) (models.Prices, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	list, err := c.spot.NewListPricesService().Do(ctx)
	if err != nil {
		return nil, c.fail("prices", err)
	}

	prices := make(models.Prices, len(list))
	for _, p := range list {
		if v, err := strconv.ParseFloat(p.Price, 64); err == nil {
			prices[p.Symbol] = v
		}
	}
	return prices, nil
}

// DailyChanges получает изменение цены за 24 часа в процентах
func (c *BinanceClient) DailyChanges(ctx context.Context) (map[string]float64, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	stats, err := c.spot.NewListPriceChangeStatsService().Do(ctx)
	if err != nil {
		return nil, c.fail("dailyChanges", err)
	}

	changes := make(map[string]float64, len(stats))
	for _, s := range stats {
		if v, err := strconv.ParseFloat(s.PriceChangePercent, 64); err == nil {
			changes[s.Symbol] = v
		}
	}
	return changes, nil
}

// AccountBalance свободный остаток актива на спот-счете
func (c *BinanceClient) AccountBalance(ctx context.Context, asset string) (float64, error) {
	if err := c.wait(ctx); err != nil {
		return 0, err
	}
	account, err := c.spot.NewGetAccountService().Do(ctx)
	if err != nil {
		return 0, c.fail("accountBalance", err)
	}
	for _, b := range account.Balances {
		if b.Asset == asset {
			return parseFloat(b.Free), nil
		}
	}
	return 0, nil
}

// Filters возвращает шаги цены и количества символа. Результат кэшируется.
func (c *BinanceClient) Filters(ctx context.Context, symbol string) (SymbolFilters, error) {
	c.mu.RLock()
	f, ok := c.filters[symbol]
	c.mu.RUnlock()
	if ok {
		return f, nil
	}

	if err := c.wait(ctx); err != nil {
		return SymbolFilters{}, err
	}
	info, err := c.spot.NewExchangeInfoService().Symbol(symbol).Do(ctx)
	if err != nil {
		return SymbolFilters{}, c.fail("exchangeInfo", err)
	}

	for _, s := range info.Symbols {
		if s.Symbol != symbol {
			continue
		}
		f = SymbolFilters{Symbol: s.Symbol, BaseAsset: s.BaseAsset, QuoteAsset: s.QuoteAsset}
		if lot := s.LotSizeFilter(); lot != nil {
			f.StepSize = parseFloat(lot.StepSize)
		}
		if pf := s.PriceFilter(); pf != nil {
			f.TickSize = parseFloat(pf.TickSize)
		}

		c.mu.Lock()
		c.filters[symbol] = f
		c.mu.Unlock()
		return f, nil
	}
	return SymbolFilters{}, fmt.Errorf("символ %s не найден в exchange info", symbol)
}

// MarketBuy рыночная покупка в изолированной марже с автоматическим заемом
func (c *BinanceClient) MarketBuy(ctx context.Context, req MarketBuyRequest) (*Order, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	res, err := c.spot.NewCreateMarginOrderService().
		Symbol(req.Symbol).
		IsIsolated(true).
		Side(binance.SideTypeBuy).
		Type(binance.OrderTypeMarket).
		QuoteOrderQty(formatFloat(req.QuoteQty)).
		SideEffectType(binance.SideEffectTypeMarginBuy).
		NewClientOrderID(req.ClientOrderID).
		Do(ctx, c.signed()...)
	if err != nil {
		return nil, c.fail("marketBuy", err)
	}

	return &Order{
		Symbol:        res.Symbol,
		OrderID:       res.OrderID,
		ClientOrderID: res.ClientOrderID,
		Side:          SideBuy,
		Status:        OrderStatus(res.Status),
		ExecutedQty:   parseFloat(res.ExecutedQuantity),
		CumQuoteQty:   parseFloat(res.CummulativeQuoteQuantity),
	}, nil
}

// GetOrder получает состояние ордера изолированной маржи
func (c *BinanceClient) GetOrder(ctx context.Context, symbol string, orderID int64) (*Order, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	o, err := c.spot.NewGetMarginOrderService().
		Symbol(symbol).
		IsIsolated(true).
		OrderID(orderID).
		Do(ctx, c.signed()...)
	if err != nil {
		return nil, c.fail("getOrder", err)
	}

	return &Order{
		Symbol:        o.Symbol,
		OrderID:       o.OrderID,
		ClientOrderID: o.ClientOrderID,
		Side:          OrderSide(o.Side),
		Status:        OrderStatus(o.Status),
		ExecutedQty:   parseFloat(o.ExecutedQuantity),
		CumQuoteQty:   parseFloat(o.CummulativeQuoteQuantity),
	}, nil
}

// CancelOrder отменяет ордер изолированной маржи. Отмена одной ноги OCO отменяет весь список.
func (c *BinanceClient) CancelOrder(ctx context.Context, symbol string, orderID int64) error {
	if err := c.wait(ctx); err != nil {
		return err
	}
	_, err := c.spot.NewCancelMarginOrderService().
		Symbol(symbol).
		IsIsolated(true).
		OrderID(orderID).
		Do(ctx, c.signed()...)
	if err != nil {
		return c.fail("cancelOrder", err)
	}
	return nil
}

// IsolatedAccount получает состояние изолированного счета пары
func (c *BinanceClient) IsolatedAccount(ctx context.Context, symbol string) (*IsolatedAccount, error) {
	accounts, err := c.isolatedAccounts(ctx, symbol)
	if err != nil {
		return nil, err
	}
	for _, a := range accounts {
		if a.Symbol == symbol {
			return a, nil
		}
	}
	return nil, fmt.Errorf("изолированный счет %s не найден", symbol)
}

// IsolatedPairs возвращает включенные изолированные пары
func (c *BinanceClient) IsolatedPairs(ctx context.Context) ([]string, error) {
	accounts, err := c.isolatedAccounts(ctx)
	if err != nil {
		return nil, err
	}
	pairs := make([]string, 0, len(accounts))
	for _, a := range accounts {
		if a.Enabled {
			pairs = append(pairs, a.Symbol)
		}
	}
	return pairs, nil
}

func (c *BinanceClient) isolatedAccounts(ctx context.Context, symbols ...string) ([]*IsolatedAccount, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	svc := c.spot.NewGetIsolatedMarginAccountService()
	if len(symbols) > 0 {
		svc = svc.Symbols(symbols...)
	}
	res, err := svc.Do(ctx, c.signed()...)
	if err != nil {
		return nil, c.fail("isolatedAccount", err)
	}

	accounts := make([]*IsolatedAccount, 0, len(res.Assets))
	for _, a := range res.Assets {
		accounts = append(accounts, &IsolatedAccount{
			Symbol:  a.Symbol,
			Enabled: a.Enabled,
			Base:    marginAsset(a.BaseAsset),
			Quote:   marginAsset(a.QuoteAsset),
		})
	}
	return accounts, nil
}

func marginAsset(a binance.IsolatedUserAsset) MarginAsset {
	return MarginAsset{
		Asset:    a.Asset,
		Free:     parseFloat(a.Free),
		Locked:   parseFloat(a.Locked),
		Borrowed: parseFloat(a.Borrowed),
		Interest: parseFloat(a.Interest),
		NetAsset: parseFloat(a.NetAsset),
	}
}

// MaxBorrowable максимальный заем актива в изолированной паре
func (c *BinanceClient) MaxBorrowable(ctx context.Context, symbol, asset string) (float64, error) {
	if err := c.wait(ctx); err != nil {
		return 0, err
	}
	res, err := c.spot.NewGetMaxBorrowableService().
		Asset(asset).
		IsolatedSymbol(symbol).
		Do(ctx, c.signed()...)
	if err != nil {
		return 0, c.fail("maxBorrowable", err)
	}
	return parseFloat(res.Amount), nil
}

// TransferToMargin переводит актив со спота на изолированный счет пары
func (c *BinanceClient) TransferToMargin(ctx context.Context, symbol, asset string, amount float64) error {
	return c.transfer(ctx, symbol, asset, amount, binance.AccountTypeSpot, binance.AccountTypeIsolatedMargin)
}

// TransferToSpot переводит актив с изолированного счета пары на спот
func (c *BinanceClient) TransferToSpot(ctx context.Context, symbol, asset string, amount float64) error {
	return c.transfer(ctx, symbol, asset, amount, binance.AccountTypeIsolatedMargin, binance.AccountTypeSpot)
}

func (c *BinanceClient) transfer(ctx context.Context, symbol, asset string, amount float64, from, to binance.AccountType) error {
	if err := c.wait(ctx); err != nil {
		return err
	}
	_, err := c.spot.NewIsolatedMarginTransferService().
		Symbol(symbol).
		Asset(asset).
		TransFrom(from).
		TransTo(to).
		Amount(formatFloat(amount)).
		Do(ctx, c.signed()...)
	if err != nil {
		return c.fail("transfer", err)
	}
	return nil
}

// EnablePair создает или включает изолированную пару
func (c *BinanceClient) EnablePair(ctx context.Context, symbol string) error {
	params := url.Values{}
	params.Set("symbol", symbol)
	if _, err := c.doSigned(ctx, http.MethodPost, "/sapi/v1/margin/isolated/account", params); err != nil {
		return c.fail("enablePair", err)
	}
	return nil
}

// DisablePair выключает изолированную пару и освобождает слот
func (c *BinanceClient) DisablePair(ctx context.Context, symbol string) error {
	params := url.Values{}
	params.Set("symbol", symbol)
	if _, err := c.doSigned(ctx, http.MethodDelete, "/sapi/v1/margin/isolated/account", params); err != nil {
		return c.fail("disablePair", err)
	}
	return nil
}

// PairLimit возвращает число включенных и максимально допустимых изолированных пар
func (c *BinanceClient) PairLimit(ctx context.Context) (enabled, limit int, err error) {
	body, err := c.doSigned(ctx, http.MethodGet, "/sapi/v1/margin/isolated/accountLimit", url.Values{})
	if err != nil {
		return 0, 0, c.fail("pairLimit", err)
	}
	var res struct {
		EnabledAccount int `json:"enabledAccount"`
		MaxAccount     int `json:"maxAccount"`
	}
	if err := json.Unmarshal(body, &res); err != nil {
		return 0, 0, fmt.Errorf("ошибка разбора лимита пар: %w", err)
	}
	return res.EnabledAccount, res.MaxAccount, nil
}

// PlaceOCO выставляет продажу OCO в изолированной марже с автоматическим погашением
func (c *BinanceClient) PlaceOCO(ctx context.Context, req OCORequest) (*Order, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	svc := c.spot.NewCreateMarginOCOService().
		Symbol(req.Symbol).
		IsIsolated(true).
		Side(binance.SideTypeSell).
		Quantity(formatFloat(req.Quantity)).
		Price(formatFloat(req.Price)).
		StopPrice(formatFloat(req.StopPrice)).
		StopLimitPrice(formatFloat(req.StopLimitPrice)).
		StopLimitTimeInForce(binance.TimeInForceTypeGTC).
		SideEffectType(binance.SideEffectTypeAutoRepay)
	if req.ClientOrderID != "" {
		svc = svc.ListClientOrderID(req.ClientOrderID)
	}

	res, err := svc.Do(ctx, c.signed()...)
	if err != nil {
		return nil, c.fail("placeOCO", err)
	}
	if len(res.OrderReports) == 0 {
		return nil, fmt.Errorf("пустой ответ OCO для %s", req.Symbol)
	}

	report := res.OrderReports[0]
	return &Order{
		Symbol:        report.Symbol,
		OrderID:       report.OrderID,
		ClientOrderID: report.ClientOrderID,
		Side:          SideSell,
		Status:        OrderStatus(report.Status),
		ExecutedQty:   parseFloat(report.ExecutedQuantity),
		CumQuoteQty:   parseFloat(report.CummulativeQuoteQuantity),
	}, nil
}

// doSigned подписывает запрос к SAPI и выполняет его
func (c *BinanceClient) doSigned(ctx context.Context, method, path string, params url.Values) ([]byte, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}

	c.mu.RLock()
	offset := c.offset
	c.mu.RUnlock()

	params.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli()+offset, 10))
	if c.recvWindow > 0 {
		params.Set("recvWindow", strconv.FormatInt(c.recvWindow, 10))
	}
	params.Set("signature", sign(params.Encode(), c.apiSecret))
	encoded := params.Encode()

	var (
		req *http.Request
		err error
	)
	switch method {
	case http.MethodGet, http.MethodDelete:
		req, err = http.NewRequestWithContext(ctx, method, c.baseURL+path+"?"+encoded, nil)
	default:
		req, err = http.NewRequestWithContext(ctx, method, c.baseURL+path, strings.NewReader(encoded))
		if req != nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	}
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-MBX-APIKEY", c.apiKey)

	res, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, err
	}
	if res.StatusCode >= 300 {
		return nil, fmt.Errorf("binance %s %s status %d: %s", method, path, res.StatusCode, string(body))
	}
	return body, nil
}

func sign(data, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(data))
	return hex.EncodeToString(h.Sum(nil))
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func parseFloat(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}
