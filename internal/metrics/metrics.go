// Package metrics содержит метрики Prometheus, которые обновляют компоненты.
//
// Метрики регистрируются в init() и отдаются API по адресу /metrics:
//   - sigtrade_signals_total{result}              сигналы по результату (accepted|invalid|rejected)
//   - sigtrade_variant_transitions_total{type,status} переходы ордеров симуляции
//   - sigtrade_live_orders_total{side,result}     реальные ордера (placed|filled|failed)
//   - sigtrade_exchange_errors_total{operation}   ошибки обращений к бирже
//   - sigtrade_dropped_ticks_total{sink}          сброшенные тики цен из-за переполненной очереди
//   - sigtrade_snapshot_failures_total            ошибки сохранения снимков
//   - sigtrade_best_variant_balance_usdt          баланс лучшего варианта
//   - sigtrade_open_positions                     открытые реальные позиции
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	signals = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sigtrade_signals_total",
			Help: "Signals received, split by result",
		},
		[]string{"result"},
	)

	transitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sigtrade_variant_transitions_total",
			Help: "Simulated order transitions across all variants",
		},
		[]string{"type", "status"},
	)

	liveOrders = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sigtrade_live_orders_total",
			Help: "Live exchange orders, split by side and result",
		},
		[]string{"side", "result"},
	)

	exchangeErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sigtrade_exchange_errors_total",
			Help: "Failed exchange calls by operation",
		},
		[]string{"operation"},
	)

	droppedTicks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sigtrade_dropped_ticks_total",
			Help: "Price ticks dropped because a sink queue was full",
		},
		[]string{"sink"},
	)

	snapshotFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sigtrade_snapshot_failures_total",
			Help: "Failed periodic snapshots",
		},
	)

	bestBalance = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "sigtrade_best_variant_balance_usdt",
			Help: "Total balance of the best ranked variant",
		},
	)

	openPositions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "sigtrade_open_positions",
			Help: "Live positions waiting for an exchange fill",
		},
	)
)

func init() {
	prometheus.MustRegister(signals, transitions, liveOrders, exchangeErrors)
	prometheus.MustRegister(droppedTicks, snapshotFailures)
	prometheus.MustRegister(bestBalance, openPositions)
}

func IncSignal(result string)                { signals.WithLabelValues(result).Inc() }
func IncTransition(orderType, status string) { transitions.WithLabelValues(orderType, status).Inc() }
func IncLiveOrder(side, result string)       { liveOrders.WithLabelValues(side, result).Inc() }
func IncExchangeError(operation string)      { exchangeErrors.WithLabelValues(operation).Inc() }
func IncDroppedTick(sink string)             { droppedTicks.WithLabelValues(sink).Inc() }
func IncSnapshotFailure()                    { snapshotFailures.Inc() }
func SetBestBalance(v float64)               { bestBalance.Set(v) }
func SetOpenPositions(n int)                 { openPositions.Set(float64(n)) }
