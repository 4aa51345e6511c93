// internal/storage/influxdb.go
package storage

import (
	"context"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/skalibog/sigtrade/internal/config"
	"github.com/skalibog/sigtrade/internal/execution"
	"github.com/skalibog/sigtrade/internal/portfolio"
)

// BalancePoint значение баланса варианта в момент времени
type BalancePoint struct {
	Time  time.Time `json:"time"`
	Total float64   `json:"total"`
	Spot  float64   `json:"spot"`
	Loan  float64   `json:"loan"`
}

// InfluxDBStorage пишет историю балансов вариантов и живых позиций в InfluxDB
type InfluxDBStorage struct {
	client   influxdb2.Client
	queryAPI api.QueryAPI
	writeAPI api.WriteAPIBlocking
	org      string
	bucket   string
}

// NewInfluxDBStorage создает новое хранилище InfluxDB
func NewInfluxDBStorage(ctx context.Context, cfg config.InfluxConfig) (*InfluxDBStorage, error) {
	client := influxdb2.NewClient(cfg.URL, cfg.Token)

	// Проверка соединения
	health, err := client.Health(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("ошибка соединения с InfluxDB: %w", err)
	}
	if health == nil || health.Status != "pass" {
		client.Close()
		return nil, fmt.Errorf("InfluxDB не в состоянии 'pass': %+v", health)
	}

	return &InfluxDBStorage{
		client:   client,
		queryAPI: client.QueryAPI(cfg.Organization),
		writeAPI: client.WriteAPIBlocking(cfg.Organization, cfg.Bucket),
		org:      cfg.Organization,
		bucket:   cfg.Bucket,
	}, nil
}

// Close закрывает соединение с базой данных
func (s *InfluxDBStorage) Close() {
	s.client.Close()
}

// RecordBalances сохраняет балансы всех вариантов
func (s *InfluxDBStorage) RecordBalances(ctx context.Context, at time.Time, ranked []portfolio.Ranked) error {
	points := make([]*write.Point, 0, len(ranked))
	for i, r := range ranked {
		points = append(points, influxdb2.NewPoint(
			"variant_balance",
			map[string]string{"variant": r.ID},
			map[string]interface{}{
				"total": r.Balances.Total,
				"spot":  r.Balances.Spot,
				"loan":  r.Balances.Loan,
				"rank":  i + 1,
			},
			at,
		))
	}
	if len(points) == 0 {
		return nil
	}
	if err := s.writeAPI.WritePoint(ctx, points...); err != nil {
		return fmt.Errorf("ошибка записи балансов: %w", err)
	}
	return nil
}

// RecordPositions сохраняет состояние живых позиций
func (s *InfluxDBStorage) RecordPositions(ctx context.Context, at time.Time, positions []*execution.Position) error {
	points := make([]*write.Point, 0, len(positions))
	for _, p := range positions {
		points = append(points, influxdb2.NewPoint(
			"live_position",
			map[string]string{
				"symbol": p.Symbol,
				"side":   string(p.Side),
				"status": string(p.Status),
			},
			map[string]interface{}{
				"orderId":  p.OrderID,
				"price":    p.Price,
				"stopLoss": p.StopLoss,
				"quantity": p.Quantity,
				"target":   p.Target,
			},
			at,
		))
	}
	if len(points) == 0 {
		return nil
	}
	if err := s.writeAPI.WritePoint(ctx, points...); err != nil {
		return fmt.Errorf("ошибка записи позиций: %w", err)
	}
	return nil
}

// BalanceHistory получает историю баланса варианта
func (s *InfluxDBStorage) BalanceHistory(ctx context.Context, variant string, since time.Duration, limit int) ([]BalancePoint, error) {
	// Формируем Flux-запрос
	query := fmt.Sprintf(`
		from(bucket: "%s")
			|> range(start: -%ds)
			|> filter(fn: (r) => r._measurement == "variant_balance")
			|> filter(fn: (r) => r.variant == "%s")
			|> pivot(rowKey:["_time"], columnKey: ["_field"], valueColumn: "_value")
			|> sort(columns: ["_time"], desc: true)
			|> limit(n: %d)
	`, s.bucket, int64(since.Seconds()), variant, limit)

	result, err := s.queryAPI.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("ошибка запроса истории балансов: %w", err)
	}
	defer result.Close()

	var history []BalancePoint
	for result.Next() {
		record := result.Record()
		total, _ := record.ValueByKey("total").(float64)
		spot, _ := record.ValueByKey("spot").(float64)
		loan, _ := record.ValueByKey("loan").(float64)
		history = append(history, BalancePoint{Time: record.Time(), Total: total, Spot: spot, Loan: loan})
	}
	if result.Err() != nil {
		return nil, fmt.Errorf("ошибка обработки истории балансов: %w", result.Err())
	}

	// Переворачиваем, чтобы старые точки шли первыми
	for i, j := 0, len(history)-1; i < j; i, j = i+1, j-1 {
		history[i], history[j] = history[j], history[i]
	}
	return history, nil
}
