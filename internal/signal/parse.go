// Package signal разбирает сообщения канала в сигналы и раздает события подписчикам.
package signal

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/skalibog/sigtrade/pkg/models"
)

// ErrNotSignal сообщение не является сигналом
var ErrNotSignal = errors.New("сообщение не содержит сигнал")

// Parse разбирает текст сообщения вида:
//
//	📍SIGNAL ID: 0424📍
//	COIN: $FIL/USDT (3-5x)
//	Direction: LONG📈
//	ENTRY: 81 - 84.5
//	OTE: 82.77
//	Short Term: 85.50 - 86.5 - 88 - 90
//	Mid Term: 94 - 100 - 110 - 120
//	Long Term: 135 - 150
//	STOP LOSS: 75.67
//
// OTE ограничивается сверху средним значением границ входа.
func Parse(text string, createdAt time.Time) (*models.Signal, error) {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	for i := range lines {
		lines[i] = strings.TrimSpace(lines[i])
	}
	if len(lines) < 2 || !strings.Contains(lines[0], "SIGNAL ID:") {
		return nil, ErrNotSignal
	}

	s := &models.Signal{CreatedAt: createdAt}

	id, err := parseSignalID(lines[0])
	if err != nil {
		return nil, err
	}
	s.SignalID = id

	if s.Coin, s.Leverage, err = parseCoin(lines[1]); err != nil {
		return nil, err
	}

	s.Direction, _ = findLine(lines, "Direction:")
	if s.Direction == "" {
		return nil, fmt.Errorf("%w: нет Direction", models.ErrInvalidSignal)
	}

	entry, ok := findLine(lines, "ENTRY:")
	if !ok {
		return nil, fmt.Errorf("%w: нет ENTRY", models.ErrInvalidSignal)
	}
	if s.Entry, err = splitValues(entry); err != nil {
		return nil, err
	}

	if s.OTE, err = parseValue(lines, "OTE:"); err != nil {
		return nil, err
	}
	if s.StopLoss, err = parseValue(lines, "STOP LOSS:"); err != nil {
		return nil, err
	}

	for _, term := range []struct {
		key    string
		target *[]float64
	}{
		{"Short Term:", &s.Terms.Short},
		{"Mid Term:", &s.Terms.Mid},
		{"Long Term:", &s.Terms.Long},
	} {
		value, _ := findLine(lines, term.key)
		if *term.target, err = splitValues(value); err != nil {
			return nil, err
		}
	}

	if avg := s.EntryAverage(); avg > 0 {
		s.OTE = min(s.OTE, avg)
	}

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func parseSignalID(line string) (string, error) {
	_, raw, _ := strings.Cut(line, "SIGNAL ID:")
	raw = strings.TrimSpace(strings.ReplaceAll(raw, "📍", ""))
	id, err := strconv.Atoi(raw)
	if err != nil {
		return "", fmt.Errorf("%w: signal id %q", models.ErrInvalidSignal, raw)
	}
	return strconv.Itoa(id), nil
}

// parseCoin разбирает строку "COIN: $FIL/USDT (3-5x)"
func parseCoin(line string) (string, []float64, error) {
	fields := strings.Fields(line)
	if len(fields) < 2 || fields[0] != "COIN:" {
		return "", nil, fmt.Errorf("%w: строка монеты %q", models.ErrInvalidSignal, line)
	}
	coin := strings.NewReplacer("$", "", "/", "").Replace(fields[1])

	leverage := []float64{1}
	if len(fields) > 2 {
		raw := strings.NewReplacer("(", "", ")", "", "x", "", "X", "").Replace(fields[2])
		values, err := splitValues(raw)
		if err != nil {
			return "", nil, err
		}
		if len(values) > 0 {
			leverage = values
		}
	}
	return strings.ToUpper(coin), leverage, nil
}

func findLine(lines []string, key string) (string, bool) {
	for _, line := range lines {
		if strings.HasPrefix(line, key) {
			return strings.TrimSpace(strings.TrimPrefix(line, key)), true
		}
	}
	return "", false
}

func parseValue(lines []string, key string) (float64, error) {
	raw, ok := findLine(lines, key)
	if !ok {
		return 0, fmt.Errorf("%w: нет %s", models.ErrInvalidSignal, strings.TrimSuffix(key, ":"))
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s %q", models.ErrInvalidSignal, key, raw)
	}
	return v, nil
}

func splitValues(raw string) ([]float64, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	parts := strings.Split(raw, "-")
	values := make([]float64, 0, len(parts))
	for _, part := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return nil, fmt.Errorf("%w: значение %q", models.ErrInvalidSignal, part)
		}
		values = append(values, v)
	}
	return values, nil
}
