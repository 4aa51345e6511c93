package rules

import (
	"sort"

	"github.com/skalibog/sigtrade/pkg/models"
)

// DynamicStopLoss возвращает ступень лестницы на две позиции ниже текущей цены.
// Лестница: верхняя граница входа, затем цели по возрастанию. Если цена прошла
// меньше двух ступеней, правило ничего не добавляет и возвращает 0.
func DynamicStopLoss(s *models.Signal, price float64) float64 {
	points := LadderPoints(s)

	passed := 0
	for _, p := range points {
		if p > price {
			break
		}
		passed++
	}

	if passed < 2 {
		return 0
	}
	return points[passed-2]
}

// LadderPoints возвращает ступени: вход, затем цели выше входа по возрастанию
func LadderPoints(s *models.Signal) []float64 {
	entry := s.EntryHigh()
	targets := make([]float64, 0, len(s.Targets()))
	for _, t := range s.Targets() {
		if t > entry {
			targets = append(targets, t)
		}
	}
	sort.Float64s(targets)

	points := make([]float64, 0, len(targets)+1)
	if entry > 0 {
		points = append(points, entry)
	}
	return append(points, targets...)
}
