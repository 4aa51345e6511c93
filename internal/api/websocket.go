package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// PriceMessage сообщение потока цен
type PriceMessage struct {
	Symbol string    `json:"symbol"`
	Price  float64   `json:"price"`
	Time   time.Time `json:"time"`
}

// priceStream раз в интервал отправляет цену запрошенного символа
func (s *Server) priceStream(c *gin.Context) {
	symbol := strings.ToUpper(c.Query("symbol"))
	if symbol == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "не указан symbol"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("Ошибка открытия websocket", zap.Error(err))
		return
	}
	defer conn.Close()

	// чтение нужно, чтобы заметить закрытие соединения клиентом
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(s.opts.StreamInterval)
	defer ticker.Stop()

	send := func() bool {
		price, ok := s.deps.Market.Price(symbol)
		if !ok {
			return true
		}
		if err := conn.WriteJSON(PriceMessage{Symbol: symbol, Price: price, Time: time.Now().UTC()}); err != nil {
			s.logger.Debug("Поток цен закрыт", zap.String("symbol", symbol), zap.Error(err))
			return false
		}
		return true
	}

	if !send() {
		return
	}
	for {
		select {
		case <-ticker.C:
			if !send() {
				return
			}
		case <-closed:
			return
		case <-c.Request.Context().Done():
			return
		}
	}
}
