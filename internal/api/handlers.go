package api

import (
	"bufio"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/skalibog/sigtrade/internal/execution"
	"github.com/skalibog/sigtrade/internal/signal"
	"github.com/skalibog/sigtrade/internal/storage"
	"github.com/skalibog/sigtrade/pkg/models"
)

const defaultLogLines = 200

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "time": time.Now().UTC()})
}

func (s *Server) getOrders(c *gin.Context) {
	c.JSON(http.StatusOK, s.deps.Portfolio.GetData())
}

func (s *Server) getVariantOrders(c *gin.Context) {
	id := c.Param("variant")
	ledger, ok := s.deps.Portfolio.Orders(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "вариант не найден", "variant": id})
		return
	}
	c.JSON(http.StatusOK, ledger.Sorted())
}

func (s *Server) getBalances(c *gin.Context) {
	total, err := floatQuery(c, "total", s.opts.PrimaryUSDT)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	buyOnce, err := floatQuery(c, "buyOnce", s.opts.BuyOnce)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, s.deps.Portfolio.Rank(total, buyOnce))
}

func (s *Server) getPositions(c *gin.Context) {
	if s.deps.Positions == nil {
		c.JSON(http.StatusOK, []*execution.Position{})
		return
	}
	c.JSON(http.StatusOK, s.deps.Positions.Positions())
}

// getHistory отдает точки баланса варианта за период, по умолчанию 24 часа
func (s *Server) getHistory(c *gin.Context) {
	if s.deps.History == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "история балансов не настроена"})
		return
	}
	since, err := time.ParseDuration(c.DefaultQuery("since", "24h"))
	if err != nil || since <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "некорректный since"})
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "500"))
	if err != nil || limit <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "некорректный limit"})
		return
	}

	history, err := s.deps.History.BalanceHistory(c.Request.Context(), c.Param("variant"), since, limit)
	if err != nil {
		s.logger.Error("Ошибка получения истории балансов", zap.String("variant", c.Param("variant")), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if history == nil {
		history = []storage.BalancePoint{}
	}
	c.JSON(http.StatusOK, history)
}

func (s *Server) getSignals(c *gin.Context) {
	c.JSON(http.StatusOK, s.deps.Signals.All())
}

func (s *Server) getPrices(c *gin.Context) {
	c.JSON(http.StatusOK, s.deps.Market.Prices())
}

func (s *Server) getSymbols(c *gin.Context) {
	c.JSON(http.StatusOK, s.deps.Market.Symbols())
}

// postSignal принимает JSON сигнала или текст сообщения канала
func (s *Server) postSignal(c *gin.Context) {
	var (
		sig *models.Signal
		err error
	)
	if strings.HasPrefix(c.ContentType(), "application/json") {
		sig = &models.Signal{}
		if err := c.ShouldBindJSON(sig); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		err = s.deps.Submitter.Submit(c.Request.Context(), sig)
	} else {
		body, readErr := io.ReadAll(c.Request.Body)
		if readErr != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": readErr.Error()})
			return
		}
		sig, err = s.deps.Submitter.SubmitText(c.Request.Context(), string(body), time.Now())
	}

	switch {
	case err == nil:
		c.JSON(http.StatusCreated, sig)
	case errors.Is(err, signal.ErrDuplicate):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, signal.ErrNotSignal), errors.Is(err, models.ErrInvalidSignal):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		s.logger.Error("Ошибка приема сигнала", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func (s *Server) save(c *gin.Context) {
	if s.deps.Saver == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "хранилище не настроено"})
		return
	}
	if err := s.deps.Saver.Save(c.Request.Context()); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "saved"})
}

// logs отдает последние записи JSON-лога
func (s *Server) logs(c *gin.Context) {
	limit := defaultLogLines
	if raw := c.Query("lines"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "lines должен быть положительным числом"})
			return
		}
		limit = n
	}

	entries, err := tailJSON(s.opts.LogFile, limit)
	if errors.Is(err, os.ErrNotExist) {
		c.JSON(http.StatusOK, []map[string]any{})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, entries)
}

// tailJSON читает последние limit строк JSON-лога. Нечитаемые строки пропускаются.
func tailJSON(path string, limit int) ([]map[string]any, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	ring := make([]string, 0, limit)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		if len(ring) == limit {
			ring = ring[1:]
		}
		ring = append(ring, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	entries := make([]map[string]any, 0, len(ring))
	for _, line := range ring {
		var entry map[string]any
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func floatQuery(c *gin.Context, key string, fallback float64) (float64, error) {
	raw := c.Query(key)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || v < 0 {
		return 0, errors.New(key + " должен быть неотрицательным числом")
	}
	return v, nil
}
