package ui

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/skalibog/sigtrade/internal/config"
	"github.com/skalibog/sigtrade/internal/exchange"
	"github.com/skalibog/sigtrade/internal/execution"
	"github.com/skalibog/sigtrade/internal/portfolio"
)

const maxLogLines = 50

// Стили UI
var (
	// Основные цвета
	primaryColor   = lipgloss.Color("#0077cc")
	secondaryColor = lipgloss.Color("#333333")
	errorColor     = lipgloss.Color("#cc3300")
	successColor   = lipgloss.Color("#33cc33")
	warningColor   = lipgloss.Color("#cccc00")
	// Главный контейнер
	appStyle = lipgloss.NewStyle().
			Padding(1, 2).
			Border(lipgloss.RoundedBorder()).
			BorderForeground(primaryColor)
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#ffffff")).
			Background(primaryColor).
			Padding(0, 1).
			Align(lipgloss.Center)
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#ffffff")).
			Background(secondaryColor).
			Padding(0, 1)
	sectionStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(secondaryColor).
			Padding(0, 1)
	footerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#999999")).
			Padding(0, 1)
)

var ansiRegex = regexp.MustCompile(`\x1b\[[0-9;]*m`)

// Ranker рейтинг вариантов
type Ranker interface {
	Rank(total, buyOnce float64) []portfolio.Ranked
}

// PositionSource живые позиции
type PositionSource interface {
	Positions() []*execution.Position
}

// TermUI представляет терминальный интерфейс
type TermUI struct {
	config    config.UIConfig
	ranker    Ranker
	positions PositionSource
	primary   float64
	buyOnce   float64
	logFile   string
	program   *tea.Program

	mu            sync.RWMutex
	ranked        []portfolio.Ranked
	live          []*execution.Position
	logs          []string
	selectedIndex int
	width         int
	height        int
}

// Сообщение для обновления UI
type refreshMsg time.Time

// bubbleModel - модель для bubbletea
type bubbleModel struct {
	ui *TermUI
}

// NewTermUI создает панель. positions может быть nil, если торговля выключена.
func NewTermUI(cfg config.UIConfig, ranker Ranker, positions PositionSource, balance config.BalanceConfig, logFile string) *TermUI {
	if cfg.RefreshRate <= 0 {
		cfg.RefreshRate = 1000
	}
	if cfg.TopVariants <= 0 {
		cfg.TopVariants = 15
	}
	return &TermUI{
		config:    cfg,
		ranker:    ranker,
		positions: positions,
		primary:   balance.PrimaryUSDT,
		buyOnce:   balance.BuyOnce,
		logFile:   logFile,
		logs:      []string{"sigtrade запущен. Ожидание данных..."},
		width:     120,
		height:    40,
	}
}

// Start запускает интерфейс и блокируется до выхода пользователя или отмены контекста
func (ui *TermUI) Start(ctx context.Context) error {
	ui.refresh()
	ui.program = tea.NewProgram(bubbleModel{ui: ui}, tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := ui.program.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return fmt.Errorf("ошибка запуска UI: %w", err)
	}
	return nil
}

// refresh обновляет снимок рейтинга, позиций и логов
func (ui *TermUI) refresh() {
	ranked := ui.ranker.Rank(ui.primary, ui.buyOnce)
	if len(ranked) > ui.config.TopVariants {
		ranked = ranked[:ui.config.TopVariants]
	}

	var live []*execution.Position
	if ui.positions != nil {
		for _, p := range ui.positions.Positions() {
			if p.IsOpen() {
				live = append(live, p)
			}
		}
	}

	logs, err := readLogTail(ui.logFile, maxLogLines)
	if err != nil {
		logs = []string{fmt.Sprintf("Ошибка загрузки логов: %v", err)}
	}

	ui.mu.Lock()
	defer ui.mu.Unlock()
	ui.ranked = ranked
	ui.live = live
	if len(logs) > 0 {
		ui.logs = logs
	}
	ui.selectedIndex = min(ui.selectedIndex, max(len(ranked)-1, 0))
}

func (ui *TermUI) tick() tea.Cmd {
	return tea.Tick(time.Duration(ui.config.RefreshRate)*time.Millisecond, func(t time.Time) tea.Msg {
		return refreshMsg(t)
	})
}

// readLogTail читает последние строки JSON-лога в читаемом виде
func readLogTail(path string, limit int) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			// Файл не существует, это не ошибка
			return nil, nil
		}
		return nil, err
	}
	defer file.Close()

	var logs []string
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		logs = append(logs, formatLogLine(scanner.Text()))
		if len(logs) > limit {
			logs = logs[1:]
		}
	}
	return logs, scanner.Err()
}

// formatLogLine превращает JSON-запись zap в строку "[время] [уровень] сообщение (поля)"
func formatLogLine(line string) string {
	var zapLog map[string]interface{}
	if err := json.Unmarshal([]byte(line), &zapLog); err != nil {
		return line
	}

	level, _ := zapLog["level"].(string)
	ts, _ := zapLog["ts"].(string)
	msg, _ := zapLog["msg"].(string)
	level = ansiRegex.ReplaceAllString(level, "")

	timestamp := ""
	if t, err := time.Parse("02.01.2006 - 15:04:05.999999999Z07:00", ts); err == nil {
		timestamp = t.Format("15:04:05")
	}

	keys := make([]string, 0, len(zapLog))
	for k := range zapLog {
		if k != "level" && k != "ts" && k != "msg" && k != "caller" && k != "logger" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	var b strings.Builder
	fmt.Fprintf(&b, "[%s] [%s] %s", timestamp, level, msg)
	for _, k := range keys {
		fmt.Fprintf(&b, " (%s: %v)", k, zapLog[k])
	}
	return b.String()
}

// Методы для bubbletea
func (m bubbleModel) Init() tea.Cmd {
	return m.ui.tick()
}

func (m bubbleModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "up":
			m.ui.mu.Lock()
			m.ui.selectedIndex = max(0, m.ui.selectedIndex-1)
			m.ui.mu.Unlock()
		case "down":
			m.ui.mu.Lock()
			m.ui.selectedIndex = min(max(len(m.ui.ranked)-1, 0), m.ui.selectedIndex+1)
			m.ui.mu.Unlock()
		case "r":
			m.ui.refresh()
		}

	case tea.WindowSizeMsg:
		m.ui.mu.Lock()
		m.ui.width = msg.Width
		m.ui.height = msg.Height
		m.ui.mu.Unlock()

	case refreshMsg:
		m.ui.refresh()
		return m, m.ui.tick()
	}

	return m, nil
}

func (m bubbleModel) View() string {
	m.ui.mu.RLock()
	defer m.ui.mu.RUnlock()

	title := titleStyle.Render("sigtrade - портфель вариантов сигналов")
	variants := renderVariantsSection(m.ui.ranked, m.ui.selectedIndex)
	positions := renderPositionsSection(m.ui.live, m.ui.positions != nil)
	logs := renderLogsSection(m.ui.logs, max(m.ui.height-len(m.ui.ranked)-len(m.ui.live)-20, 5))
	footer := footerStyle.Render("Клавиши: ↑/↓ - навигация, R - обновить, Q - выход")

	return appStyle.Render(
		lipgloss.JoinVertical(lipgloss.Left,
			title,
			"\n",
			variants,
			positions,
			logs,
			footer,
		),
	)
}

func renderVariantsSection(ranked []portfolio.Ranked, selectedIndex int) string {
	header := headerStyle.Render("ВАРИАНТЫ")
	content := strings.Builder{}

	if len(ranked) == 0 {
		content.WriteString("  Ожидание данных...\n")
	}
	for i, r := range ranked {
		line := fmt.Sprintf("  %2d. %-32s Итого: %10.2f  Спот: %10.2f  Заем: %9.2f",
			i+1, r.ID, r.Balances.Total, r.Balances.Spot, r.Balances.Loan)
		if i == selectedIndex {
			line = "> " + line[2:]
			line = lipgloss.NewStyle().Background(lipgloss.Color("#222222")).Render(line)
		}
		content.WriteString(line + "\n")
	}

	return sectionStyle.Render(lipgloss.JoinVertical(lipgloss.Left, header, content.String()))
}

func renderPositionsSection(live []*execution.Position, enabled bool) string {
	header := headerStyle.Render("ПОЗИЦИИ")
	content := strings.Builder{}

	switch {
	case !enabled:
		content.WriteString("  Реальная торговля выключена\n")
	case len(live) == 0:
		content.WriteString("  Нет открытых ордеров\n")
	}
	for _, p := range live {
		side := lipgloss.NewStyle().Foreground(successColor).Render(string(p.Side))
		if p.Side == exchange.SideSell {
			side = lipgloss.NewStyle().Foreground(warningColor).Render(string(p.Side))
		}
		content.WriteString(fmt.Sprintf("  %-12s %s  #%d  TP: %.6g  SL: %.6g  ступень: %d\n",
			p.Symbol, side, p.OrderID, p.Price, p.StopLoss, p.Target))
	}

	return sectionStyle.Render(lipgloss.JoinVertical(lipgloss.Left, header, content.String()))
}

func renderLogsSection(logs []string, maxLogsToShow int) string {
	header := headerStyle.Render("ЛОГИ")
	content := strings.Builder{}

	start := 0
	if len(logs) > maxLogsToShow {
		start = len(logs) - maxLogsToShow
	}

	for _, log := range logs[start:] {
		// Выделение по уровню логирования
		switch {
		case strings.Contains(log, "[ERROR]"):
			log = lipgloss.NewStyle().Foreground(errorColor).Render(log)
		case strings.Contains(log, "[INFO]"):
			log = lipgloss.NewStyle().Foreground(successColor).Render(log)
		case strings.Contains(log, "[WARN]"):
			log = lipgloss.NewStyle().Foreground(warningColor).Render(log)
		case strings.Contains(log, "[DEBUG]"):
			log = lipgloss.NewStyle().Foreground(lipgloss.Color("#9999ff")).Render(log)
		}
		content.WriteString("  " + log + "\n")
	}

	return sectionStyle.Render(lipgloss.JoinVertical(lipgloss.Left, header, content.String()))
}
