package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/skalibog/sigtrade/internal/execution"
	"github.com/skalibog/sigtrade/pkg/models"
)

// Имена файлов снимков
const (
	LedgersFile   = "data.json"
	SignalsFile   = "signals.json"
	PositionsFile = "positions.json"
)

// FileStore хранит снимки состояния в JSON-файлах каталога
type FileStore struct {
	dir string
	mu  sync.Mutex
}

// NewFileStore создает хранилище и каталог для него
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("ошибка создания каталога данных: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// Dir каталог хранилища
func (s *FileStore) Dir() string {
	return s.dir
}

// Load читает документ name в v. Отсутствующий файл не ошибка, v не меняется.
func (s *FileStore) Load(name string, v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(filepath.Join(s.dir, name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("ошибка чтения %s: %w", name, err)
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("ошибка разбора %s: %w", name, err)
	}
	return nil
}

// Save атомарно записывает документ: временный файл, затем переименование
func (s *FileStore) Save(name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("ошибка сериализации %s: %w", name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tmp, err := os.CreateTemp(s.dir, name+".*.tmp")
	if err != nil {
		return fmt.Errorf("ошибка создания временного файла: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("ошибка записи %s: %w", name, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("ошибка записи %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("ошибка записи %s: %w", name, err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(s.dir, name)); err != nil {
		return fmt.Errorf("ошибка замены %s: %w", name, err)
	}
	return nil
}

// LoadLedgers журналы вариантов по идентификатору
func (s *FileStore) LoadLedgers() (map[string]models.Ledger, error) {
	data := make(map[string]models.Ledger)
	if err := s.Load(LedgersFile, &data); err != nil {
		return nil, err
	}
	return data, nil
}

func (s *FileStore) SaveLedgers(data map[string]models.Ledger) error {
	return s.Save(LedgersFile, data)
}

// LoadSignals сигналы по signalId
func (s *FileStore) LoadSignals() (map[string]*models.Signal, error) {
	data := make(map[string]*models.Signal)
	if err := s.Load(SignalsFile, &data); err != nil {
		return nil, err
	}
	return data, nil
}

func (s *FileStore) SaveSignals(data map[string]*models.Signal) error {
	return s.Save(SignalsFile, data)
}

// LoadPositions живые позиции
func (s *FileStore) LoadPositions() ([]*execution.Position, error) {
	var data []*execution.Position
	if err := s.Load(PositionsFile, &data); err != nil {
		return nil, err
	}
	return data, nil
}

func (s *FileStore) SavePositions(data []*execution.Position) error {
	return s.Save(PositionsFile, data)
}
