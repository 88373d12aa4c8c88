package memory

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"sibyl/app/config"

	"github.com/elliotchance/pie/v2"
	"github.com/samber/do"
)

// Service is a JSONL-backed recall store with keyword search. Bounded to the
// most recent cfg.Memory.Limit records.
type Service struct {
	cfg *config.Config
	mu  sync.RWMutex
}

func New(di *do.Injector) (*Service, error) {
	cfg := do.MustInvoke[*config.Config](di)

	if err := os.MkdirAll(filepath.Dir(cfg.Memory.Path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create memory dir: %w", err)
	}

	file, err := os.OpenFile(cfg.Memory.Path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open memory file: %w", err)
	}
	defer file.Close()

	return &Service{cfg: cfg}, nil
}

func (s *Service) load() ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.loadLocked()
}

func (s *Service) loadLocked() ([]Record, error) {
	file, err := os.OpenFile(s.cfg.Memory.Path, os.O_RDONLY|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open memory file: %w", err)
	}
	defer file.Close()

	var records []Record

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var rec Record
		if err = json.Unmarshal([]byte(line), &rec); err != nil {
			slog.Warn("Skipping malformed memory line", "error", err)
			continue
		}

		records = append(records, rec)
	}

	if err = scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading memory file: %w", err)
	}

	return records, nil
}

func (s *Service) saveLocked(records []Record) error {
	file, err := os.OpenFile(s.cfg.Memory.Path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("failed to open memory file: %w", err)
	}
	defer file.Close()

	writer := bufio.NewWriter(file)

	for _, rec := range records {
		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("failed to marshal record: %w", err)
		}
		if _, err = writer.WriteString(string(data) + "\n"); err != nil {
			return fmt.Errorf("failed to write record: %w", err)
		}
	}

	if err = writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush writer: %w", err)
	}

	return nil
}

// Add appends a record, dropping the oldest entries past the limit. The write
// lock is held across the whole read-modify-write so concurrent adds cannot
// lose records.
func (s *Service) Add(source Source, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.loadLocked()
	if err != nil {
		return err
	}

	records = append(records, Record{
		Timestamp: time.Now(),
		Source:    source,
		Text:      text,
	})

	if len(records) > s.cfg.Memory.Limit {
		records = records[len(records)-s.cfg.Memory.Limit:]
	}

	return s.saveLocked(records)
}

type scoredRecord struct {
	record Record
	score  int
}

// Search returns up to limit records ranked by keyword overlap with the
// query, most recent first among equals.
func (s *Service) Search(query string, limit int) ([]Record, error) {
	records, err := s.load()
	if err != nil {
		return nil, err
	}

	keywords := strings.Fields(strings.ToLower(query))
	if len(keywords) == 0 || limit <= 0 {
		return nil, nil
	}

	var scored []scoredRecord
	for _, rec := range records {
		text := strings.ToLower(rec.Text)

		score := len(pie.Filter(keywords, func(kw string) bool {
			return strings.Contains(text, kw)
		}))
		if score > 0 {
			scored = append(scored, scoredRecord{record: rec, score: score})
		}
	}

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].score != scored[j].score {
			return scored[i].score > scored[j].score
		}
		return scored[i].record.Timestamp.After(scored[j].record.Timestamp)
	})

	if len(scored) > limit {
		scored = scored[:limit]
	}

	result := pie.Map(scored, func(sr scoredRecord) Record {
		return sr.record
	})

	slog.Info("Memory search completed", "query", query, "matches", len(result))

	return result, nil
}
