package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/xela07ax/mindx-monitoring/internal/domain"
	"github.com/xela07ax/mindx-monitoring/internal/fsutil"
)

const dayLayout = "20060102"

// FileStore хранит запись в отдельном JSON-файле:
// <dir>/<agent>/<type>/<YYYYMMDD>/<HHMMSS.nnnnnnnnn>_<id>.json
type FileStore struct {
	dir    string
	logger *zap.Logger
	now    func() time.Time
}

func NewFileStore(dir string, logger *zap.Logger) *FileStore {
	return &FileStore{dir: dir, logger: logger.Named("memory_file"), now: time.Now}
}

func (s *FileStore) SaveTimestampedMemory(ctx context.Context, rec domain.MemoryRecord) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	rec = prepare(rec, s.now())

	ts := rec.Timestamp.UTC()
	path := filepath.Join(s.dir,
		safeSegment(rec.AgentID), safeSegment(rec.Type), ts.Format(dayLayout),
		fmt.Sprintf("%s_%s.json", ts.Format("150405.000000000"), rec.ID))

	if err := fsutil.WriteJSONAtomic(path, rec); err != nil {
		return "", fmt.Errorf("save memory: %w", err)
	}
	return rec.ID, nil
}

func (s *FileStore) GetRecentMemories(ctx context.Context, q domain.MemoryQuery) ([]domain.MemoryRecord, error) {
	agentDir := filepath.Join(s.dir, safeSegment(q.AgentID))

	types := []string{safeSegment(q.Type)}
	if q.Type == "" {
		entries, err := os.ReadDir(agentDir)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil, nil
			}
			return nil, fmt.Errorf("list memory types: %w", err)
		}
		types = types[:0]
		for _, e := range entries {
			if e.IsDir() {
				types = append(types, e.Name())
			}
		}
	}

	cutoff := since(q, s.now())
	cutoffDay := ""
	if !cutoff.IsZero() {
		cutoffDay = cutoff.UTC().Format(dayLayout)
	}

	var out []domain.MemoryRecord
	for _, typ := range types {
		days, err := os.ReadDir(filepath.Join(agentDir, typ))
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("list memory days: %w", err)
		}
		for _, day := range days {
			// имена каталогов YYYYMMDD сравниваются лексикографически
			if !day.IsDir() || day.Name() < cutoffDay {
				continue
			}
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			recs, err := s.readDay(filepath.Join(agentDir, typ, day.Name()))
			if err != nil {
				return nil, err
			}
			for _, r := range recs {
				if cutoff.IsZero() || !r.Timestamp.Before(cutoff) {
					out = append(out, r)
				}
			}
		}
	}
	return newestFirst(out, q.Limit), nil
}

func (s *FileStore) readDay(dir string) ([]domain.MemoryRecord, error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("list memory files: %w", err)
	}
	out := make([]domain.MemoryRecord, 0, len(files))
	for _, f := range files {
		if f.IsDir() || filepath.Ext(f.Name()) != ".json" {
			continue
		}
		path := filepath.Join(dir, f.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			s.logger.Warn("memory record unreadable", zap.String("path", path), zap.Error(err))
			continue
		}
		var rec domain.MemoryRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			s.logger.Warn("memory record corrupt", zap.String("path", path), zap.Error(err))
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}
