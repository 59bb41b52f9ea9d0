package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"echoes/internal/config"
	"echoes/internal/dto"
	"echoes/internal/logger"
	"echoes/internal/model"
	"echoes/internal/repository"

	"github.com/google/uuid"
)

// TimestampLayout is the timestamp prefix of every snapshot filename.
const TimestampLayout = "2006-01-02_15-04-05.000"

// ArchiveService buffers saved canvas snapshots in memory and periodically
// flushes them to disk and the snapshot index.
type ArchiveService struct {
	snapshotsDir  string
	limit         int
	flushInterval time.Duration
	snapshots     []dto.BufferedSnapshot
	mu            sync.Mutex
	logger        *logger.Logger
	repo          repository.SnapshotRepository
	now           func() time.Time
}

// NewArchiveService creates a new ArchiveService. repo may be nil, in which
// case snapshots are only written to disk.
func NewArchiveService(cfg *config.Config, logger *logger.Logger, repo repository.SnapshotRepository) *ArchiveService {
	limit := cfg.SnapshotBufferLimit
	if limit <= 0 {
		limit = 10
	}
	interval := time.Duration(cfg.SnapshotFlushInterval) * time.Second
	if interval <= 0 {
		interval = 30 * time.Second
	}

	return &ArchiveService{
		snapshotsDir:  cfg.SnapshotDirectory,
		limit:         limit,
		flushInterval: interval,
		snapshots:     make([]dto.BufferedSnapshot, 0, limit),
		logger:        logger,
		repo:          repo,
		now:           time.Now,
	}
}

// Run flushes the buffer every flush interval until done is closed, then
// flushes whatever is left.
func (s *ArchiveService) Run(done <-chan struct{}) {
	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			s.FlushSnapshots()
			return
		case <-ticker.C:
			s.FlushSnapshots()
		}
	}
}

// AddSnapshot buffers an encoded canvas. When the buffer is full the
// snapshot is dropped.
func (s *ArchiveService) AddSnapshot(jpeg []byte, echoes int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.snapshots) >= s.limit {
		s.logger.Warning("Snapshot buffer full (%d/%d), dropping snapshot", len(s.snapshots), s.limit)
		return
	}

	s.snapshots = append(s.snapshots, dto.BufferedSnapshot{
		ID:        uuid.NewString(),
		Timestamp: s.now(),
		Echoes:    echoes,
		Data:      jpeg,
	})
	s.logger.Info("Snapshot buffer size: %d/%d", len(s.snapshots), s.limit)
}

// Pending returns how many snapshots are waiting to be flushed.
func (s *ArchiveService) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.snapshots)
}

// FlushSnapshots writes buffered snapshots to disk, indexes them and resets
// the buffer. It returns how many snapshots were saved.
func (s *ArchiveService) FlushSnapshots() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.snapshots) == 0 {
		return 0
	}

	if err := os.MkdirAll(s.snapshotsDir, 0755); err != nil {
		s.logger.Error("Error creating directory: %v", err)
		return 0
	}

	savedCount := 0
	for _, snap := range s.snapshots {
		filename := SnapshotFilename(snap.Timestamp, snap.ID, snap.Echoes)
		fullpath := filepath.Join(s.snapshotsDir, filename)

		if err := os.WriteFile(fullpath, snap.Data, 0644); err != nil {
			s.logger.Error("Error saving snapshot %s: %v", filename, err)
			continue
		}

		if s.repo != nil {
			record := &model.Snapshot{
				Filename:  filename,
				Timestamp: snap.Timestamp,
				FilePath:  fullpath,
				FileSize:  int64(len(snap.Data)),
				Echoes:    snap.Echoes,
			}
			if _, err := s.repo.Insert(record); err != nil {
				s.logger.Error("Error saving snapshot to database %s: %v", filename, err)
				continue
			}
		}

		savedCount++
	}

	s.logger.Info("Flushed %d snapshots to disk", savedCount)
	s.snapshots = s.snapshots[:0]
	return savedCount
}

// SnapshotFilename builds the on-disk name of a snapshot:
// <timestamp>_<id8>_e<echoes>.jpg.
func SnapshotFilename(ts time.Time, id string, echoes int) string {
	short := strings.ReplaceAll(id, "-", "")
	if len(short) > 8 {
		short = short[:8]
	}
	return fmt.Sprintf("%s_%s_e%d.jpg", ts.Format(TimestampLayout), short, echoes)
}

// ParseFilename extracts the capture time and echo count from a snapshot
// filename. Names without an echo suffix report zero echoes.
func ParseFilename(filename string) (time.Time, int, error) {
	name := filepath.Base(filename)
	if !strings.HasSuffix(strings.ToLower(name), ".jpg") || len(name) < len(TimestampLayout)+len(".jpg") {
		return time.Time{}, 0, fmt.Errorf("not a snapshot filename: %s", name)
	}
	ts, err := time.ParseInLocation(TimestampLayout, name[:len(TimestampLayout)], time.Local)
	if err != nil {
		return time.Time{}, 0, fmt.Errorf("invalid snapshot timestamp in %s: %w", name, err)
	}

	parts := strings.Split(strings.TrimPrefix(name[len(TimestampLayout):len(name)-len(".jpg")], "_"), "_")
	if len(parts) < 2 || !strings.HasPrefix(parts[len(parts)-1], "e") {
		return ts, 0, nil
	}
	echoes, err := strconv.Atoi(strings.TrimPrefix(parts[len(parts)-1], "e"))
	if err != nil || echoes < 0 {
		return time.Time{}, 0, fmt.Errorf("invalid echo count in %s", name)
	}
	return ts, echoes, nil
}
