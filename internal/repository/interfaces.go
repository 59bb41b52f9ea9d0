package repository

import (
	"echoes/internal/dto"
	"echoes/internal/model"
)

// SnapshotRepository defines the interface for archived snapshot records.
type SnapshotRepository interface {
	// Create operations
	Insert(s *model.Snapshot) (int64, error)
	InsertBatch(snapshots []model.Snapshot) (int, error)

	// Read operations
	GetByFilename(filename string) (*model.Snapshot, error)
	GetAll(filter *dto.SnapshotFilters) ([]model.Snapshot, error)
	GetTotalCount(filter *dto.SnapshotFilters) (int, error)
	GetTotalSize() (int64, error)

	// Delete operations
	DeleteByFilename(filename string) error
	DeleteAll() error
}
