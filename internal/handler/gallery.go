package handler

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"echoes/internal/config"
	"echoes/internal/dto"
	"echoes/internal/logger"
	"echoes/internal/repository"
)

// GetSnapshotsHandler returns a filtered, paginated list of archived snapshots.
func GetSnapshotsHandler(logger *logger.Logger, snapshotsRepo repository.SnapshotRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		page := atoiDefault(q.Get("page"), 1)
		limit := atoiDefault(q.Get("limit"), 24)

		filter := &dto.SnapshotFilters{
			DateAfter:  parseDate(q.Get("dateAfter")),
			DateBefore: parseDate(q.Get("dateBefore")),
			Limit:      limit,
			Offset:     (page - 1) * limit,
		}

		snapshots, err := snapshotsRepo.GetAll(filter)
		if err != nil {
			logger.Error("Error querying snapshots from database: %v", err)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}

		totalSize, err := snapshotsRepo.GetTotalSize()
		if err != nil {
			logger.Error("Error getting snapshot directory size: %v", err)
			totalSize = 0
		}

		totalCount, err := snapshotsRepo.GetTotalCount(filter)
		if err != nil {
			logger.Error("Error counting snapshots: %v", err)
			totalCount = len(snapshots)
		}

		infos := make([]dto.SnapshotInfo, 0, len(snapshots))
		for _, s := range snapshots {
			infos = append(infos, dto.SnapshotInfo{
				Name:      s.Filename,
				Date:      s.Timestamp,
				TimeOfDay: s.Timestamp,
				Echoes:    s.Echoes,
				Size:      s.FileSize,
			})
		}

		data := dto.SnapshotsData{
			Snapshots:   infos,
			Size:        totalSize,
			Length:      totalCount,
			TotalPages:  (totalCount + limit - 1) / limit,
			CurrentPage: page,
			Limit:       limit,
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(data); err != nil {
			logger.Error("Error encoding JSON response: %v", err)
		}
	}
}

// DeleteSnapshotHandler removes a snapshot from disk and database.
func DeleteSnapshotHandler(cfg *config.Config, logger *logger.Logger, snapshotsRepo repository.SnapshotRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filename := r.URL.Query().Get("filename")
		if filename == "" {
			http.Error(w, "Filename required", http.StatusBadRequest)
			return
		}
		if !isPlainFilename(filename) {
			http.Error(w, "Invalid filename", http.StatusBadRequest)
			return
		}

		filePath := filepath.Join(cfg.SnapshotDirectory, filename)
		if err := os.Remove(filePath); err != nil && !os.IsNotExist(err) {
			logger.Error("Failed to delete file %s: %v", filePath, err)
		}

		if snapshotsRepo != nil {
			if err := snapshotsRepo.DeleteByFilename(filename); err != nil {
				logger.Error("Failed to delete from database: %v", err)
			}
		}

		logger.Info("Deleted snapshot: %s", filename)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]string{"status": "deleted", "filename": filename})
	}
}

// ClearSnapshotsHandler deletes every file in the snapshot directory and clears the database.
func ClearSnapshotsHandler(cfg *config.Config, logger *logger.Logger, snapshotsRepo repository.SnapshotRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		files, err := os.ReadDir(cfg.SnapshotDirectory)
		if err != nil && !os.IsNotExist(err) {
			logger.Error("Error reading snapshots directory: %v", err)
			http.Error(w, "Unable to read snapshots directory", http.StatusInternalServerError)
			return
		}

		for _, file := range files {
			if !file.IsDir() {
				filePath := filepath.Join(cfg.SnapshotDirectory, file.Name())
				if err := os.Remove(filePath); err != nil {
					logger.Error("Error deleting file %s: %v", file.Name(), err)
				}
			}
		}

		if snapshotsRepo != nil {
			if err := snapshotsRepo.DeleteAll(); err != nil {
				logger.Error("Error clearing database: %v", err)
			}
		}

		logger.Info("All snapshots cleared from directory: %s", cfg.SnapshotDirectory)
		w.WriteHeader(http.StatusNoContent)
	}
}

// ViewSnapshotHandler serves a single snapshot given by the "snapshot" query parameter.
func ViewSnapshotHandler(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := r.URL.Query().Get("snapshot")
		if name == "" {
			http.Error(w, "Snapshot parameter is required", http.StatusBadRequest)
			return
		}
		if !isPlainFilename(name) {
			http.Error(w, "Invalid snapshot name", http.StatusBadRequest)
			return
		}
		http.ServeFile(w, r, filepath.Join(cfg.SnapshotDirectory, name))
	}
}

// isPlainFilename rejects names that would escape the snapshot directory.
func isPlainFilename(name string) bool {
	return name == filepath.Base(name) && name != "." && name != ".."
}

// atoiDefault converts string to int or returns a default when conversion fails or value <= 0.
func atoiDefault(s string, def int) int {
	if v, err := strconv.Atoi(s); err == nil && v > 0 {
		return v
	}
	return def
}

// parseDate parses a date string in the format "2006-01-02" from the request (HTML input format).
func parseDate(v string) time.Time {
	if v == "" {
		return time.Time{}
	}
	t, err := time.Parse("2006-01-02", v)
	if err != nil {
		return time.Time{}
	}
	return t
}
