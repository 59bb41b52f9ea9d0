package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"echoes/internal/config"
	"echoes/internal/model"
	"echoes/internal/repository/sqlite"
	"echoes/internal/service/storage"
)

func main() {
	cfg := config.Load()

	snapshotsDir := flag.String("snapshots", cfg.SnapshotDirectory, "Directory containing snapshots")
	dbPath := flag.String("db", cfg.DatabasePath, "Database path")
	flag.Parse()

	fmt.Printf("Indexing snapshots from %s into database %s\n", *snapshotsDir, *dbPath)

	db, err := sqlite.New(*dbPath)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()
	repo := sqlite.NewSnapshotRepository(db)

	files, err := os.ReadDir(*snapshotsDir)
	if err != nil {
		log.Fatalf("Failed to read snapshots directory: %v", err)
	}

	var snapshots []model.Snapshot
	skipped := 0
	for _, file := range files {
		if file.IsDir() || strings.ToLower(filepath.Ext(file.Name())) != ".jpg" {
			continue
		}

		timestamp, echoes, err := storage.ParseFilename(file.Name())
		if err != nil {
			log.Printf("⚠️  Skipping %s: %v", file.Name(), err)
			skipped++
			continue
		}

		info, err := file.Info()
		if err != nil {
			log.Printf("⚠️  Failed to get info for %s: %v", file.Name(), err)
			skipped++
			continue
		}

		snapshots = append(snapshots, model.Snapshot{
			Filename:  file.Name(),
			Timestamp: timestamp,
			FilePath:  filepath.Join(*snapshotsDir, file.Name()),
			FileSize:  info.Size(),
			Echoes:    echoes,
		})
	}

	if len(snapshots) == 0 {
		fmt.Println("No snapshots found to index")
		return
	}

	fmt.Printf("Inserting %d snapshots into database...\n", len(snapshots))
	inserted, err := repo.InsertBatch(snapshots)
	if err != nil {
		log.Fatalf("Failed to insert snapshots: %v", err)
	}

	fmt.Printf("✅ Indexed %d new snapshots (%d already present)\n", inserted, len(snapshots)-inserted)
	if skipped > 0 {
		fmt.Printf("⚠️  Skipped %d files (invalid format or errors)\n", skipped)
	}

	total, err := repo.GetTotalCount(nil)
	if err == nil {
		size, _ := repo.GetTotalSize()
		fmt.Printf("\n📊 Database Statistics:\n")
		fmt.Printf("   Total snapshots: %d\n", total)
		fmt.Printf("   Total size: %d bytes\n", size)
	}
}
