package cleanup

import (
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Scheduler prunes old transcript export files. The archive keeps the
// canonical records; exports on disk are replayable conveniences, so files
// past the retention age are safe to drop.
type Scheduler struct {
	exportsDir      string
	intervalMinutes int
	maxAgeDays      int
	stopChan        chan struct{}
}

// NewScheduler creates a new cleanup scheduler
func NewScheduler(exportsDir string, intervalMinutes, maxAgeDays int) *Scheduler {
	return &Scheduler{
		exportsDir:      exportsDir,
		intervalMinutes: intervalMinutes,
		maxAgeDays:      maxAgeDays,
		stopChan:        make(chan struct{}),
	}
}

// Start begins the cleanup scheduler
func (s *Scheduler) Start() {
	// Run initial cleanup on startup
	log.Println("Running initial export cleanup...")
	s.cleanOldExports()

	ticker := time.NewTicker(time.Duration(s.intervalMinutes) * time.Minute)

	go func() {
		for {
			select {
			case <-ticker.C:
				s.cleanOldExports()
			case <-s.stopChan:
				ticker.Stop()
				return
			}
		}
	}()

	log.Printf("Cleanup scheduler started (interval: %dm, max age: %dd)",
		s.intervalMinutes, s.maxAgeDays)
}

// Stop stops the cleanup scheduler
func (s *Scheduler) Stop() {
	close(s.stopChan)
	log.Println("Cleanup scheduler stopped")
}

// cleanOldExports removes transcript files older than maxAgeDays.
func (s *Scheduler) cleanOldExports() {
	now := time.Now()
	maxAge := time.Duration(s.maxAgeDays) * 24 * time.Hour

	var deletedCount int
	var deletedSize int64

	err := filepath.Walk(s.exportsDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil // Skip files we can't access
		}

		if info.IsDir() {
			return nil
		}

		// Only touch our own output
		if !strings.HasSuffix(info.Name(), ".txt") {
			return nil
		}

		age := now.Sub(info.ModTime())
		if age > maxAge {
			size := info.Size()
			if err := os.Remove(path); err != nil {
				log.Printf("Failed to delete old export %s: %v", path, err)
			} else {
				deletedCount++
				deletedSize += size
				log.Printf("Deleted old export: %s (age: %s, size: %dKB)",
					filepath.Base(path), age.Round(time.Hour), size/1024)
			}
		}

		return nil
	})

	if err != nil {
		log.Printf("Error during cleanup: %v", err)
	}

	if deletedCount > 0 {
		log.Printf("Cleanup complete: %d files deleted, %.2fMB freed",
			deletedCount, float64(deletedSize)/(1024*1024))
	}
}

// EnsureExportsDirExists creates the exports directory if it doesn't exist
func EnsureExportsDirExists(exportsDir string) error {
	if err := os.MkdirAll(exportsDir, 0755); err != nil {
		return err
	}
	log.Printf("Exports directory ready: %s", exportsDir)
	return nil
}
