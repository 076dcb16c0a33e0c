package reliability

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/tkomnos/stealthtrader/internal/database"
)

// Maintenance runs the nightly housekeeping pass over local storage:
// quote history health check, WAL checkpoint, disk space check and a
// data directory growth report. It runs before the backup job so the
// checkpoint lands in the archive.
type Maintenance struct {
	historyDB *database.DB
	dataDir   string
	log       zerolog.Logger
}

// NewMaintenance creates the nightly maintenance pass. historyDB may
// be nil when quote history persistence is disabled.
func NewMaintenance(historyDB *database.DB, dataDir string, log zerolog.Logger) *Maintenance {
	return &Maintenance{
		historyDB: historyDB,
		dataDir:   dataDir,
		log:       log.With().Str("service", "maintenance").Logger(),
	}
}

// Run executes the maintenance pass.
func (m *Maintenance) Run(ctx context.Context) error {
	m.log.Info().Msg("Starting nightly maintenance")
	startTime := time.Now()

	if m.historyDB != nil {
		if err := m.historyDB.HealthCheck(ctx); err != nil {
			return fmt.Errorf("quote history database failed health check: %w", err)
		}
		if err := m.historyDB.WALCheckpoint("TRUNCATE"); err != nil {
			m.log.Warn().Err(err).Msg("WAL checkpoint failed")
		}
	}

	if err := m.checkDiskSpace(); err != nil {
		return err
	}
	m.reportDataDirSize()

	m.log.Info().
		Dur("duration_ms", time.Since(startTime)).
		Msg("Nightly maintenance completed")

	return nil
}

// checkDiskSpace verifies the data directory's filesystem has room
// left. Under half a gigabyte the system must stop writing.
func (m *Maintenance) checkDiskSpace() error {
	stat := syscall.Statfs_t{}
	if err := syscall.Statfs(m.dataDir, &stat); err != nil {
		return fmt.Errorf("failed to stat filesystem: %w", err)
	}

	availableBytes := stat.Bavail * uint64(stat.Bsize)
	availableGB := float64(availableBytes) / 1e9

	switch {
	case availableGB < 0.5:
		m.log.Error().Float64("available_gb", availableGB).Msg("Insufficient disk space")
		return fmt.Errorf("only %.2f GB free on data filesystem", availableGB)
	case availableGB < 5.0:
		m.log.Warn().Float64("available_gb", availableGB).Msg("Disk space running low")
	default:
		m.log.Debug().Float64("available_gb", availableGB).Msg("Disk space check passed")
	}
	return nil
}

// reportDataDirSize logs how much the data directory has grown.
func (m *Maintenance) reportDataDirSize() {
	var totalBytes int64
	var fileCount int

	err := filepath.WalkDir(m.dataDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		totalBytes += info.Size()
		fileCount++
		return nil
	})
	if err != nil {
		m.log.Warn().Err(err).Msg("Failed to measure data directory")
		return
	}

	m.log.Info().
		Float64("size_mb", float64(totalBytes)/1024/1024).
		Int("files", fileCount).
		Msg("Data directory size")
}
