package backup

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"gymdesk/internal/domain"
	"gymdesk/internal/service"
	"gymdesk/internal/storage"
)

// Snapshotter writes a consistent copy of the live database to path.
type Snapshotter interface {
	Snapshot(ctx context.Context, path string) (int64, error)
}

// Manager runs database backups one at a time, on demand or on an interval.
type Manager interface {
	Start(ctx context.Context) error
	Shutdown()
	Trigger(ctx context.Context) (*domain.Backup, error)
	Enqueue(ctx context.Context, backupID int64) error
	Resume(ctx context.Context) error
	Remote(ctx context.Context) ([]storage.ObjectInfo, error)
}

// ErrNoRemote is returned by Remote when backups are kept on local disk only.
var ErrNoRemote = fmt.Errorf("%w: remote backup storage is not configured", domain.ErrBadRequest)

type Config struct {
	Dir           string
	Interval      time.Duration
	KeepLocal     bool
	UploadOptions storage.UploadOptions
	Logger        *logrus.Logger
}

type manager struct {
	cfg      Config
	backups  service.BackupService
	snapshot Snapshotter
	storage  storage.Service

	sem    chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	queued map[int64]struct{}
}

// NewManager builds a backup manager. A nil store keeps snapshots on local disk only.
func NewManager(cfg Config, backups service.BackupService, snapshot Snapshotter, store storage.Service) Manager {
	if cfg.Dir == "" {
		cfg.Dir = filepath.Join("data", "backups")
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	if store == nil {
		cfg.KeepLocal = true
	}
	return &manager{
		cfg:      cfg,
		backups:  backups,
		snapshot: snapshot,
		storage:  store,
		sem:      make(chan struct{}, 1),
		queued:   make(map[int64]struct{}),
	}
}

func (m *manager) Start(ctx context.Context) error {
	if err := os.MkdirAll(m.cfg.Dir, 0o755); err != nil {
		return fmt.Errorf("create backup dir: %w", err)
	}

	m.mu.Lock()
	m.ctx, m.cancel = context.WithCancel(ctx)
	m.mu.Unlock()

	if m.cfg.Interval > 0 {
		m.wg.Add(1)
		go m.schedule()
	}

	m.cfg.Logger.Infof("backup manager started, dir: %s, interval: %s", m.cfg.Dir, m.cfg.Interval)
	return nil
}

func (m *manager) Shutdown() {
	m.mu.Lock()
	cancel := m.cancel
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	m.wg.Wait()
	m.cfg.Logger.Info("backup manager stopped")
}

func (m *manager) schedule() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			if _, err := m.Trigger(m.ctx); err != nil && !errors.Is(err, context.Canceled) {
				m.cfg.Logger.Warnf("scheduled backup: %v", err)
			}
		}
	}
}

// Trigger records a new pending backup and queues it.
func (m *manager) Trigger(ctx context.Context) (*domain.Backup, error) {
	runCtx, err := m.runContext()
	if err != nil {
		return nil, err
	}
	backup, err := m.backups.CreateBackup(ctx)
	if err != nil {
		return nil, err
	}
	m.spawn(runCtx, *backup)
	return backup, nil
}

// Enqueue queues a pending or failed backup again. Running and completed backups
// are rejected.
func (m *manager) Enqueue(ctx context.Context, backupID int64) error {
	runCtx, err := m.runContext()
	if err != nil {
		return err
	}
	backup, err := m.backups.GetBackup(ctx, backupID)
	if err != nil {
		return err
	}
	switch backup.Status {
	case domain.BackupStatusPending, domain.BackupStatusFailed:
	default:
		return fmt.Errorf("%w: backup %d is %s", domain.ErrBadRequest, backupID, backup.Status)
	}
	if !m.spawn(runCtx, *backup) {
		return fmt.Errorf("%w: backup %d is already queued", domain.ErrBadRequest, backupID)
	}
	m.cfg.Logger.WithField("backup_id", backupID).Info("backup requeued")
	return nil
}

// Remote lists the snapshots uploaded under the configured key prefix.
func (m *manager) Remote(ctx context.Context) ([]storage.ObjectInfo, error) {
	if m.storage == nil {
		return nil, ErrNoRemote
	}
	opts := m.cfg.UploadOptions
	return m.storage.ListObjects(ctx, opts.Bucket, storage.ObjectKey(opts.KeyPrefix, ""))
}

// Resume requeues backups interrupted by a previous shutdown.
func (m *manager) Resume(ctx context.Context) error {
	runCtx, err := m.runContext()
	if err != nil {
		return err
	}
	backups, err := m.backups.ListByStatuses(ctx, domain.BackupStatusPending, domain.BackupStatusRunning)
	if err != nil {
		return err
	}
	for i := range backups {
		m.spawn(runCtx, backups[i])
	}
	return nil
}

func (m *manager) runContext() (context.Context, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ctx == nil {
		return nil, errors.New("backup manager not started")
	}
	if err := m.ctx.Err(); err != nil {
		return nil, err
	}
	return m.ctx, nil
}

// spawn runs backup in the background. It reports false when the backup is
// already queued or running.
func (m *manager) spawn(ctx context.Context, backup domain.Backup) bool {
	m.mu.Lock()
	if _, busy := m.queued[backup.ID]; busy {
		m.mu.Unlock()
		return false
	}
	m.queued[backup.ID] = struct{}{}
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer func() {
			m.mu.Lock()
			delete(m.queued, backup.ID)
			m.mu.Unlock()
		}()
		select {
		case <-ctx.Done():
			return
		case m.sem <- struct{}{}:
			defer func() { <-m.sem }()
			m.run(ctx, &backup)
		}
	}()
	return true
}

func (m *manager) run(ctx context.Context, backup *domain.Backup) {
	logger := m.cfg.Logger.WithField("backup_id", backup.ID)

	if backup.Status == domain.BackupStatusCompleted {
		logger.Debug("backup already completed, skipping")
		return
	}

	localPath := filepath.Join(m.cfg.Dir, fmt.Sprintf("gymdesk-%d-%s.db", backup.ID, time.Now().UTC().Format("20060102T150405Z")))
	if backup.LocalPath != "" {
		// a run interrupted mid-snapshot leaves a partial file behind
		if err := os.Remove(backup.LocalPath); err != nil && !os.IsNotExist(err) {
			logger.Warnf("remove stale snapshot: %v", err)
		}
	}

	if err := m.backups.MarkRunning(ctx, backup.ID, localPath); err != nil {
		logger.Errorf("mark running: %v", err)
		return
	}

	size, err := m.snapshot.Snapshot(ctx, localPath)
	if err != nil {
		m.fail(ctx, backup.ID, fmt.Errorf("snapshot: %w", err))
		return
	}
	logger.Infof("snapshot written to %s (%s)", localPath, formatBytes(size))

	location := localPath
	if m.storage != nil {
		opts := m.cfg.UploadOptions
		opts.ProgressCallback = newUploadProgressLogger(logger)
		dest, err := m.storage.UploadFile(ctx, localPath, opts)
		if err != nil {
			m.fail(ctx, backup.ID, fmt.Errorf("upload: %w", err))
			return
		}
		location = dest
	}

	if err := m.backups.MarkCompleted(ctx, backup.ID, location, size); err != nil {
		logger.Errorf("mark completed: %v", err)
		return
	}

	if !m.cfg.KeepLocal {
		if err := os.Remove(localPath); err != nil {
			logger.Warnf("cleanup snapshot: %v", err)
		}
	}
	logger.Infof("backup completed: %s", location)
}

func (m *manager) fail(ctx context.Context, backupID int64, failErr error) {
	logger := m.cfg.Logger.WithField("backup_id", backupID)
	logger.Errorf("backup failed: %v", failErr)
	// the run context may already be cancelled; the failure still has to be recorded
	if err := m.backups.MarkFailed(context.WithoutCancel(ctx), backupID, failErr.Error()); err != nil {
		logger.Errorf("mark failed: %v", err)
	}
}

func newUploadProgressLogger(logger *logrus.Entry) func(done, total int64) {
	var lastLog time.Time
	return func(done, total int64) {
		now := time.Now()
		if now.Sub(lastLog) < 500*time.Millisecond && done != total {
			return
		}
		lastLog = now
		if total == 0 {
			logger.Infof("upload progress: %s uploaded", formatBytes(done))
			return
		}
		percent := float64(done) / float64(total) * 100
		logger.Infof("upload progress: %.1f%% (%s/%s)", percent, formatBytes(done), formatBytes(total))
	}
}

func formatBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%dB", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f%ciB",
		float64(b)/float64(div),
		"KMGTPE"[exp],
	)
}

var _ Manager = (*manager)(nil)
