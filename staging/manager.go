package staging

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/kbukum/agentflow/errors"
	"github.com/kbukum/agentflow/logger"
	"github.com/kbukum/agentflow/storage"
	"github.com/kbukum/agentflow/storage/local"
	"github.com/kbukum/agentflow/validation"
)

// ErrConcurrentApply matches the error returned when another publish holds
// the target lock.
var ErrConcurrentApply = apperrors.Code(apperrors.ErrCodeConcurrentApply)

// Config locates the staging and production trees.
type Config struct {
	StagingRoot    string `yaml:"staging_root" mapstructure:"staging_root" validate:"required"`
	ProductionRoot string `yaml:"production_root" mapstructure:"production_root" validate:"required"`
	MaxFileSize    int64  `yaml:"max_file_size" mapstructure:"max_file_size"`
}

// File is one generated file to publish.
type File struct {
	Path    string
	Content string
}

// Manager owns staging directories and the production swap.
type Manager struct {
	cfg    Config
	locker Locker
	log    *logger.Logger

	rename func(oldpath, newpath string) error
	now    func() time.Time
}

// NewManager creates a Manager.
func NewManager(cfg Config, locker Locker, log *logger.Logger) *Manager {
	return &Manager{
		cfg:    cfg,
		locker: locker,
		log:    log.WithComponent("staging"),
		rename: os.Rename,
		now:    time.Now,
	}
}

// CreateStagingDir creates and returns <staging_root>/<jobID>.
func (m *Manager) CreateStagingDir(jobID uuid.UUID) (string, error) {
	dir := filepath.Join(m.cfg.StagingRoot, jobID.String())
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", apperrors.StagingFailed("create", err)
	}
	return dir, nil
}

// CleanupStagingDir removes a staging directory. Errors are logged, never
// returned.
func (m *Manager) CleanupStagingDir(dir string) {
	if dir == "" {
		return
	}
	if err := os.RemoveAll(dir); err != nil {
		m.log.Warn("staging cleanup failed", logger.Fields("dir", dir, logger.FieldError, err.Error()))
	}
}

// WriteFiles materializes files under dir. Paths must stay inside dir.
func (m *Manager) WriteFiles(ctx context.Context, dir string, files []File) error {
	client, err := m.byteClient(dir)
	if err != nil {
		return err
	}
	for _, f := range files {
		if err := client.Upload(ctx, f.Path, []byte(f.Content)); err != nil {
			return apperrors.StagingFailed("write "+f.Path, err)
		}
	}
	return nil
}

func (m *Manager) byteClient(dir string) (storage.ByteClient, error) {
	s, err := storage.New(storage.Config{Provider: storage.ProviderLocal, BasePath: dir}, &local.Config{BasePath: dir}, m.log)
	if err != nil {
		return nil, apperrors.StagingFailed("open", err)
	}
	return storage.NewByteClient(s, m.cfg.MaxFileSize), nil
}

// ProductionPath returns <production_root>/<userID>/<targetID>.
func (m *Manager) ProductionPath(userID, targetID string) string {
	return filepath.Join(m.cfg.ProductionRoot, userID, targetID)
}

// ApplyToProduction replaces the target's production tree with the staging
// tree. The target is always left either fully old or fully new.
func (m *Manager) ApplyToProduction(ctx context.Context, userID, targetID, stagingDir string) error {
	if err := validation.New().
		Required("user_id", userID).SafeSegment("user_id", userID).
		Required("target_id", targetID).SafeSegment("target_id", targetID).
		Validate(); err != nil {
		return err
	}

	log := m.log.WithFields(logger.Fields(logger.FieldUserID, userID, logger.FieldTargetID, targetID))

	lock, acquired, err := m.locker.TryLock(ctx, targetID)
	if err != nil {
		return apperrors.StagingFailed("lock", err)
	}
	if !acquired {
		log.Warn("target is locked by another publish")
		return apperrors.ConcurrentApply(targetID)
	}
	defer func() {
		if err := lock.Release(); err != nil {
			log.Error("failed to release target lock", logger.ErrorFields("release", err))
		}
	}()

	start := m.now()
	if err := m.swap(ctx, log, m.ProductionPath(userID, targetID), stagingDir); err != nil {
		return err
	}
	log.Info("published", logger.DurationFields("apply", m.now().Sub(start)))
	return nil
}

func (m *Manager) swap(ctx context.Context, log *logger.Logger, prod, stagingDir string) error {
	next := prod + ".new"
	if err := os.RemoveAll(next); err != nil {
		return apperrors.StagingFailed("remove stale .new", err)
	}
	if err := m.copyTree(ctx, stagingDir, next); err != nil {
		os.RemoveAll(next) //nolint:errcheck // best effort
		return apperrors.StagingFailed("copy", err)
	}

	_, statErr := os.Stat(prod)
	switch {
	case statErr == nil:
		backup := prod + ".backup-" + strconv.FormatInt(m.now().UnixNano(), 10)
		if err := m.rename(prod, backup); err != nil {
			os.RemoveAll(next) //nolint:errcheck // best effort
			return apperrors.StagingFailed("backup", err)
		}
		if err := m.rename(next, prod); err != nil {
			os.RemoveAll(next) //nolint:errcheck // best effort
			if restoreErr := m.restore(ctx, backup, prod); restoreErr != nil {
				log.Error("restore from backup failed", logger.Fields("backup", backup, logger.FieldError, restoreErr.Error()))
				return apperrors.StagingFailed("swap", errors.Join(err, restoreErr)).WithDetail("backup", backup)
			}
			log.Warn("swap failed, production restored", logger.Fields("backup", backup, logger.FieldError, err.Error()))
			return apperrors.StagingFailed("swap", err).WithDetail("backup", backup)
		}
		if err := os.RemoveAll(backup); err != nil {
			log.Warn("failed to remove backup", logger.Fields("backup", backup, logger.FieldError, err.Error()))
		}
		return nil

	case os.IsNotExist(statErr):
		if err := os.MkdirAll(filepath.Dir(prod), 0o750); err != nil {
			os.RemoveAll(next) //nolint:errcheck // best effort
			return apperrors.StagingFailed("create parent", err)
		}
		if err := m.rename(next, prod); err != nil {
			os.RemoveAll(next) //nolint:errcheck // best effort
			return apperrors.StagingFailed("install", err)
		}
		return nil

	default:
		os.RemoveAll(next) //nolint:errcheck // best effort
		return apperrors.StagingFailed("stat", statErr)
	}
}

// restore rebuilds prod from a copy of backup. The backup itself is
// never moved or deleted.
func (m *Manager) restore(ctx context.Context, backup, prod string) error {
	tmp := backup + ".restore"
	if err := os.RemoveAll(tmp); err != nil {
		return err
	}
	if err := m.copyTree(ctx, backup, tmp); err != nil {
		os.RemoveAll(tmp) //nolint:errcheck // best effort
		return err
	}
	if err := m.rename(tmp, prod); err != nil {
		os.RemoveAll(tmp) //nolint:errcheck // best effort
		return err
	}
	return nil
}

// copyTree copies every file under src into dst through local storage.
func (m *Manager) copyTree(ctx context.Context, src, dst string) error {
	from, err := m.byteClient(src)
	if err != nil {
		return err
	}
	to, err := m.byteClient(dst)
	if err != nil {
		return err
	}
	objects, err := from.List(ctx, "")
	if err != nil {
		return err
	}
	for _, obj := range objects {
		data, err := from.Download(ctx, obj.Key)
		if err != nil {
			return fmt.Errorf("read %s: %w", obj.Key, err)
		}
		if err := to.Upload(ctx, obj.Key, data); err != nil {
			return fmt.Errorf("write %s: %w", obj.Key, err)
		}
	}
	return nil
}
