// Package backup 定时导出数据库快照。
package backup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"SafeCircle/pkg/logger"
	"SafeCircle/pkg/storage"
)

const (
	filePrefix = "safecircle_"
	fileSuffix = ".db"
)

type Config struct {
	Driver string
	Dir    string
	// 保留最近的份数，<=0 不清理
	Keep int
	// 非空时快照再上传一份，远端同样按 Keep 清理
	Remote       storage.Store
	RemotePrefix string
}

// Run 导出一份快照并按 Keep 清理旧文件，返回快照路径
func Run(ctx context.Context, db *gorm.DB, cfg Config, now time.Time) (string, error) {
	if cfg.Driver == "mysql" || cfg.Driver == "pg" {
		return "", fmt.Errorf("backup not supported for DB_DRIVER %q", cfg.Driver)
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return "", fmt.Errorf("create backup dir: %w", err)
	}

	dst := filepath.Join(cfg.Dir, filePrefix+now.UTC().Format("20060102_150405")+fileSuffix)
	if _, err := os.Stat(dst); err == nil {
		return "", fmt.Errorf("backup %s already exists", dst)
	}
	// VACUUM INTO 在运行中的库上也能得到一致的快照
	if err := db.WithContext(ctx).Exec("VACUUM INTO ?", dst).Error; err != nil {
		return "", fmt.Errorf("vacuum into %s: %w", dst, err)
	}
	logger.Info("database backup written", zap.String("path", dst))

	if cfg.Remote != nil {
		if err := upload(ctx, cfg, dst); err != nil {
			return dst, fmt.Errorf("upload backup: %w", err)
		}
	}
	if cfg.Keep > 0 {
		if err := prune(cfg.Dir, cfg.Keep); err != nil {
			logger.Warn("prune backups failed", zap.Error(err))
		}
	}
	return dst, nil
}

func upload(ctx context.Context, cfg Config, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return err
	}
	key := cfg.RemotePrefix + filepath.Base(path)
	if err := cfg.Remote.Put(ctx, key, f, st.Size()); err != nil {
		return err
	}
	logger.Info("database backup uploaded", zap.String("key", key))

	if cfg.Keep <= 0 {
		return nil
	}
	keys, err := cfg.Remote.List(ctx, cfg.RemotePrefix+filePrefix)
	if err != nil {
		return err
	}
	if len(keys) <= cfg.Keep {
		return nil
	}
	for _, k := range keys[:len(keys)-cfg.Keep] {
		if err := cfg.Remote.Delete(ctx, k); err != nil {
			return err
		}
	}
	return nil
}

// List 返回目录下的快照，按时间从旧到新
func List(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, fileSuffix) {
			continue
		}
		files = append(files, filepath.Join(dir, name))
	}
	// 文件名里的时间戳定长，字典序即时间序
	sort.Strings(files)
	return files, nil
}

func prune(dir string, keep int) error {
	files, err := List(dir)
	if err != nil {
		return err
	}
	if len(files) <= keep {
		return nil
	}
	for _, f := range files[:len(files)-keep] {
		if err := os.Remove(f); err != nil {
			return err
		}
	}
	return nil
}
