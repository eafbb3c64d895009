package migrate

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"sort"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/taoyao-code/airq/internal/logging"
)

// Runner 迁移执行器：按版本号顺序执行 <version>_<name>_up.sql
type Runner struct {
	Dir    string
	Logger *zap.Logger
}

// Migration 一个向上迁移文件
type Migration struct {
	Version int64
	Name    string
	Path    string
}

// EnsureTable 保证 schema_migrations 表存在
func EnsureTable(ctx context.Context, db *pgxpool.Pool) error {
	_, err := db.Exec(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
        version BIGINT PRIMARY KEY,
        applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
    )`)
	return err
}

// AppliedVersions 已应用版本
func AppliedVersions(ctx context.Context, db *pgxpool.Pool) (map[int64]bool, error) {
	rows, err := db.Query(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := make(map[int64]bool)
	for rows.Next() {
		var v int64
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		res[v] = true
	}
	return res, rows.Err()
}

// Discover 扫描 fsys 根目录中的 *_up.sql，按版本升序；版本号重复视为错误
func Discover(fsys fs.FS) ([]Migration, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, err
	}
	var out []Migration
	seen := make(map[int64]string)
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, "_up.sql") {
			continue
		}
		prefix, rest, ok := strings.Cut(name, "_")
		if !ok {
			continue
		}
		ver, err := strconv.ParseInt(prefix, 10, 64)
		if err != nil {
			continue
		}
		if prev, dup := seen[ver]; dup {
			return nil, fmt.Errorf("duplicate migration version %d: %s and %s", ver, prev, name)
		}
		seen[ver] = name
		out = append(out, Migration{Version: ver, Name: strings.TrimSuffix(rest, "_up.sql"), Path: path.Clean(name)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

// Up 在各自事务中执行未应用的迁移，返回本次应用的数量
func (r Runner) Up(ctx context.Context, db *pgxpool.Pool) (int, error) {
	if r.Dir == "" {
		return 0, errors.New("migrations dir is empty")
	}
	log := logging.OrNop(r.Logger)

	if err := EnsureTable(ctx, db); err != nil {
		return 0, fmt.Errorf("ensure schema_migrations: %w", err)
	}
	applied, err := AppliedVersions(ctx, db)
	if err != nil {
		return 0, err
	}
	fsys := os.DirFS(r.Dir)
	ups, err := Discover(fsys)
	if err != nil {
		return 0, err
	}

	n := 0
	for _, m := range ups {
		if applied[m.Version] {
			continue
		}
		content, err := fs.ReadFile(fsys, m.Path)
		if err != nil {
			return n, err
		}
		tx, err := db.Begin(ctx)
		if err != nil {
			return n, err
		}
		_, execErr := tx.Exec(ctx, string(content))
		if execErr == nil {
			_, execErr = tx.Exec(ctx, `INSERT INTO schema_migrations(version) VALUES($1)`, m.Version)
		}
		if execErr != nil {
			_ = tx.Rollback(ctx)
			return n, fmt.Errorf("migration %d_%s: %w", m.Version, m.Name, execErr)
		}
		if err := tx.Commit(ctx); err != nil {
			return n, err
		}
		n++
		log.Info("migration applied", zap.Int64("version", m.Version), zap.String("name", m.Name))
	}
	return n, nil
}
