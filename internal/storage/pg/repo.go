package pg

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/taoyao-code/airq/internal/coremodel"
)

// DBTX pgx 连接池/事务的最小公共接口（*pgxpool.Pool 实现）
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository 读数写入端（PostgreSQL）
type Repository struct {
	DB DBTX
}

// 以 (device_id, ts) 为键覆盖写入，同一读数重复写入结果不变
const upsertReadingSQL = `INSERT INTO readings (device_id, ts, pm2_5, pm10, unit, updated_at)
               VALUES ($1, $2, $3, $4, $5, NOW())
               ON CONFLICT (device_id, ts)
               DO UPDATE SET pm2_5 = EXCLUDED.pm2_5, pm10 = EXCLUDED.pm10, unit = EXCLUDED.unit, updated_at = NOW()`

// Backend 后端名称
func (r *Repository) Backend() string { return "postgres" }

// UpsertReading 写入或覆盖一条读数
func (r *Repository) UpsertReading(ctx context.Context, rd coremodel.Reading) error {
	_, err := r.DB.Exec(ctx, upsertReadingSQL, rd.DeviceID, rd.Timestamp, rd.PM25, rd.PM10, string(rd.Unit))
	return err
}

// LatestTimestamp 指定设备最近一条读数的时间戳；无数据返回 0
func (r *Repository) LatestTimestamp(ctx context.Context, deviceID string) (int64, error) {
	const q = `SELECT ts FROM readings WHERE device_id = $1 ORDER BY ts DESC LIMIT 1`
	var ts int64
	err := r.DB.QueryRow(ctx, q, deviceID).Scan(&ts)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	return ts, err
}
