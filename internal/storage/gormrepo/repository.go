package gormrepo

import (
	"context"
	"database/sql"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/taoyao-code/airq/internal/coremodel"
	"github.com/taoyao-code/airq/internal/storage/models"
)

// Repository 基于 GORM 的读数仓储，只读，作为本地读缓存的拉取源；写入走 pgx。
type Repository struct {
	db *gorm.DB
}

// Open 以 DSN 打开 PostgreSQL（gorm 方言），只输出慢查询与错误
func Open(dsn string) (*gorm.DB, error) {
	return gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
}

// New 返回一个使用给定 *gorm.DB 的仓储实例。
func New(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// ListReadings 返回 since 之后（含）的全部读数，按时间升序；since 为零值时全表扫描。
func (r *Repository) ListReadings(ctx context.Context, since time.Time) ([]coremodel.Reading, error) {
	var rows []models.Reading
	if err := listQuery(r.db.WithContext(ctx), since).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]coremodel.Reading, 0, len(rows))
	for _, row := range rows {
		out = append(out, fromModel(row))
	}
	return out, nil
}

func listQuery(tx *gorm.DB, since time.Time) *gorm.DB {
	q := tx.Model(&models.Reading{}).Order("ts ASC").Order("device_id ASC")
	if !since.IsZero() {
		q = q.Where("ts >= ?", since.Unix())
	}
	return q
}

// LatestTimestamp 设备最近读数时间戳，无数据返回 0
func (r *Repository) LatestTimestamp(ctx context.Context, deviceID string) (int64, error) {
	var ts sql.NullInt64
	err := r.db.WithContext(ctx).Model(&models.Reading{}).
		Where("device_id = ?", deviceID).
		Select("MAX(ts)").
		Row().Scan(&ts)
	if err != nil {
		return 0, err
	}
	return ts.Int64, nil
}

func fromModel(m models.Reading) coremodel.Reading {
	return coremodel.Reading{
		Timestamp: m.TS,
		DeviceID:  m.DeviceID,
		PM25:      m.PM25,
		PM10:      m.PM10,
		Unit:      coremodel.Unit(m.Unit),
	}
}
