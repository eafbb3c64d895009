package models

import "time"

// 注意：
// - 保持与 db/migrations/0001_readings_up.sql 完全对齐
// - 不使用 gorm.Model，显式声明每个字段，避免隐式 DeletedAt

// Reading 映射 readings 表，(device_id, ts) 为联合主键
type Reading struct {
	DeviceID string `gorm:"column:device_id;type:text;primaryKey"`
	// Unix 秒
	TS   int64   `gorm:"column:ts;primaryKey;autoIncrement:false"`
	PM25 float64 `gorm:"column:pm2_5;not null"`
	PM10 float64 `gorm:"column:pm10;not null"`
	Unit string  `gorm:"column:unit;type:text;not null"`
	// 审计字段
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (Reading) TableName() string { return "readings" }
