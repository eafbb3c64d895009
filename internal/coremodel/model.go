package coremodel

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// Unit 传感器上报值的单位
type Unit string

const (
	// UnitMassConcentration 质量浓度（欧标），原始寄存器 /10
	UnitMassConcentration Unit = "µg/m³"
	// UnitParticleCount 颗粒计数（英制），原始整数
	UnitParticleCount Unit = "pcs/0.01cft"
)

// ParseUnit 解析配置中的单位名称
func ParseUnit(s string) (Unit, error) {
	switch s {
	case "", "mass", "european", string(UnitMassConcentration), "ug/m3":
		return UnitMassConcentration, nil
	case "count", "imperial", string(UnitParticleCount):
		return UnitParticleCount, nil
	}
	return "", fmt.Errorf("unknown unit %q", s)
}

// IsMassConcentration 是否为质量浓度单位
func (u Unit) IsMassConcentration() bool {
	return u == UnitMassConcentration
}

// WorkState 传感器工作状态
type WorkState string

const (
	WorkStateUnknown   WorkState = "unknown"
	WorkStateMeasuring WorkState = "measuring"
	WorkStateSleeping  WorkState = "sleeping"
)

// ReportMode 传感器上报模式
type ReportMode string

const (
	ReportModeUnknown ReportMode = "unknown"
	ReportModeActive  ReportMode = "active"
	ReportModeQuery   ReportMode = "query"
)

// ParseReportMode 解析配置中的上报模式；空串表示不修改设备当前模式
func ParseReportMode(s string) (ReportMode, error) {
	switch s {
	case "":
		return ReportModeUnknown, nil
	case "query", "passive":
		return ReportModeQuery, nil
	case "active":
		return ReportModeActive, nil
	}
	return "", fmt.Errorf("unknown report mode %q", s)
}

// MaxDutyCycle 工作周期上限（分钟），0 表示连续工作
const MaxDutyCycle = 30

// DeviceState 控制器维护的设备状态视图（只读快照）
type DeviceState struct {
	DeviceID   string     `json:"device_id"`
	Firmware   string     `json:"firmware,omitempty"`
	DutyCycle  int        `json:"duty_cycle"`
	WorkState  WorkState  `json:"work_state"`
	ReportMode ReportMode `json:"report_mode"`
	Unit       Unit       `json:"unit"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// Reading 一条已校验的颗粒物读数
// 约束：同一设备持久化的 Timestamp 严格递增；PM 值非负
type Reading struct {
	Timestamp int64   `json:"timestamp"`
	DeviceID  string  `json:"device_id"`
	PM25      float64 `json:"pm2_5"`
	PM10      float64 `json:"pm10"`
	Unit      Unit    `json:"unit"`
}

// ErrInvalidValue PM 值为负数或 NaN
var ErrInvalidValue = errors.New("invalid particulate value")

// Validate 校验读数取值
func (r Reading) Validate() error {
	if r.PM25 < 0 || r.PM10 < 0 || math.IsNaN(r.PM25) || math.IsNaN(r.PM10) {
		return fmt.Errorf("%w: pm2_5=%v pm10=%v", ErrInvalidValue, r.PM25, r.PM10)
	}
	return nil
}

// Rounded 返回保留两位小数的副本（入库口径）
func (r Reading) Rounded() Reading {
	r.PM25 = math.Round(r.PM25*100) / 100
	r.PM10 = math.Round(r.PM10*100) / 100
	return r
}

// Time 返回时间戳对应的时间
func (r Reading) Time() time.Time {
	return time.Unix(r.Timestamp, 0).UTC()
}
