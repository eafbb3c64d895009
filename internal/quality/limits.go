package quality

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/taoyao-code/airq/internal/coremodel"
)

// Limits 参考限值（µg/m³），只对质量浓度单位有意义
type Limits struct {
	Source string  `yaml:"source" json:"source"`
	PM25   float64 `yaml:"pm2_5" json:"pm2_5"`
	PM10   float64 `yaml:"pm10" json:"pm10"`
}

// DefaultLimits WHO 年均指导值
func DefaultLimits() Limits {
	return Limits{Source: "WHO", PM25: 10, PM10: 20}
}

// LoadLimits 从 yaml 读取限值；path 为空返回默认值，缺省字段沿用默认值
func LoadLimits(path string) (Limits, error) {
	l := DefaultLimits()
	if path == "" {
		return l, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return l, fmt.Errorf("read limits: %w", err)
	}
	if err := yaml.Unmarshal(data, &l); err != nil {
		return l, fmt.Errorf("parse limits %s: %w", path, err)
	}
	if l.PM25 <= 0 || l.PM10 <= 0 {
		return l, fmt.Errorf("limits must be positive: pm2_5=%v pm10=%v", l.PM25, l.PM10)
	}
	return l, nil
}

// Assessment 单条读数的评估结果
type Assessment struct {
	Timestamp    int64 `json:"timestamp"`
	Applicable   bool  `json:"applicable"`
	PM25Exceeded bool  `json:"pm2_5_exceeded"`
	PM10Exceeded bool  `json:"pm10_exceeded"`
}

// Exceeded 任一指标超限
func (a Assessment) Exceeded() bool {
	return a.PM25Exceeded || a.PM10Exceeded
}

// Evaluate 对比限值；颗粒计数单位不可比较，Applicable=false
func (l Limits) Evaluate(r coremodel.Reading) Assessment {
	a := Assessment{Timestamp: r.Timestamp}
	if !r.Unit.IsMassConcentration() {
		return a
	}
	a.Applicable = true
	a.PM25Exceeded = r.PM25 > l.PM25
	a.PM10Exceeded = r.PM10 > l.PM10
	return a
}
