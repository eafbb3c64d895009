package health

import "sync/atomic"

// Readiness 启动阶段就绪标记（存储、传感器）
type Readiness struct {
	storeReady  atomic.Bool
	sensorReady atomic.Bool
}

func New() *Readiness { return &Readiness{} }

func (r *Readiness) SetStoreReady(v bool)  { r.storeReady.Store(v) }
func (r *Readiness) SetSensorReady(v bool) { r.sensorReady.Store(v) }

// Ready 总体就绪：各子系统均为 true
func (r *Readiness) Ready() bool {
	return r.storeReady.Load() && r.sensorReady.Load()
}
