package measure

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/taoyao-code/airq/internal/coremodel"
	"github.com/taoyao-code/airq/internal/logging"
	"github.com/taoyao-code/airq/internal/metrics"
	"github.com/taoyao-code/airq/internal/protocol/sds011"
	"github.com/taoyao-code/airq/internal/storage"
)

// State 测量周期状态
type State string

const (
	StateIdle       State = "idle"
	StateResetting  State = "resetting"
	StateWarmingUp  State = "warming_up"
	StateReading    State = "reading"
	StateParsing    State = "parsing"
	StatePersisting State = "persisting"
	StateSleeping   State = "sleeping"
)

// FailureKind 一个周期只报告一种失败
type FailureKind string

const (
	FailureNone    FailureKind = "none"
	FailureWake    FailureKind = "wake"
	FailureRead    FailureKind = "read"
	FailurePersist FailureKind = "persist"
	FailureSleep   FailureKind = "sleep"
)

const (
	defaultWarmUp       = 60 * time.Second
	defaultWriteTimeout = 10 * time.Second
)

// Sensor 编排器需要的传感器能力（*sensor.Controller 实现）
type Sensor interface {
	SetWorkState(state coremodel.WorkState) error
	ReadMeasurement() (sds011.Fragment, error)
	Unit() coremodel.Unit
}

// Persister 持久化能力（*storage.Gateway 实现）
type Persister interface {
	Write(ctx context.Context, r coremodel.Reading) (storage.Ack, error)
}

// Clock 可注入时钟；预热等待只通过它进行
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
}

type systemClock struct{}

func (systemClock) Now() time.Time        { return time.Now() }
func (systemClock) Sleep(d time.Duration) { time.Sleep(d) }

// SystemClock 真实时钟
func SystemClock() Clock { return systemClock{} }

// Cycle 单次测量周期的临时数据，不跨周期保留
type Cycle struct {
	ID             string             `json:"cycle_id"`
	StartedAt      time.Time          `json:"started_at"`
	WarmUpDeadline time.Time          `json:"warm_up_deadline"`
	Fragment       *sds011.Fragment   `json:"-"`
	Reading        *coremodel.Reading `json:"reading,omitempty"`
	Ack            *storage.Ack       `json:"ack,omitempty"`
	Persisted      bool               `json:"persisted"`
}

// Result 周期结果
type Result struct {
	Cycle
	Failure  FailureKind   `json:"failure"`
	Err      error         `json:"-"`
	Error    string        `json:"error,omitempty"`
	Trace    []State       `json:"trace"`
	Duration time.Duration `json:"duration"`
}

// OK 周期完整成功（已入库且传感器已休眠）
func (r Result) OK() bool {
	return r.Failure == FailureNone
}

// Options 编排器参数
type Options struct {
	WarmUp       time.Duration
	WriteTimeout time.Duration
	Clock        Clock
	// LastTimestamp 存储中已有的最近时间戳，新读数从其之后开始
	LastTimestamp int64
}

// Orchestrator 测量周期状态机
// Idle → Resetting → WarmingUp → Reading → Parsing → Persisting → Sleeping → Idle
type Orchestrator struct {
	sensor    Sensor
	persister Persister
	warmUp    time.Duration
	writeTO   time.Duration
	clock     Clock
	logger    *zap.Logger
	appm      *metrics.AppMetrics

	// mu 保证同一时刻只有一个周期
	mu     sync.Mutex
	lastTS int64
}

// NewOrchestrator 创建编排器
func NewOrchestrator(s Sensor, p Persister, opts Options, logger *zap.Logger, appm *metrics.AppMetrics) *Orchestrator {
	o := &Orchestrator{
		sensor:    s,
		persister: p,
		warmUp:    opts.WarmUp,
		writeTO:   opts.WriteTimeout,
		clock:     opts.Clock,
		logger:    logging.OrNop(logger),
		appm:      appm,
		lastTS:    opts.LastTimestamp,
	}
	if o.warmUp <= 0 {
		o.warmUp = defaultWarmUp
	}
	if o.writeTO <= 0 {
		o.writeTO = defaultWriteTimeout
	}
	if o.clock == nil {
		o.clock = SystemClock()
	}
	return o
}

// cycleRun 一次周期的执行上下文
type cycleRun struct {
	res Result
	log *zap.Logger
}

func (c *cycleRun) enter(s State) {
	c.res.Trace = append(c.res.Trace, s)
	c.log.Debug("cycle state", zap.String("state", string(s)))
}

func (c *cycleRun) fail(kind FailureKind, err error) {
	if c.res.Failure != FailureNone {
		// 先发生的失败优先，后续错误附加
		c.res.Err = errors.Join(c.res.Err, err)
		return
	}
	c.res.Failure = kind
	c.res.Err = err
}

// RunCycle 执行一次完整周期
// 周期内不响应取消：已唤醒的传感器必须被送回休眠；写库使用独立超时
func (o *Orchestrator) RunCycle(ctx context.Context) Result {
	o.mu.Lock()
	defer o.mu.Unlock()

	start := o.clock.Now()
	id := uuid.NewString()
	c := &cycleRun{
		res: Result{Cycle: Cycle{ID: id, StartedAt: start.UTC()}, Failure: FailureNone},
		log: o.logger.With(zap.String("cycle_id", id)),
	}

	o.run(ctx, c)

	c.enter(StateIdle)
	c.res.Duration = o.clock.Now().Sub(start)
	if c.res.Err != nil {
		c.res.Error = c.res.Err.Error()
	}
	result := string(c.res.Failure)
	if c.res.OK() {
		result = "success"
	}
	o.appm.ObserveCycle(result, c.res.Duration)

	fields := []zap.Field{
		zap.String("failure", string(c.res.Failure)),
		zap.Bool("persisted", c.res.Persisted),
		zap.Duration("duration", c.res.Duration),
	}
	if c.res.Reading != nil {
		fields = append(fields, zap.Float64("pm2_5", c.res.Reading.PM25), zap.Float64("pm10", c.res.Reading.PM10))
	}
	if c.res.OK() {
		c.log.Info("measurement cycle completed", fields...)
	} else {
		c.log.Warn("measurement cycle failed", append(fields, zap.Error(c.res.Err))...)
	}
	return c.res
}

func (o *Orchestrator) run(ctx context.Context, c *cycleRun) {
	c.enter(StateResetting)
	if err := o.sensor.SetWorkState(coremodel.WorkStateMeasuring); err != nil {
		c.fail(FailureWake, err)
		o.bestEffortSleep(c)
		return
	}

	c.enter(StateWarmingUp)
	c.res.WarmUpDeadline = o.clock.Now().Add(o.warmUp).UTC()
	o.waitUntil(c.res.WarmUpDeadline)

	c.enter(StateReading)
	frag, err := o.sensor.ReadMeasurement()
	if err != nil {
		// 读失败放弃本周期，不写库
		c.fail(FailureRead, err)
		o.bestEffortSleep(c)
		return
	}
	c.res.Fragment = &frag

	c.enter(StateParsing)
	reading := o.buildReading(frag)
	c.res.Reading = &reading
	o.appm.SetReading(reading.DeviceID, reading.PM25, reading.PM10)

	c.enter(StatePersisting)
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.writeTO)
	ack, err := o.persister.Write(wctx, reading)
	cancel()
	if err != nil {
		c.fail(FailurePersist, err)
	} else {
		c.res.Ack = &ack
		c.res.Persisted = true
	}

	c.enter(StateSleeping)
	if err := o.sensor.SetWorkState(coremodel.WorkStateSleeping); err != nil {
		c.fail(FailureSleep, err)
	}
}

// waitUntil 等到截止时间；每次睡眠后重新检查，时钟提前返回也不会提前读数
func (o *Orchestrator) waitUntil(deadline time.Time) {
	for {
		now := o.clock.Now()
		if !now.Before(deadline) {
			return
		}
		o.clock.Sleep(deadline.Sub(now))
	}
}

// bestEffortSleep 中止周期时尽量让传感器休眠，失败只记录
func (o *Orchestrator) bestEffortSleep(c *cycleRun) {
	if err := o.sensor.SetWorkState(coremodel.WorkStateSleeping); err != nil {
		c.log.Warn("put sensor to sleep after abort failed", zap.Error(err))
		c.res.Err = errors.Join(c.res.Err, err)
	}
}

// buildReading 由测量帧、当前时间与单位组装读数；同设备时间戳严格递增
func (o *Orchestrator) buildReading(frag sds011.Fragment) coremodel.Reading {
	unit := o.sensor.Unit()
	pm25, pm10 := frag.Values(unit)
	ts := o.clock.Now().Unix()
	if ts <= o.lastTS {
		ts = o.lastTS + 1
	}
	o.lastTS = ts
	return coremodel.Reading{
		Timestamp: ts,
		DeviceID:  frag.DeviceID.String(),
		PM25:      pm25,
		PM10:      pm10,
		Unit:      unit,
	}.Rounded()
}
