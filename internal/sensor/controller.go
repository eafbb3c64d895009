package sensor

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	cfgpkg "github.com/taoyao-code/airq/internal/config"
	"github.com/taoyao-code/airq/internal/coremodel"
	"github.com/taoyao-code/airq/internal/logging"
	"github.com/taoyao-code/airq/internal/metrics"
	"github.com/taoyao-code/airq/internal/protocol/sds011"
	"github.com/taoyao-code/airq/internal/seriallink"
)

var (
	// ErrProtocol 重同步一次后仍收不到合法应答
	ErrProtocol = errors.New("sensor: protocol error")
	// ErrInvalidDutyCycle 工作周期超出 0..30 分钟
	ErrInvalidDutyCycle = errors.New("sensor: duty cycle out of range")
)

// ProtocolError 命令级协议错误，errors.Is(err, ErrProtocol) 成立
type ProtocolError struct {
	Command string
	Err     error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("sensor: %s: %v", e.Command, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

func (e *ProtocolError) Is(target error) bool { return target == ErrProtocol }

// Transport 链路抽象（*seriallink.Link 实现）
type Transport interface {
	Send(frame sds011.CommandFrame) error
	ResyncAndRead() (sds011.ResponseFrame, error)
}

const defaultMaxSkipFrames = 3

// Options 控制器参数
type Options struct {
	Target        sds011.DeviceID
	Unit          coremodel.Unit
	MaxSkipFrames int
}

// Controller 把语义命令翻译成帧，并维护设备状态
// 设备状态只由 Controller 写入；HTTP 等其他协程通过 State() 读取快照
type Controller struct {
	link    Transport
	unit    coremodel.Unit
	maxSkip int
	logger  *zap.Logger
	appm    *metrics.AppMetrics
	now     func() time.Time

	// cmdMu 串行化命令往返
	cmdMu sync.Mutex

	mu     sync.RWMutex
	target sds011.DeviceID
	state  coremodel.DeviceState
}

// New 创建控制器
func New(link Transport, opts Options, logger *zap.Logger, appm *metrics.AppMetrics) *Controller {
	unit := opts.Unit
	if unit == "" {
		unit = coremodel.UnitMassConcentration
	}
	maxSkip := opts.MaxSkipFrames
	if maxSkip <= 0 {
		maxSkip = defaultMaxSkipFrames
	}
	return &Controller{
		link:    link,
		unit:    unit,
		maxSkip: maxSkip,
		logger:  logging.OrNop(logger),
		appm:    appm,
		now:     time.Now,
		target:  opts.Target,
		state: coremodel.DeviceState{
			DeviceID:   opts.Target.String(),
			WorkState:  coremodel.WorkStateUnknown,
			ReportMode: coremodel.ReportModeUnknown,
			Unit:       unit,
		},
	}
}

// OptionsFromConfig 从传感器配置解析控制器参数
func OptionsFromConfig(cfg cfgpkg.SensorConfig) (Options, error) {
	target, err := sds011.ParseDeviceID(cfg.DeviceID)
	if err != nil {
		return Options{}, err
	}
	unit, err := coremodel.ParseUnit(cfg.Unit)
	if err != nil {
		return Options{}, fmt.Errorf("sensor: %w", err)
	}
	return Options{Target: target, Unit: unit, MaxSkipFrames: cfg.MaxSkipFrames}, nil
}

// State 设备状态快照
func (c *Controller) State() coremodel.DeviceState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Unit 读数单位
func (c *Controller) Unit() coremodel.Unit {
	return c.unit
}

// DeviceID 当前目标设备号
func (c *Controller) DeviceID() sds011.DeviceID {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.target
}

// SetWorkState 唤醒或休眠传感器
func (c *Controller) SetWorkState(state coremodel.WorkState) error {
	resp, err := c.exchange(sds011.WorkStateRequest(sds011.OpSet, state))
	if err != nil {
		return err
	}
	got, err := resp.WorkState()
	if err != nil {
		return &ProtocolError{Command: "work_state", Err: err}
	}
	c.update(resp, func(s *coremodel.DeviceState) { s.WorkState = got })
	if got != state {
		return &ProtocolError{Command: "work_state", Err: fmt.Errorf("sensor reported %s, want %s", got, state)}
	}
	c.logger.Debug("work state set", zap.String("state", string(got)))
	return nil
}

// SetReportMode 设置主动/查询上报模式
func (c *Controller) SetReportMode(mode coremodel.ReportMode) error {
	resp, err := c.exchange(sds011.ReportModeRequest(sds011.OpSet, mode))
	if err != nil {
		return err
	}
	got, err := resp.ReportMode()
	if err != nil {
		return &ProtocolError{Command: "report_mode", Err: err}
	}
	c.update(resp, func(s *coremodel.DeviceState) { s.ReportMode = got })
	if got != mode {
		return &ProtocolError{Command: "report_mode", Err: fmt.Errorf("sensor reported %s, want %s", got, mode)}
	}
	return nil
}

// SetDutyCycle 设置工作周期（分钟），越界时不访问串口
func (c *Controller) SetDutyCycle(minutes int) error {
	req, err := sds011.WorkingPeriodRequest(sds011.OpSet, minutes)
	if err != nil {
		return fmt.Errorf("%w: %d", ErrInvalidDutyCycle, minutes)
	}
	resp, err := c.exchange(req)
	if err != nil {
		return err
	}
	got, err := resp.WorkingPeriod()
	if err != nil {
		return &ProtocolError{Command: "working_period", Err: err}
	}
	c.update(resp, func(s *coremodel.DeviceState) { s.DutyCycle = got })
	if got != minutes {
		return &ProtocolError{Command: "working_period", Err: fmt.Errorf("sensor reported %d, want %d", got, minutes)}
	}
	return nil
}

// SetDeviceID 修改传感器设备号；非广播目标随之切换
func (c *Controller) SetDeviceID(newID sds011.DeviceID) error {
	// 应答携带新设备号
	resp, err := c.exchangeAs(sds011.SetDeviceIDRequest(newID), newID)
	if err != nil {
		return err
	}
	if resp.DeviceID() != newID {
		return &ProtocolError{Command: "set_device_id", Err: fmt.Errorf("sensor reported %s, want %s", resp.DeviceID(), newID)}
	}
	c.mu.Lock()
	if c.target != sds011.Broadcast {
		c.target = newID
	}
	c.mu.Unlock()
	c.update(resp, nil)
	c.logger.Info("device id changed", zap.Stringer("device_id", newID))
	return nil
}

// QueryDeviceInfo 查询固件、上报模式、工作状态与工作周期
// 传感器休眠时只应答工作状态命令，调用前应先唤醒
func (c *Controller) QueryDeviceInfo() (coremodel.DeviceState, error) {
	resp, err := c.exchange(sds011.FirmwareRequest())
	if err != nil {
		return coremodel.DeviceState{}, err
	}
	fw, err := resp.Firmware()
	if err != nil {
		return coremodel.DeviceState{}, &ProtocolError{Command: "firmware", Err: err}
	}
	c.update(resp, func(s *coremodel.DeviceState) { s.Firmware = fw })

	if resp, err = c.exchange(sds011.ReportModeRequest(sds011.OpQuery, coremodel.ReportModeUnknown)); err != nil {
		return coremodel.DeviceState{}, err
	}
	mode, err := resp.ReportMode()
	if err != nil {
		return coremodel.DeviceState{}, &ProtocolError{Command: "report_mode", Err: err}
	}
	c.update(resp, func(s *coremodel.DeviceState) { s.ReportMode = mode })

	if resp, err = c.exchange(sds011.WorkStateRequest(sds011.OpQuery, coremodel.WorkStateUnknown)); err != nil {
		return coremodel.DeviceState{}, err
	}
	ws, err := resp.WorkState()
	if err != nil {
		return coremodel.DeviceState{}, &ProtocolError{Command: "work_state", Err: err}
	}
	c.update(resp, func(s *coremodel.DeviceState) { s.WorkState = ws })

	period, err := sds011.WorkingPeriodRequest(sds011.OpQuery, 0)
	if err != nil {
		return coremodel.DeviceState{}, err
	}
	if resp, err = c.exchange(period); err != nil {
		return coremodel.DeviceState{}, err
	}
	duty, err := resp.WorkingPeriod()
	if err != nil {
		return coremodel.DeviceState{}, &ProtocolError{Command: "working_period", Err: err}
	}
	c.update(resp, func(s *coremodel.DeviceState) { s.DutyCycle = duty })

	return c.State(), nil
}

// ReadMeasurement 查询一次测量帧（查询模式与主动模式均适用）
func (c *Controller) ReadMeasurement() (sds011.Fragment, error) {
	resp, err := c.exchange(sds011.QueryDataRequest())
	if err != nil {
		return sds011.Fragment{}, err
	}
	frag, err := resp.Measurement()
	if err != nil {
		return sds011.Fragment{}, &ProtocolError{Command: "query_data", Err: err}
	}
	c.update(resp, nil)
	return frag, nil
}

// Prepare 启动时应用配置的上报模式与工作周期，并记录设备信息，结束后让传感器休眠
func (c *Controller) Prepare(mode coremodel.ReportMode, dutyCycle int) (coremodel.DeviceState, error) {
	if err := c.SetWorkState(coremodel.WorkStateMeasuring); err != nil {
		return coremodel.DeviceState{}, fmt.Errorf("wake: %w", err)
	}
	if mode != "" && mode != coremodel.ReportModeUnknown {
		if err := c.SetReportMode(mode); err != nil {
			return coremodel.DeviceState{}, fmt.Errorf("report mode: %w", err)
		}
	}
	if err := c.SetDutyCycle(dutyCycle); err != nil {
		return coremodel.DeviceState{}, fmt.Errorf("duty cycle: %w", err)
	}
	info, err := c.QueryDeviceInfo()
	if err != nil {
		return coremodel.DeviceState{}, fmt.Errorf("device info: %w", err)
	}
	c.logger.Info("sds011 sensor info",
		zap.String("device_id", info.DeviceID),
		zap.String("firmware", info.Firmware),
		zap.Int("duty_cycle", info.DutyCycle),
		zap.String("work_state", string(info.WorkState)),
		zap.String("report_mode", string(info.ReportMode)),
	)
	if err := c.SetWorkState(coremodel.WorkStateSleeping); err != nil {
		return info, fmt.Errorf("sleep: %w", err)
	}
	return c.State(), nil
}

// exchange 发送命令并等待对应应答
func (c *Controller) exchange(req sds011.Request) (*sds011.Response, error) {
	return c.exchangeAs(req, c.DeviceID())
}

// exchangeAs 发送命令并等待来自 replyFrom 的应答
// 帧错误或校验错误时透明重同步一次；无关的合法帧跳过（上限 maxSkip）
func (c *Controller) exchangeAs(req sds011.Request, replyFrom sds011.DeviceID) (*sds011.Response, error) {
	c.cmdMu.Lock()
	defer c.cmdMu.Unlock()

	name := req.Name()
	frame, err := req.Encode(c.DeviceID())
	if err != nil {
		return nil, err
	}
	if err := c.link.Send(frame); err != nil {
		c.appm.ObserveCommand(name, "link")
		return nil, err
	}

	resynced := false
	skipped := 0
	for {
		raw, err := c.link.ResyncAndRead()
		if err != nil {
			if errors.Is(err, seriallink.ErrTimeout) {
				c.appm.ObserveCommand(name, "timeout")
			} else {
				c.appm.ObserveCommand(name, "link")
			}
			return nil, err
		}

		resp, err := sds011.DecodeResponse(raw[:])
		if err != nil {
			c.appm.ObserveFrameError(frameErrorKind(err))
			if !resynced {
				resynced = true
				c.logger.Debug("bad response frame, resyncing", zap.String("cmd", name), zap.Error(err))
				continue
			}
			c.appm.ObserveCommand(name, "protocol")
			return nil, &ProtocolError{Command: name, Err: err}
		}

		if !resp.Answers(req.Sub) || (replyFrom != sds011.Broadcast && resp.DeviceID() != replyFrom) {
			skipped++
			if skipped > c.maxSkip {
				c.appm.ObserveCommand(name, "protocol")
				return nil, &ProtocolError{
					Command: name,
					Err:     fmt.Errorf("%w: no reply after %d unrelated frames", sds011.ErrFraming, skipped),
				}
			}
			continue
		}

		c.appm.ObserveCommand(name, "ok")
		return resp, nil
	}
}

// update 以应答刷新设备状态；广播目标时记录应答方设备号
func (c *Controller) update(resp *sds011.Response, fn func(*coremodel.DeviceState)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.DeviceID = resp.DeviceID().String()
	if fn != nil {
		fn(&c.state)
	}
	c.state.UpdatedAt = c.now().UTC()
}

func frameErrorKind(err error) string {
	if errors.Is(err, sds011.ErrChecksum) {
		return "checksum"
	}
	return "framing"
}
