package sds011

import (
	"encoding/binary"
	"errors"
	"sync"
	"time"

	"github.com/taoyao-code/airq/internal/coremodel"
)

// ErrSimulatorClosed 虚拟传感器已关闭
var ErrSimulatorClosed = errors.New("sds011: simulator closed")

// Simulator 内存中的虚拟SDS011，实现 io.ReadWriteCloser
// 写入命令帧，读出应答帧；用于无硬件运行与测试
//
// 行为约定（与实物一致）：
//   - 睡眠状态只应答工作状态命令
//   - 主动上报模式下每次应答前先吐出一帧测量数据
//   - 目标设备号既非广播也非本机时不应答
type Simulator struct {
	mu sync.Mutex

	id         DeviceID
	firmware   [3]byte
	workState  coremodel.WorkState
	reportMode coremodel.ReportMode
	period     int
	pm25, pm10 uint16

	in     []byte
	out    []byte
	noise  []byte
	silent bool
	closed bool

	idleDelay time.Duration
	received  []Command
}

// NewSimulator 创建虚拟传感器（默认：测量中、主动上报、连续工作）
func NewSimulator(id DeviceID) *Simulator {
	return &Simulator{
		id:         id,
		firmware:   [3]byte{18, 11, 16},
		workState:  coremodel.WorkStateMeasuring,
		reportMode: coremodel.ReportModeActive,
		pm25:       100,
		pm10:       200,
		idleDelay:  time.Millisecond,
	}
}

// SetMeasurement 设置下一次上报的原始寄存器值
func (s *Simulator) SetMeasurement(pm25Raw, pm10Raw uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pm25, s.pm10 = pm25Raw, pm10Raw
}

// SetSilent 模拟断线：不再应答任何命令
func (s *Simulator) SetSilent(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.silent = v
}

// InjectNoise 在下一帧应答前插入垃圾字节
func (s *Simulator) InjectNoise(b ...byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.noise = append(s.noise, b...)
}

// WorkState 当前工作状态
func (s *Simulator) WorkState() coremodel.WorkState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.workState
}

// ReportMode 当前上报模式
func (s *Simulator) ReportMode() coremodel.ReportMode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reportMode
}

// Received 已收到的命令（按顺序）
func (s *Simulator) Received() []Command {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Command, len(s.received))
	copy(out, s.received)
	return out
}

// Write 接收主机命令字节，支持分段写入
func (s *Simulator) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrSimulatorClosed
	}
	s.in = append(s.in, p...)
	for {
		start := -1
		for i, b := range s.in {
			if b == HeadByte {
				start = i
				break
			}
		}
		if start < 0 {
			s.in = s.in[:0]
			return len(p), nil
		}
		s.in = s.in[start:]
		if len(s.in) < CommandSize {
			return len(p), nil
		}
		cmd, err := ParseCommand(s.in[:CommandSize])
		if err != nil {
			// 校验失败，滑动一个字节继续同步
			s.in = s.in[1:]
			continue
		}
		s.in = s.in[CommandSize:]
		s.received = append(s.received, *cmd)
		s.handle(cmd)
	}
}

// Read 读取待发送字节；无数据时短暂等待后返回 0（与串口读超时语义一致）
func (s *Simulator) Read(p []byte) (int, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return 0, ErrSimulatorClosed
	}
	if len(s.out) == 0 {
		delay := s.idleDelay
		s.mu.Unlock()
		time.Sleep(delay)
		return 0, nil
	}
	n := copy(p, s.out)
	s.out = s.out[n:]
	s.mu.Unlock()
	return n, nil
}

// ResetInputBuffer 丢弃尚未读取的应答
func (s *Simulator) ResetInputBuffer() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.out = s.out[:0]
	return nil
}

// Close 关闭虚拟传感器
func (s *Simulator) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *Simulator) handle(cmd *Command) {
	if s.silent {
		return
	}
	if cmd.Target != Broadcast && cmd.Target != s.id {
		return
	}
	if s.workState == coremodel.WorkStateSleeping && cmd.Sub != SubWorkState {
		return
	}

	op := Op(cmd.Payload[0])
	var data [ResponseDataSize]byte
	data[0] = cmd.Sub
	data[1] = byte(op)

	switch cmd.Sub {
	case SubQueryData:
		s.emit(s.measurementFrame())
		return
	case SubReportMode:
		if op == OpSet {
			s.reportMode = reportModeFromWire(cmd.Payload[1])
		}
		data[2] = wireReportActive
		if s.reportMode == coremodel.ReportModeQuery {
			data[2] = wireReportQuery
		}
	case SubWorkState:
		if op == OpSet {
			s.workState = workStateFromWire(cmd.Payload[1])
		}
		data[2] = wireSleeping
		if s.workState == coremodel.WorkStateMeasuring {
			data[2] = wireMeasuring
		}
	case SubWorkingPeriod:
		if op == OpSet {
			s.period = int(cmd.Payload[1])
		}
		data[2] = byte(s.period)
	case SubFirmware:
		data[1], data[2], data[3] = s.firmware[0], s.firmware[1], s.firmware[2]
	case SubSetDeviceID:
		s.id = deviceIDFrom(cmd.Payload[10], cmd.Payload[11])
		data[1] = 0
	default:
		return
	}
	data[4], data[5] = s.id.bytes()

	if s.reportMode == coremodel.ReportModeActive && s.workState == coremodel.WorkStateMeasuring {
		s.emit(s.measurementFrame())
	}
	s.emit(EncodeResponse(CmdReply, data))
}

func (s *Simulator) measurementFrame() ResponseFrame {
	var data [ResponseDataSize]byte
	binary.LittleEndian.PutUint16(data[0:2], s.pm25)
	binary.LittleEndian.PutUint16(data[2:4], s.pm10)
	data[4], data[5] = s.id.bytes()
	return EncodeResponse(CmdMeasurement, data)
}

func (s *Simulator) emit(f ResponseFrame) {
	if len(s.noise) > 0 {
		s.out = append(s.out, s.noise...)
		s.noise = s.noise[:0]
	}
	s.out = append(s.out, f[:]...)
}
