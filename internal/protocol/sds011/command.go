package sds011

import (
	"fmt"

	"github.com/taoyao-code/airq/internal/coremodel"
)

// Op 查询/设置标志（data[0]）
type Op byte

const (
	OpQuery Op = 0x00
	OpSet   Op = 0x01
)

// 线上取值
const (
	wireReportActive = 0x00
	wireReportQuery  = 0x01
	wireSleeping     = 0x00
	wireMeasuring    = 0x01
)

// Request 语义命令（未绑定目标设备）
type Request struct {
	Sub     byte
	Payload []byte
}

// Encode 绑定目标设备并编码为命令帧
func (r Request) Encode(target DeviceID) (CommandFrame, error) {
	return EncodeCommand(r.Sub, r.Payload, target)
}

// Name 返回子命令名称（日志/指标标签）
func (r Request) Name() string {
	return SubName(r.Sub)
}

// SubName 子命令名称
func SubName(sub byte) string {
	switch sub {
	case SubReportMode:
		return "report_mode"
	case SubQueryData:
		return "query_data"
	case SubSetDeviceID:
		return "set_device_id"
	case SubWorkState:
		return "work_state"
	case SubFirmware:
		return "firmware"
	case SubWorkingPeriod:
		return "working_period"
	default:
		return fmt.Sprintf("0x%02X", sub)
	}
}

// QueryDataRequest 查询一次测量数据
func QueryDataRequest() Request {
	return Request{Sub: SubQueryData}
}

// ReportModeRequest 查询/设置上报模式
func ReportModeRequest(op Op, mode coremodel.ReportMode) Request {
	v := byte(wireReportActive)
	if mode == coremodel.ReportModeQuery {
		v = wireReportQuery
	}
	return Request{Sub: SubReportMode, Payload: []byte{byte(op), v}}
}

// WorkStateRequest 查询/设置工作状态（睡眠/测量）
func WorkStateRequest(op Op, state coremodel.WorkState) Request {
	v := byte(wireSleeping)
	if state == coremodel.WorkStateMeasuring {
		v = wireMeasuring
	}
	return Request{Sub: SubWorkState, Payload: []byte{byte(op), v}}
}

// WorkingPeriodRequest 查询/设置工作周期（0-30分钟，0为连续）
func WorkingPeriodRequest(op Op, minutes int) (Request, error) {
	if minutes < 0 || minutes > coremodel.MaxDutyCycle {
		return Request{}, fmt.Errorf("%w: duty cycle %d out of range 0..%d", ErrInvalidPayload, minutes, coremodel.MaxDutyCycle)
	}
	return Request{Sub: SubWorkingPeriod, Payload: []byte{byte(op), byte(minutes)}}, nil
}

// FirmwareRequest 查询固件版本
func FirmwareRequest() Request {
	return Request{Sub: SubFirmware}
}

// SetDeviceIDRequest 修改设备号（新ID位于 data[10..11]）
func SetDeviceIDRequest(newID DeviceID) Request {
	payload := make([]byte, PayloadSize)
	payload[10], payload[11] = newID.bytes()
	return Request{Sub: SubSetDeviceID, Payload: payload}
}

// reportModeFromWire 线上值转上报模式
func reportModeFromWire(v byte) coremodel.ReportMode {
	if v == wireReportQuery {
		return coremodel.ReportModeQuery
	}
	return coremodel.ReportModeActive
}

// workStateFromWire 线上值转工作状态
func workStateFromWire(v byte) coremodel.WorkState {
	if v == wireMeasuring {
		return coremodel.WorkStateMeasuring
	}
	return coremodel.WorkStateSleeping
}
