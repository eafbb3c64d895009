package sds011

import (
	"encoding/binary"
	"fmt"

	"github.com/taoyao-code/airq/internal/coremodel"
)

// Fragment 测量帧解出的原始寄存器（尚未带时间戳）
type Fragment struct {
	PM25Raw  uint16
	PM10Raw  uint16
	DeviceID DeviceID
}

// Values 按单位换算：质量浓度 /10.0，颗粒计数取原始整数
func (f Fragment) Values(unit coremodel.Unit) (pm25, pm10 float64) {
	if unit.IsMassConcentration() {
		return float64(f.PM25Raw) / 10.0, float64(f.PM10Raw) / 10.0
	}
	return float64(f.PM25Raw), float64(f.PM10Raw)
}

// DecodeMeasurement 解析测量帧：data[0..1]=PM2.5(LE)，data[2..3]=PM10(LE)，data[4..5]=设备号
func DecodeMeasurement(raw []byte) (Fragment, error) {
	r, err := DecodeResponse(raw)
	if err != nil {
		return Fragment{}, err
	}
	return r.Measurement()
}

// DeviceID 应答携带的设备号
func (r *Response) DeviceID() DeviceID {
	return deviceIDFrom(r.Data[4], r.Data[5])
}

// Answers 判断应答是否对应指定子命令
// 查询数据的应答是 0xC0 测量帧，其余命令应答为 0xC5 且 data[0] 为子命令
func (r *Response) Answers(sub byte) bool {
	if sub == SubQueryData {
		return r.Cmd == CmdMeasurement
	}
	return r.Cmd == CmdReply && r.Data[0] == sub
}

// Measurement 取测量寄存器
func (r *Response) Measurement() (Fragment, error) {
	if r.Cmd != CmdMeasurement {
		return Fragment{}, fmt.Errorf("%w: expected measurement 0x%02X, got 0x%02X", ErrFraming, CmdMeasurement, r.Cmd)
	}
	return Fragment{
		PM25Raw:  binary.LittleEndian.Uint16(r.Data[0:2]),
		PM10Raw:  binary.LittleEndian.Uint16(r.Data[2:4]),
		DeviceID: r.DeviceID(),
	}, nil
}

func (r *Response) expectReply(sub byte) error {
	if !r.Answers(sub) || sub == SubQueryData {
		return fmt.Errorf("%w: expected reply to %s, got cmd=0x%02X sub=0x%02X", ErrFraming, SubName(sub), r.Cmd, r.Data[0])
	}
	return nil
}

// ReportMode 解析上报模式应答
func (r *Response) ReportMode() (coremodel.ReportMode, error) {
	if err := r.expectReply(SubReportMode); err != nil {
		return coremodel.ReportModeUnknown, err
	}
	return reportModeFromWire(r.Data[2]), nil
}

// WorkState 解析工作状态应答
func (r *Response) WorkState() (coremodel.WorkState, error) {
	if err := r.expectReply(SubWorkState); err != nil {
		return coremodel.WorkStateUnknown, err
	}
	return workStateFromWire(r.Data[2]), nil
}

// WorkingPeriod 解析工作周期应答（分钟）
func (r *Response) WorkingPeriod() (int, error) {
	if err := r.expectReply(SubWorkingPeriod); err != nil {
		return 0, err
	}
	return int(r.Data[2]), nil
}

// Firmware 解析固件版本应答，格式 yy-mm-dd
func (r *Response) Firmware() (string, error) {
	if err := r.expectReply(SubFirmware); err != nil {
		return "", err
	}
	return fmt.Sprintf("%02d-%02d-%02d", r.Data[1], r.Data[2], r.Data[3]), nil
}
