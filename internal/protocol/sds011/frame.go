package sds011

import (
	"fmt"
	"strconv"
	"strings"
)

// 帧格式
//
// 下行命令帧（19字节）：
//
//	AA | B4 | sub(1) | data(12) | id_hi | id_lo | checksum | AB
//	checksum = sum(sub..id_lo) mod 256
//
// 上行应答帧（10字节）：
//
//	AA | cmd(C0/C5) | d0..d5 | checksum | AB
//	checksum = sum(d0..d5) mod 256
const (
	HeadByte = 0xAA
	TailByte = 0xAB

	CmdRequest     = 0xB4 // 下行命令
	CmdMeasurement = 0xC0 // 测量数据
	CmdReply       = 0xC5 // 命令应答

	PayloadSize      = 12
	ResponseDataSize = 6
	CommandSize      = 2 + 1 + PayloadSize + 2 + 2 // 19
	ResponseSize     = 2 + ResponseDataSize + 2    // 10
)

// 子命令
const (
	SubReportMode    = 0x02
	SubQueryData     = 0x04
	SubSetDeviceID   = 0x05
	SubWorkState     = 0x06
	SubFirmware      = 0x07
	SubWorkingPeriod = 0x08
)

// DeviceID 传感器两字节设备号
type DeviceID uint16

// Broadcast 广播地址，所有传感器都会应答
const Broadcast DeviceID = 0xFFFF

func (id DeviceID) String() string {
	return fmt.Sprintf("%04X", uint16(id))
}

// ParseDeviceID 解析十六进制设备号（如 "A160"、"0xa160"），空串视为广播
func ParseDeviceID(s string) (DeviceID, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(s), "0x"), "0X")
	if s == "" {
		return Broadcast, nil
	}
	v, err := strconv.ParseUint(s, 16, 16)
	if err != nil {
		return 0, fmt.Errorf("sds011: invalid device id %q: %w", s, err)
	}
	return DeviceID(v), nil
}

func (id DeviceID) bytes() (hi, lo byte) {
	return byte(id >> 8), byte(id)
}

func deviceIDFrom(hi, lo byte) DeviceID {
	return DeviceID(uint16(hi)<<8 | uint16(lo))
}

// CommandFrame 定长下行命令帧
type CommandFrame [CommandSize]byte

// Bytes 返回线上字节
func (f CommandFrame) Bytes() []byte { return f[:] }

// ResponseFrame 定长上行应答帧
type ResponseFrame [ResponseSize]byte

// Bytes 返回线上字节
func (f ResponseFrame) Bytes() []byte { return f[:] }

// Command 解析后的下行命令
type Command struct {
	Sub     byte
	Payload [PayloadSize]byte
	Target  DeviceID
}

// Response 解析后的上行应答
type Response struct {
	Cmd  byte
	Data [ResponseDataSize]byte
}

// EncodeCommand 构造下行命令帧：载荷补零到12字节，计算校验和并加起止标记
func EncodeCommand(sub byte, payload []byte, target DeviceID) (CommandFrame, error) {
	var f CommandFrame
	if len(payload) > PayloadSize {
		return f, fmt.Errorf("%w: %d bytes exceeds %d", ErrInvalidPayload, len(payload), PayloadSize)
	}
	f[0] = HeadByte
	f[1] = CmdRequest
	f[2] = sub
	copy(f[3:3+PayloadSize], payload)
	f[15], f[16] = target.bytes()
	f[17] = CalculateChecksum(f[2:17])
	f[18] = TailByte
	return f, nil
}

// ParseCommand 解析下行命令帧（传感器侧，供虚拟传感器使用）
func ParseCommand(raw []byte) (*Command, error) {
	if len(raw) != CommandSize {
		return nil, fmt.Errorf("%w: command length %d", ErrFraming, len(raw))
	}
	if raw[0] != HeadByte || raw[CommandSize-1] != TailByte || raw[1] != CmdRequest {
		return nil, ErrFraming
	}
	if CalculateChecksum(raw[2:17]) != raw[17] {
		return nil, ErrChecksum
	}
	c := &Command{Sub: raw[2], Target: deviceIDFrom(raw[15], raw[16])}
	copy(c.Payload[:], raw[3:3+PayloadSize])
	return c, nil
}

// DecodeResponse 解析上行应答帧（严格校验：长度、起止标记、命令字、校验和）
func DecodeResponse(raw []byte) (*Response, error) {
	if len(raw) != ResponseSize {
		return nil, fmt.Errorf("%w: response length %d", ErrFraming, len(raw))
	}
	if raw[0] != HeadByte || raw[ResponseSize-1] != TailByte {
		return nil, ErrFraming
	}
	if raw[1] != CmdMeasurement && raw[1] != CmdReply {
		return nil, fmt.Errorf("%w: unknown command 0x%02X", ErrFraming, raw[1])
	}
	data := raw[2 : 2+ResponseDataSize]
	if CalculateChecksum(data) != raw[8] {
		return nil, ErrChecksum
	}
	r := &Response{Cmd: raw[1]}
	copy(r.Data[:], data)
	return r, nil
}

// EncodeResponse 构造上行应答帧（与 DecodeResponse 对应）
func EncodeResponse(cmd byte, data [ResponseDataSize]byte) ResponseFrame {
	var f ResponseFrame
	f[0] = HeadByte
	f[1] = cmd
	copy(f[2:8], data[:])
	f[8] = CalculateChecksum(data[:])
	f[9] = TailByte
	return f
}
