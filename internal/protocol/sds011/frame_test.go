package sds011

import (
	"bytes"
	"errors"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taoyao-code/airq/internal/coremodel"
)

// measurementFrame 端到端场景中的测量帧：PM2.5=100(10.0) PM10=200(20.0) ID=0102
var measurementFrame = []byte{0xAA, 0xC0, 0x64, 0x00, 0xC8, 0x00, 0x01, 0x02, 0x2F, 0xAB}

func TestCalculateChecksum(t *testing.T) {
	tests := []struct {
		name     string
		data     []byte
		expected byte
	}{
		{name: "空数据", data: []byte{}, expected: 0x00},
		{name: "单字节", data: []byte{0xAA}, expected: 0xAA},
		{name: "溢出丢弃高位", data: []byte{0xAA, 0xAA}, expected: 0x54},
		{name: "测量数据区", data: measurementFrame[2:8], expected: 0x2F},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CalculateChecksum(tt.data); got != tt.expected {
				t.Errorf("CalculateChecksum() = 0x%02X, expected 0x%02X", got, tt.expected)
			}
		})
	}
}

func TestEncodeCommand_DatasheetVectors(t *testing.T) {
	tests := []struct {
		name string
		req  Request
		want []byte
	}{
		{
			name: "查询数据",
			req:  QueryDataRequest(),
			want: []byte{0xAA, 0xB4, 0x04, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0xFF, 0xFF, 0x02, 0xAB},
		},
		{
			name: "设置睡眠",
			req:  WorkStateRequest(OpSet, coremodel.WorkStateSleeping),
			want: []byte{0xAA, 0xB4, 0x06, 0x01, 0x00, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0xFF, 0xFF, 0x05, 0xAB},
		},
		{
			name: "设置测量",
			req:  WorkStateRequest(OpSet, coremodel.WorkStateMeasuring),
			want: []byte{0xAA, 0xB4, 0x06, 0x01, 0x01, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0xFF, 0xFF, 0x06, 0xAB},
		},
		{
			name: "设置查询上报模式",
			req:  ReportModeRequest(OpSet, coremodel.ReportModeQuery),
			want: []byte{0xAA, 0xB4, 0x02, 0x01, 0x01, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0xFF, 0xFF, 0x02, 0xAB},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := tt.req.Encode(Broadcast)
			require.NoError(t, err)
			assert.Equal(t, tt.want, f.Bytes())
		})
	}
}

func TestEncodeCommand_InvalidPayload(t *testing.T) {
	_, err := EncodeCommand(SubQueryData, make([]byte, PayloadSize+1), Broadcast)
	assert.ErrorIs(t, err, ErrInvalidPayload)

	_, err = EncodeCommand(SubQueryData, make([]byte, PayloadSize), Broadcast)
	assert.NoError(t, err)
}

func TestCommandRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 200; i++ {
		payload := make([]byte, rng.Intn(PayloadSize+1))
		rng.Read(payload)
		sub := byte(rng.Intn(256))
		target := DeviceID(rng.Intn(0x10000))

		f, err := EncodeCommand(sub, payload, target)
		require.NoError(t, err)

		cmd, err := ParseCommand(f.Bytes())
		require.NoError(t, err)
		assert.Equal(t, sub, cmd.Sub)
		assert.Equal(t, target, cmd.Target)
		assert.Equal(t, payload, cmd.Payload[:len(payload)])
		assert.Equal(t, make([]byte, PayloadSize-len(payload)), cmd.Payload[len(payload):])
	}
}

func TestParseCommand_Errors(t *testing.T) {
	f, err := EncodeCommand(SubFirmware, nil, 0x1234)
	require.NoError(t, err)

	bad := f
	bad[17] ^= 0xFF
	_, err = ParseCommand(bad.Bytes())
	assert.ErrorIs(t, err, ErrChecksum)

	bad = f
	bad[1] = 0xC5
	_, err = ParseCommand(bad.Bytes())
	assert.ErrorIs(t, err, ErrFraming)

	_, err = ParseCommand(f[:18])
	assert.ErrorIs(t, err, ErrFraming)
}

func TestDecodeMeasurement_EndToEndFrame(t *testing.T) {
	frag, err := DecodeMeasurement(measurementFrame)
	require.NoError(t, err)

	assert.Equal(t, uint16(100), frag.PM25Raw)
	assert.Equal(t, uint16(200), frag.PM10Raw)
	assert.Equal(t, DeviceID(0x0102), frag.DeviceID)

	pm25, pm10 := frag.Values(coremodel.UnitMassConcentration)
	assert.Equal(t, 10.0, pm25)
	assert.Equal(t, 20.0, pm10)

	pm25, pm10 = frag.Values(coremodel.UnitParticleCount)
	assert.Equal(t, 100.0, pm25)
	assert.Equal(t, 200.0, pm10)
}

func TestDecodeResponse_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func([]byte) []byte
		want   error
	}{
		{"长度不足", func(b []byte) []byte { return b[:9] }, ErrFraming},
		{"长度超出", func(b []byte) []byte { return append(b, 0x00) }, ErrFraming},
		{"帧头错误", func(b []byte) []byte { b[0] = 0x00; return b }, ErrFraming},
		{"帧尾错误", func(b []byte) []byte { b[9] = 0x00; return b }, ErrFraming},
		{"未知命令字", func(b []byte) []byte { b[1] = 0xC1; return b }, ErrFraming},
		{"校验和错误", func(b []byte) []byte { b[8]++; return b }, ErrChecksum},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := tt.mutate(bytes.Clone(measurementFrame))
			_, err := DecodeResponse(raw)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestDecodeMeasurement_SingleByteCorruption(t *testing.T) {
	for pos := 0; pos < ResponseSize; pos++ {
		for v := 0; v < 256; v++ {
			if byte(v) == measurementFrame[pos] {
				continue
			}
			raw := bytes.Clone(measurementFrame)
			raw[pos] = byte(v)

			_, err := DecodeMeasurement(raw)
			if !errors.Is(err, ErrChecksum) && !errors.Is(err, ErrFraming) {
				t.Fatalf("pos=%d v=0x%02X: expected checksum/framing error, got %v", pos, v, err)
			}
		}
	}
}

func TestEncodeResponse_RoundTrip(t *testing.T) {
	data := [ResponseDataSize]byte{SubWorkState, 0x01, 0x00, 0x00, 0xA1, 0x60}
	f := EncodeResponse(CmdReply, data)

	r, err := DecodeResponse(f.Bytes())
	require.NoError(t, err)
	assert.Equal(t, byte(CmdReply), r.Cmd)
	assert.Equal(t, data, r.Data)
	assert.Equal(t, DeviceID(0xA160), r.DeviceID())
	assert.Equal(t, "A160", r.DeviceID().String())
}
