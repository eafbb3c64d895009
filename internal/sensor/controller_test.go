package sensor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cfgpkg "github.com/taoyao-code/airq/internal/config"
	"github.com/taoyao-code/airq/internal/coremodel"
	"github.com/taoyao-code/airq/internal/protocol/sds011"
	"github.com/taoyao-code/airq/internal/seriallink"
)

func newSimController(t *testing.T, target sds011.DeviceID) (*Controller, *sds011.Simulator) {
	t.Helper()
	sim := sds011.NewSimulator(0x0102)
	link := seriallink.New(sim, cfgpkg.SensorConfig{ReadTimeout: 100 * time.Millisecond, MaxDiscard: 64}, nil, nil)
	t.Cleanup(func() { _ = link.Close() })
	return New(link, Options{Target: target}, nil, nil), sim
}

// fakeTransport 依次返回预置的应答帧，耗尽后超时
type fakeTransport struct {
	frames []sds011.ResponseFrame
	sent   []sds011.CommandFrame
}

func (f *fakeTransport) Send(frame sds011.CommandFrame) error {
	f.sent = append(f.sent, frame)
	return nil
}

func (f *fakeTransport) ResyncAndRead() (sds011.ResponseFrame, error) {
	if len(f.frames) == 0 {
		return sds011.ResponseFrame{}, seriallink.ErrTimeout
	}
	fr := f.frames[0]
	f.frames = f.frames[1:]
	return fr, nil
}

func measurement() sds011.ResponseFrame {
	return sds011.EncodeResponse(sds011.CmdMeasurement, [6]byte{0x64, 0x00, 0xC8, 0x00, 0x01, 0x02})
}

func corrupt(f sds011.ResponseFrame) sds011.ResponseFrame {
	f[3] ^= 0xFF
	return f
}

func TestController_WorkState(t *testing.T) {
	c, sim := newSimController(t, sds011.Broadcast)

	require.NoError(t, c.SetWorkState(coremodel.WorkStateSleeping))
	assert.Equal(t, coremodel.WorkStateSleeping, sim.WorkState())
	assert.Equal(t, coremodel.WorkStateSleeping, c.State().WorkState)
	assert.Equal(t, "0102", c.State().DeviceID)

	require.NoError(t, c.SetWorkState(coremodel.WorkStateMeasuring))
	assert.Equal(t, coremodel.WorkStateMeasuring, sim.WorkState())
}

func TestController_ReadMeasurement(t *testing.T) {
	t.Run("主动模式", func(t *testing.T) {
		c, sim := newSimController(t, sds011.Broadcast)
		sim.SetMeasurement(123, 456)

		frag, err := c.ReadMeasurement()
		require.NoError(t, err)
		pm25, pm10 := frag.Values(c.Unit())
		assert.InDelta(t, 12.3, pm25, 1e-9)
		assert.InDelta(t, 45.6, pm10, 1e-9)
	})

	t.Run("查询模式", func(t *testing.T) {
		c, sim := newSimController(t, 0x0102)
		require.NoError(t, c.SetReportMode(coremodel.ReportModeQuery))
		assert.Equal(t, coremodel.ReportModeQuery, sim.ReportMode())

		frag, err := c.ReadMeasurement()
		require.NoError(t, err)
		assert.Equal(t, uint16(100), frag.PM25Raw)
		assert.Equal(t, sds011.DeviceID(0x0102), frag.DeviceID)
	})

	t.Run("噪声后同步", func(t *testing.T) {
		c, sim := newSimController(t, sds011.Broadcast)
		require.NoError(t, c.SetReportMode(coremodel.ReportModeQuery))
		sim.InjectNoise(0x00, 0x42, 0xAB)

		_, err := c.ReadMeasurement()
		require.NoError(t, err)
	})

	t.Run("噪声含起始标记后同步", func(t *testing.T) {
		c, sim := newSimController(t, sds011.Broadcast)
		require.NoError(t, c.SetReportMode(coremodel.ReportModeQuery))
		sim.SetMeasurement(123, 456)
		sim.InjectNoise(0xAA, 0x00, 0xAA, 0xC0)

		frag, err := c.ReadMeasurement()
		require.NoError(t, err)
		assert.Equal(t, uint16(123), frag.PM25Raw)
		assert.Equal(t, uint16(456), frag.PM10Raw)
	})

	t.Run("休眠时超时", func(t *testing.T) {
		c, _ := newSimController(t, sds011.Broadcast)
		require.NoError(t, c.SetWorkState(coremodel.WorkStateSleeping))

		_, err := c.ReadMeasurement()
		assert.ErrorIs(t, err, seriallink.ErrTimeout)
		assert.NotErrorIs(t, err, ErrProtocol)
	})
}

func TestController_Resync(t *testing.T) {
	t.Run("一次坏帧透明重同步", func(t *testing.T) {
		tr := &fakeTransport{frames: []sds011.ResponseFrame{corrupt(measurement()), measurement()}}
		c := New(tr, Options{Target: sds011.Broadcast}, nil, nil)

		frag, err := c.ReadMeasurement()
		require.NoError(t, err)
		assert.Equal(t, uint16(200), frag.PM10Raw)
		assert.Len(t, tr.sent, 1)
	})

	t.Run("两次坏帧返回协议错误", func(t *testing.T) {
		bad := measurement()
		bad[9] = 0x00
		tr := &fakeTransport{frames: []sds011.ResponseFrame{corrupt(measurement()), bad, measurement()}}
		c := New(tr, Options{Target: sds011.Broadcast}, nil, nil)

		_, err := c.ReadMeasurement()
		var perr *ProtocolError
		require.ErrorAs(t, err, &perr)
		assert.ErrorIs(t, err, ErrProtocol)
		assert.ErrorIs(t, err, sds011.ErrFraming)
		assert.Equal(t, "query_data", perr.Command)
	})

	t.Run("跳过无关帧", func(t *testing.T) {
		reply := sds011.EncodeResponse(sds011.CmdReply, [6]byte{sds011.SubWorkState, 1, 1, 0, 0x01, 0x02})
		tr := &fakeTransport{frames: []sds011.ResponseFrame{measurement(), measurement(), reply}}
		c := New(tr, Options{Target: sds011.Broadcast}, nil, nil)

		require.NoError(t, c.SetWorkState(coremodel.WorkStateMeasuring))
	})

	t.Run("无关帧超限", func(t *testing.T) {
		tr := &fakeTransport{frames: []sds011.ResponseFrame{measurement(), measurement(), measurement()}}
		c := New(tr, Options{Target: sds011.Broadcast, MaxSkipFrames: 2}, nil, nil)

		err := c.SetWorkState(coremodel.WorkStateMeasuring)
		assert.ErrorIs(t, err, ErrProtocol)
	})

	t.Run("其他设备的帧被跳过", func(t *testing.T) {
		other := sds011.EncodeResponse(sds011.CmdMeasurement, [6]byte{1, 0, 2, 0, 0xBE, 0xEF})
		tr := &fakeTransport{frames: []sds011.ResponseFrame{other, measurement()}}
		c := New(tr, Options{Target: 0x0102}, nil, nil)

		frag, err := c.ReadMeasurement()
		require.NoError(t, err)
		assert.Equal(t, sds011.DeviceID(0x0102), frag.DeviceID)
	})
}

func TestController_DutyCycle(t *testing.T) {
	t.Run("越界不访问串口", func(t *testing.T) {
		tr := &fakeTransport{}
		c := New(tr, Options{}, nil, nil)

		assert.ErrorIs(t, c.SetDutyCycle(31), ErrInvalidDutyCycle)
		assert.ErrorIs(t, c.SetDutyCycle(-1), ErrInvalidDutyCycle)
		assert.Empty(t, tr.sent)
	})

	t.Run("设置成功", func(t *testing.T) {
		c, _ := newSimController(t, sds011.Broadcast)
		require.NoError(t, c.SetDutyCycle(5))
		assert.Equal(t, 5, c.State().DutyCycle)
	})
}

func TestController_DeviceInfoAndID(t *testing.T) {
	c, sim := newSimController(t, 0x0102)
	require.NoError(t, c.SetReportMode(coremodel.ReportModeQuery))

	info, err := c.QueryDeviceInfo()
	require.NoError(t, err)
	assert.Equal(t, "18-11-16", info.Firmware)
	assert.Equal(t, coremodel.ReportModeQuery, info.ReportMode)
	assert.Equal(t, coremodel.WorkStateMeasuring, info.WorkState)
	assert.Equal(t, 0, info.DutyCycle)

	require.NoError(t, c.SetDeviceID(0xA160))
	assert.Equal(t, sds011.DeviceID(0xA160), c.DeviceID())
	assert.Equal(t, "A160", c.State().DeviceID)

	// 新设备号继续可用
	_, err = c.ReadMeasurement()
	require.NoError(t, err)
	assert.Len(t, sim.Received(), 7)
}

func TestController_Prepare(t *testing.T) {
	c, sim := newSimController(t, sds011.Broadcast)

	info, err := c.Prepare(coremodel.ReportModeQuery, 0)
	require.NoError(t, err)
	assert.Equal(t, "18-11-16", info.Firmware)
	assert.Equal(t, coremodel.WorkStateSleeping, info.WorkState)
	assert.Equal(t, coremodel.WorkStateSleeping, sim.WorkState())
	assert.Equal(t, coremodel.ReportModeQuery, sim.ReportMode())
}

func TestOptionsFromConfig(t *testing.T) {
	opts, err := OptionsFromConfig(cfgpkg.SensorConfig{DeviceID: "A160", Unit: "count", MaxSkipFrames: 5})
	require.NoError(t, err)
	assert.Equal(t, sds011.DeviceID(0xA160), opts.Target)
	assert.Equal(t, coremodel.UnitParticleCount, opts.Unit)

	_, err = OptionsFromConfig(cfgpkg.SensorConfig{Unit: "furlongs"})
	assert.Error(t, err)
}
