package sds011

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taoyao-code/airq/internal/coremodel"
)

// drain 读出虚拟传感器当前所有待发送字节
func drain(t *testing.T, s *Simulator) []byte {
	t.Helper()
	var out []byte
	buf := make([]byte, 64)
	for {
		n, err := s.Read(buf)
		require.NoError(t, err)
		if n == 0 {
			return out
		}
		out = append(out, buf[:n]...)
	}
}

func send(t *testing.T, s *Simulator, req Request, target DeviceID) {
	t.Helper()
	f, err := req.Encode(target)
	require.NoError(t, err)
	_, err = s.Write(f.Bytes())
	require.NoError(t, err)
}

func TestSimulator_QueryData(t *testing.T) {
	sim := NewSimulator(0x0102)
	sim.SetMeasurement(100, 200)

	send(t, sim, QueryDataRequest(), Broadcast)
	assert.Equal(t, measurementFrame, drain(t, sim))
}

func TestSimulator_ActiveModeEmitsMeasurementBeforeReply(t *testing.T) {
	sim := NewSimulator(0xA160)

	send(t, sim, FirmwareRequest(), Broadcast)
	out := drain(t, sim)
	require.Len(t, out, 2*ResponseSize)

	first, err := DecodeResponse(out[:ResponseSize])
	require.NoError(t, err)
	assert.Equal(t, byte(CmdMeasurement), first.Cmd)

	second, err := DecodeResponse(out[ResponseSize:])
	require.NoError(t, err)
	fw, err := second.Firmware()
	require.NoError(t, err)
	assert.Equal(t, "18-11-16", fw)
}

func TestSimulator_SleepingIgnoresQueries(t *testing.T) {
	sim := NewSimulator(0xA160)
	send(t, sim, ReportModeRequest(OpSet, coremodel.ReportModeQuery), Broadcast)
	drain(t, sim)

	send(t, sim, WorkStateRequest(OpSet, coremodel.WorkStateSleeping), Broadcast)
	out := drain(t, sim)
	require.Len(t, out, ResponseSize)
	assert.Equal(t, coremodel.WorkStateSleeping, sim.WorkState())

	send(t, sim, QueryDataRequest(), Broadcast)
	assert.Empty(t, drain(t, sim))

	send(t, sim, WorkStateRequest(OpSet, coremodel.WorkStateMeasuring), Broadcast)
	assert.Len(t, drain(t, sim), ResponseSize)
	assert.Equal(t, coremodel.WorkStateMeasuring, sim.WorkState())
}

func TestSimulator_TargetFiltering(t *testing.T) {
	sim := NewSimulator(0xA160)
	send(t, sim, QueryDataRequest(), 0x0001)
	assert.Empty(t, drain(t, sim))

	send(t, sim, QueryDataRequest(), 0xA160)
	assert.Len(t, drain(t, sim), ResponseSize)
}

func TestSimulator_FragmentedWriteAndNoise(t *testing.T) {
	sim := NewSimulator(0xA160)
	sim.InjectNoise(0x00, 0x13, 0xAB)

	f, err := QueryDataRequest().Encode(Broadcast)
	require.NoError(t, err)
	// 命令前的垃圾字节与分段写入
	_, _ = sim.Write([]byte{0x01, 0x02})
	_, _ = sim.Write(f[:7])
	_, _ = sim.Write(f[7:])

	out := drain(t, sim)
	require.Len(t, out, 3+ResponseSize)
	assert.Equal(t, []byte{0x00, 0x13, 0xAB}, out[:3])
	assert.Len(t, sim.Received(), 1)
}

func TestSimulator_SetDeviceIDAndSilent(t *testing.T) {
	sim := NewSimulator(0xA160)
	send(t, sim, ReportModeRequest(OpSet, coremodel.ReportModeQuery), Broadcast)
	drain(t, sim)

	send(t, sim, SetDeviceIDRequest(0x0BAD), 0xA160)
	out := drain(t, sim)
	require.Len(t, out, ResponseSize)
	r, err := DecodeResponse(out)
	require.NoError(t, err)
	assert.Equal(t, DeviceID(0x0BAD), r.DeviceID())

	sim.SetSilent(true)
	send(t, sim, QueryDataRequest(), Broadcast)
	assert.Empty(t, drain(t, sim))
}
