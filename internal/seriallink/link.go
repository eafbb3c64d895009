package seriallink

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"go.bug.st/serial"
	"go.uber.org/zap"

	cfgpkg "github.com/taoyao-code/airq/internal/config"
	"github.com/taoyao-code/airq/internal/logging"
	"github.com/taoyao-code/airq/internal/metrics"
	"github.com/taoyao-code/airq/internal/protocol/sds011"
)

var (
	// ErrTimeout 在读超时或丢弃字节上限内未能读到完整应答帧
	ErrTimeout = errors.New("seriallink: timeout waiting for response frame")
	// ErrLink 串口 I/O 失败或链路已关闭
	ErrLink = errors.New("seriallink: link failure")
)

// SimScheme 虚拟传感器设备路径前缀，例如 sim://A160
const SimScheme = "sim://"

const (
	defaultBaudRate    = 9600
	defaultReadTimeout = 2 * time.Second
	defaultMaxDiscard  = 256
	// pollInterval 单次底层读等待上限，便于循环检查截止时间
	pollInterval = 100 * time.Millisecond
	// simDefaultID 虚拟传感器默认设备号
	simDefaultID sds011.DeviceID = 0x0102
)

// Port 底层字节流（真实串口或虚拟传感器）
// 约定：无数据时 Read 可返回 0, nil
type Port interface {
	io.ReadWriteCloser
}

type inputResetter interface {
	ResetInputBuffer() error
}

// Link 串口链路，独占持有端口
// 负责按起始标记同步并切出定长应答帧，不理解帧语义
type Link struct {
	port        Port
	path        string
	readTimeout time.Duration
	maxDiscard  int
	logger      *zap.Logger
	appm        *metrics.AppMetrics

	mu      sync.Mutex
	pending []byte
	closed  bool
	now     func() time.Time
}

// Open 打开传感器串口：9600 8N1；sim:// 路径打开虚拟传感器
func Open(cfg cfgpkg.SensorConfig, logger *zap.Logger, appm *metrics.AppMetrics) (*Link, error) {
	if strings.HasPrefix(cfg.DevicePath, SimScheme) {
		id := simDefaultID
		if rest := strings.TrimPrefix(cfg.DevicePath, SimScheme); rest != "" {
			parsed, err := sds011.ParseDeviceID(rest)
			if err != nil {
				return nil, fmt.Errorf("%w: %w", ErrLink, err)
			}
			id = parsed
		}
		logging.OrNop(logger).Info("opening virtual sensor", zap.String("path", cfg.DevicePath), zap.Stringer("device_id", id))
		return New(sds011.NewSimulator(id), cfg, logger, appm), nil
	}

	baud := cfg.BaudRate
	if baud <= 0 {
		baud = defaultBaudRate
	}
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(cfg.DevicePath, mode)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %w", ErrLink, cfg.DevicePath, err)
	}
	if err := port.SetReadTimeout(pollInterval); err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("%w: set read timeout: %w", ErrLink, err)
	}
	logging.OrNop(logger).Info("serial port opened", zap.String("path", cfg.DevicePath), zap.Int("baud", baud))
	return New(port, cfg, logger, appm), nil
}

// New 使用已打开的端口构造链路
func New(port Port, cfg cfgpkg.SensorConfig, logger *zap.Logger, appm *metrics.AppMetrics) *Link {
	rt := cfg.ReadTimeout
	if rt <= 0 {
		rt = defaultReadTimeout
	}
	md := cfg.MaxDiscard
	if md <= 0 {
		md = defaultMaxDiscard
	}
	return &Link{
		port:        port,
		path:        cfg.DevicePath,
		readTimeout: rt,
		maxDiscard:  md,
		logger:      logging.OrNop(logger),
		appm:        appm,
		now:         time.Now,
	}
}

// Send 写出一帧命令；写之前清空输入缓冲，避免旧帧被当作本次应答
func (l *Link) Send(frame sds011.CommandFrame) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return fmt.Errorf("%w: closed", ErrLink)
	}

	l.pending = l.pending[:0]
	if r, ok := l.port.(inputResetter); ok {
		if err := r.ResetInputBuffer(); err != nil {
			l.logger.Debug("reset input buffer failed", zap.Error(err))
		}
	}

	b := frame.Bytes()
	for written := 0; written < len(b); {
		n, err := l.port.Write(b[written:])
		if err != nil {
			return fmt.Errorf("%w: write: %w", ErrLink, err)
		}
		if n == 0 {
			return fmt.Errorf("%w: write: short write", ErrLink)
		}
		written += n
	}
	return nil
}

// ResyncAndRead 丢弃字节直到 0xAA，再读满 10 字节
// 超过读超时或丢弃字节上限返回 ErrTimeout；端口错误返回 ErrLink
func (l *Link) ResyncAndRead() (sds011.ResponseFrame, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var frame sds011.ResponseFrame
	if l.closed {
		return frame, fmt.Errorf("%w: closed", ErrLink)
	}

	deadline := l.now().Add(l.readTimeout)
	discarded := 0
	defer func() { l.appm.AddDiscarded(discarded) }()

	for {
		// 丢弃起始标记之前的字节
		for len(l.pending) > 0 && l.pending[0] != sds011.HeadByte {
			l.pending = l.pending[1:]
			discarded++
		}
		if discarded > l.maxDiscard {
			l.logger.Debug("resync discard limit reached", zap.Int("discarded", discarded))
			return frame, fmt.Errorf("%w: discarded %d bytes without frame start", ErrTimeout, discarded)
		}
		if len(l.pending) >= sds011.ResponseSize {
			// 候选帧尾不对：起始标记是噪声，只丢一个字节后重新扫描
			if l.pending[sds011.ResponseSize-1] != sds011.TailByte {
				l.pending = l.pending[1:]
				discarded++
				continue
			}
			copy(frame[:], l.pending[:sds011.ResponseSize])
			l.pending = l.pending[sds011.ResponseSize:]
			if discarded > 0 {
				l.logger.Debug("resynchronised on frame start", zap.Int("discarded", discarded))
			}
			return frame, nil
		}
		if !l.now().Before(deadline) {
			return frame, fmt.Errorf("%w: after %s", ErrTimeout, l.readTimeout)
		}
		if err := l.fill(); err != nil {
			return frame, err
		}
	}
}

// fill 从端口读取一批字节追加到待处理缓冲
func (l *Link) fill() error {
	buf := make([]byte, 64)
	n, err := l.port.Read(buf)
	if n > 0 {
		l.pending = append(l.pending, buf[:n]...)
	}
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: read: %w", ErrLink, err)
	}
	return nil
}

// Close 释放端口，可重复调用
func (l *Link) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	if err := l.port.Close(); err != nil {
		return fmt.Errorf("%w: close: %w", ErrLink, err)
	}
	l.logger.Debug("link closed", zap.String("path", l.path))
	return nil
}

// WithLink 打开链路执行 fn，任何退出路径都会关闭链路
func WithLink(cfg cfgpkg.SensorConfig, logger *zap.Logger, appm *metrics.AppMetrics, fn func(*Link) error) (err error) {
	link, err := Open(cfg, logger, appm)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := link.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return fn(link)
}
