package sds011

import "errors"

var (
	// ErrChecksum 起止标记正确但校验和不一致
	ErrChecksum = errors.New("sds011: checksum mismatch")
	// ErrFraming 起止标记/长度/命令字不符合帧格式
	ErrFraming = errors.New("sds011: framing error")
	// ErrInvalidPayload 命令载荷超过12字节（调用方误用）
	ErrInvalidPayload = errors.New("sds011: invalid payload")
)

// CalculateChecksum 计算SDS011校验和
// 算法：对数据区所有字节累加（byte溢出自动丢弃高位），即 sum mod 256
func CalculateChecksum(data []byte) byte {
	var checksum byte
	for _, b := range data {
		checksum += b
	}
	return checksum
}
