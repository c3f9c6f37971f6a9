package adbserver

import (
	"fmt"
	"strconv"
	"sync"

	"github.com/junbin-yang/adbbridge-go/pkg/usbdevice"
	log "github.com/junbin-yang/adbbridge-go/pkg/utils/logger"
)

// 主机侧服务名
const (
	ServiceVersion      = "host:version"
	ServiceDevices      = "host:devices"
	ServiceTransportAny = "host:transport-any"
)

// HostVersion host:version回复的协议版本
const HostVersion = 0x1f

const lengthPrefixSize = 4

// lenPrefix 4位小写十六进制长度 + 内容
func lenPrefix(s string) string {
	return fmt.Sprintf("%04x", len(s)) + s
}

// HostSocket 一个主机协议客户端连接
type HostSocket struct {
	id       uint32
	server   *Server
	expected int // 当前请求的负载长度，-1表示尚未读到前缀

	mu     sync.Mutex
	device *usbdevice.Session
}

func newHostSocket(id uint32, server *Server) *HostSocket {
	return &HostSocket{id: id, server: server, expected: -1}
}

// ID 返回连接id
func (h *HostSocket) ID() uint32 { return h.id }

// Device 返回绑定的设备会话（未绑定时为nil）
func (h *HostSocket) Device() *usbdevice.Session {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.device
}

// receive 解析缓冲区中所有完整的请求
// 参数：
//   - buf：读循环中尚未处理的数据
//
// 返回：
//   - 已处理的字节数（-1表示长度前缀无效，连接将被关闭）
func (h *HostSocket) receive(buf []byte) int {
	processed := 0
	for {
		rest := buf[processed:]
		if h.expected < 0 {
			if len(rest) < lengthPrefixSize {
				return processed
			}
			n, err := parseLength(rest[:lengthPrefixSize])
			if err != nil {
				log.Warnf("[HOST_SOCKET] 连接%d: %v", h.id, err)
				return -1
			}
			h.expected = n
			processed += lengthPrefixSize
			rest = rest[lengthPrefixSize:]
		}
		if len(rest) < h.expected {
			return processed
		}

		command := string(rest[:h.expected])
		processed += h.expected
		h.expected = -1
		h.dispatch(command)
	}
}

func parseLength(b []byte) (int, error) {
	n, err := strconv.ParseUint(string(b), 16, 16)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidLength, b)
	}
	return int(n), nil
}

func (h *HostSocket) dispatch(command string) {
	log.Debugf("[HOST_SOCKET] 连接%d 请求: %s", h.id, command)

	switch command {
	case ServiceVersion:
		h.send("OKAY" + lenPrefix(fmt.Sprintf("%04x", HostVersion)))
	case ServiceDevices:
		h.onDevices()
	case ServiceTransportAny:
		h.onTransportAny()
	default:
		h.fail("Unknown service")
	}
}

func (h *HostSocket) onDevices() {
	devices, err := h.server.Rescan(h.server.ctx)
	if err != nil {
		log.Warnf("[HOST_SOCKET] 扫描设备失败: %v", err)
	}
	msg := "No devices."
	if err == nil && len(devices) > 0 {
		msg = fmt.Sprintf("Number of devices: %d", len(devices))
	}
	h.send("OKAY" + lenPrefix(msg))
}

func (h *HostSocket) onTransportAny() {
	devices, err := h.server.GetDevices(h.server.ctx)
	if err != nil {
		log.Warnf("[HOST_SOCKET] 获取设备失败: %v", err)
	}
	switch {
	case len(devices) == 0:
		h.fail("No devices")
		return
	case len(devices) > 1:
		h.fail("More than one device")
		return
	}

	dev := devices[0]
	h.mu.Lock()
	h.device = dev
	h.mu.Unlock()

	err = dev.Initialize(h.server.ctx, func(serial, banner string, err error) {
		if err != nil {
			log.Warnf("[HOST_SOCKET] 连接%d 设备%s连接失败: %v", h.id, dev.Handle(), err)
			h.fail("device offline")
			return
		}
		log.Infof("[HOST_SOCKET] 连接%d 已绑定设备 %s", h.id, serial)
		// 此回复没有长度前缀
		h.send("OKAY")
	})
	if err != nil {
		h.fail("device offline")
	}
}

func (h *HostSocket) fail(msg string) {
	h.send("FAIL" + lenPrefix(msg))
}

func (h *HostSocket) send(msg string) {
	if err := h.server.base.SendBytes(h.id, []byte(msg)); err != nil {
		log.Debugf("[HOST_SOCKET] 连接%d 发送失败: %v", h.id, err)
	}
}
