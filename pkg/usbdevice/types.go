package usbdevice

import (
	"context"
	"fmt"

	"github.com/junbin-yang/adbbridge-go/pkg/adbproto"
)

const (
	DefaultVendorID    = 0x18D1 // Google
	DefaultProductID   = 0x4E22
	DefaultInterface   = 1
	DefaultInEndpoint  = 0x88
	DefaultOutEndpoint = 0x07

	// EndpointDirIn 端点地址的方向位，置位表示设备到主机
	EndpointDirIn = 0x80
)

// Handle 标识一个已枚举的设备
type Handle struct {
	ID        string // 传输层内唯一的设备标识
	VendorID  uint16
	ProductID uint16
}

func (h Handle) String() string {
	return fmt.Sprintf("%s(%04x:%04x)", h.ID, h.VendorID, h.ProductID)
}

// Filter 设备枚举过滤条件，零值字段不参与匹配
type Filter struct {
	VendorID  uint16
	ProductID uint16
}

// Match 判断设备是否满足过滤条件
func (f Filter) Match(h Handle) bool {
	if f.VendorID != 0 && f.VendorID != h.VendorID {
		return false
	}
	if f.ProductID != 0 && f.ProductID != h.ProductID {
		return false
	}
	return true
}

// Transport USB批量传输能力
type Transport interface {
	// ClaimInterface 声明设备接口
	ClaimInterface(ctx context.Context, h Handle, iface int) error

	// ReleaseInterface 释放设备接口
	ReleaseInterface(ctx context.Context, h Handle, iface int) error

	// BulkTransfer 在端点上执行一次批量传输
	// 端点带EndpointDirIn位时读取最多len(data)字节到data，否则写出data
	// 返回：
	//   - 实际传输的字节数
	//   - 错误信息
	BulkTransfer(ctx context.Context, h Handle, endpoint uint8, data []byte) (int, error)
}

// Enumerator 设备枚举能力
type Enumerator interface {
	FindDevices(ctx context.Context, filter Filter) ([]Handle, error)
}

// Signer 认证签名能力，由authmanager.AuthManager实现
type Signer interface {
	Sign(nonce []byte) ([]byte, error)
	PublicKey() (string, error)
}

// SocketCloser 按id关闭主机侧连接
type SocketCloser interface {
	CloseSocket(id uint32) error
}

// State 设备会话状态
type State int

const (
	StateOffline State = iota
	StateConnecting
	StateBootloader
	StateFastboot
	StateOnline
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateOffline:
		return "offline"
	case StateConnecting:
		return "connecting"
	case StateBootloader:
		return "bootloader"
	case StateFastboot:
		return "fastboot"
	case StateOnline:
		return "device"
	case StateDisconnected:
		return "disconnected"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// ConnectedFunc 会话上线或连接失败时调用，err非nil表示失败
type ConnectedFunc func(serial, banner string, err error)

// DisconnectedFunc 会话断开时调用，每个会话最多调用一次
type DisconnectedFunc func(s *Session, reason error)

// Options 会话参数，零值字段使用默认值
type Options struct {
	Interface   int
	InEndpoint  uint8
	OutEndpoint uint8
	MaxData     uint32 // CNXN中声明的主机最大负载
}

func (o *Options) setDefaults() {
	if o.Interface == 0 {
		o.Interface = DefaultInterface
	}
	if o.InEndpoint == 0 {
		o.InEndpoint = DefaultInEndpoint
	}
	if o.OutEndpoint == 0 {
		o.OutEndpoint = DefaultOutEndpoint
	}
	if o.MaxData == 0 {
		o.MaxData = adbproto.MaxData
	}
}
