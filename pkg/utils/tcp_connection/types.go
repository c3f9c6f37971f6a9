package tcp_connection

import (
	"net"
	"sync/atomic"
	"time"
)

const (
	DefaultBufSize = 1536    // 默认缓冲区大小（字节）
	MaxBufSize     = 1 << 20 // 缓冲区扩容上限，超过视为溢出
)

// ConnectionType 连接类型
type ConnectionType int

const (
	ConnectionTypeServer ConnectionType = iota // 监听器接受的连接
	ConnectionTypeClient                       // 主动发起的连接
)

func (t ConnectionType) String() string {
	if t == ConnectionTypeServer {
		return "server"
	}
	return "client"
}

// SocketOption 套接字地址
type SocketOption struct {
	Addr string
	Port int
}

// ListenOption 监听选项
type ListenOption struct {
	SocketOption
	MaxConns int // 同时接受的最大连接数，0表示不限制
}

// ConnectOption 连接信息
type ConnectOption struct {
	LocalSocket  *SocketOption
	RemoteSocket *SocketOption
	NetConn      net.Conn
}

// ClientOption 主动连接选项
type ClientOption struct {
	RemoteIP        string
	RemotePort      int
	Timeout         time.Duration // 连接超时，0使用默认值
	KeepAlive       bool
	KeepAlivePeriod time.Duration
}

// BaseListenerCallback 连接事件回调
type BaseListenerCallback struct {
	// OnConnected 新连接注册后触发
	OnConnected func(id uint32, connType ConnectionType, connOpt *ConnectOption)

	// OnDisconnected 连接关闭时触发，每个连接只触发一次
	OnDisconnected func(id uint32, connType ConnectionType)

	// OnDataReceived 数据处理回调
	// 参数：
	//   - id：连接id
	//   - connType：连接类型
	//   - buf：数据缓冲区
	//   - used：已使用的缓冲区大小
	// 返回：
	//   - 已处理的字节数（-1表示解析失败，连接将被关闭）
	OnDataReceived func(id uint32, connType ConnectionType, buf []byte, used int) int
}

// IDAllocator 连接id分配器
type IDAllocator interface {
	Next() uint32
}

// seqAllocator 未指定分配器时使用的递增序列
type seqAllocator struct {
	n atomic.Uint32
}

func (a *seqAllocator) Next() uint32 {
	for {
		if id := a.n.Add(1); id != 0 {
			return id
		}
	}
}
