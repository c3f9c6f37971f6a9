package adbserver

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/junbin-yang/adbbridge-go/pkg/usbdevice"
	log "github.com/junbin-yang/adbbridge-go/pkg/utils/logger"
	"github.com/junbin-yang/adbbridge-go/pkg/utils/tcp_connection"
)

const (
	DefaultAddress = "127.0.0.1"
	DefaultPort    = 5037
)

// DeviceTransport 设备传输：批量传输加设备枚举
type DeviceTransport interface {
	usbdevice.Transport
	usbdevice.Enumerator
}

// Config 服务器参数
type Config struct {
	Address        string
	Port           int
	MaxConnections int               // 0表示不限制
	Filter         usbdevice.Filter  // 设备枚举过滤条件
	Session        usbdevice.Options // 设备会话参数
}

type deviceMap map[string]*usbdevice.Session

// Server 主机协议服务器
type Server struct {
	cfg       Config
	transport DeviceTransport
	signer    usbdevice.Signer

	counter *Counter
	base    *tcp_connection.BaseServer

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.RWMutex
	sockets map[uint32]*HostSocket

	scanMu  sync.Mutex // 串行化扫描
	devices atomic.Pointer[deviceMap]
	started atomic.Bool

	beforeSwap func() // 测试用，在替换缓存前调用
}

// NewServer 创建主机协议服务器
// 参数：
//   - cfg：监听和设备参数
//   - transport：设备传输
//   - signer：设备认证签名
func NewServer(cfg Config, transport DeviceTransport, signer usbdevice.Signer) *Server {
	if cfg.Address == "" {
		cfg.Address = DefaultAddress
	}
	ctx, cancel := context.WithCancel(context.Background())
	counter := NewCounter()
	s := &Server{
		cfg:       cfg,
		transport: transport,
		signer:    signer,
		counter:   counter,
		base:      tcp_connection.NewBaseServer(tcp_connection.NewConnectionManager(counter)),
		ctx:       ctx,
		cancel:    cancel,
		sockets:   make(map[uint32]*HostSocket),
	}
	s.devices.Store(&deviceMap{})
	return s
}

// Start 开始监听
func (s *Server) Start() error {
	if !s.started.CompareAndSwap(false, true) {
		return ErrServerStarted
	}
	opt := &tcp_connection.ListenOption{
		SocketOption: tcp_connection.SocketOption{Addr: s.cfg.Address, Port: s.cfg.Port},
		MaxConns:     s.cfg.MaxConnections,
	}
	callback := &tcp_connection.BaseListenerCallback{
		OnConnected:    s.onAccept,
		OnDisconnected: s.onSocketClosed,
		OnDataReceived: s.onData,
	}
	if err := s.base.StartBaseListener(opt, callback); err != nil {
		s.started.Store(false)
		return err
	}
	log.Infof("[ADB_SERVER] 已启动 %s:%d", s.base.GetAddr(), s.base.GetPort())
	return nil
}

// Stop 停止监听，关闭所有连接和设备会话
func (s *Server) Stop() {
	s.cancel()
	s.base.StopBaseListener()
	for _, dev := range s.snapshot() {
		dev.Close()
	}
	log.Info("[ADB_SERVER] 已停止")
}

// Port 返回实际监听的端口
func (s *Server) Port() int { return s.base.GetPort() }

// Counter 返回连接id计数器
func (s *Server) Counter() *Counter { return s.counter }

func (s *Server) onAccept(id uint32, _ tcp_connection.ConnectionType, opt *tcp_connection.ConnectOption) {
	socket := newHostSocket(id, s)
	s.mu.Lock()
	s.sockets[id] = socket
	s.mu.Unlock()
	if opt != nil && opt.RemoteSocket != nil {
		log.Debugf("[ADB_SERVER] 新连接%d 来自 %s:%d", id, opt.RemoteSocket.Addr, opt.RemoteSocket.Port)
	}
}

func (s *Server) onSocketClosed(id uint32, _ tcp_connection.ConnectionType) {
	s.mu.Lock()
	delete(s.sockets, id)
	s.mu.Unlock()
	log.Debugf("[ADB_SERVER] 连接%d 已断开", id)
}

func (s *Server) onData(id uint32, _ tcp_connection.ConnectionType, buf []byte, used int) int {
	socket := s.GetSocket(id)
	if socket == nil {
		return -1
	}
	return socket.receive(buf[:used])
}

// GetSocket 按id查找连接
func (s *Server) GetSocket(id uint32) *HostSocket {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sockets[id]
}

// SocketCount 返回当前连接数
func (s *Server) SocketCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sockets)
}

// CloseSocket 关闭指定连接，设备关闭流时调用
func (s *Server) CloseSocket(id uint32) error {
	return s.base.CloseConn(id)
}

// GetDevices 返回缓存的设备会话，缓存为空时重新扫描
func (s *Server) GetDevices(ctx context.Context) ([]*usbdevice.Session, error) {
	if devices := s.snapshot(); len(devices) > 0 {
		return devices, nil
	}
	return s.Rescan(ctx)
}

// Rescan 重新枚举设备并替换缓存
// 仍然存在的设备沿用已有会话，消失的设备会话被关闭
func (s *Server) Rescan(ctx context.Context) ([]*usbdevice.Session, error) {
	s.scanMu.Lock()
	defer s.scanMu.Unlock()

	handles, err := s.transport.FindDevices(ctx, s.cfg.Filter)
	if err != nil {
		return nil, err
	}

	// 以缓存的最新版本为基础构建，与removeDevice并发时重试
	created := make(deviceMap)
	var (
		old  deviceMap
		next deviceMap
	)
	for {
		cur := s.devices.Load()
		old = *cur
		next = make(deviceMap, len(handles))
		for _, h := range handles {
			if dev, ok := old[h.ID]; ok && dev.State() != usbdevice.StateDisconnected {
				next[h.ID] = dev
				continue
			}
			dev, ok := created[h.ID]
			if !ok {
				dev = usbdevice.NewSession(h, s.transport, s.signer, s, s.cfg.Session)
				dev.OnDisconnected(s.removeDevice)
				created[h.ID] = dev
			}
			next[h.ID] = dev
		}
		if s.beforeSwap != nil {
			s.beforeSwap()
		}
		if s.devices.CompareAndSwap(cur, &next) {
			break
		}
	}

	for id, dev := range old {
		if next[id] != dev {
			dev.Close()
		}
	}
	for id, dev := range created {
		if next[id] != dev {
			dev.Close()
		}
	}
	log.Debugf("[ADB_SERVER] 扫描到%d个设备", len(next))
	return sortedSessions(next), nil
}

// removeDevice 会话断开后从缓存中移除
func (s *Server) removeDevice(dev *usbdevice.Session, reason error) {
	id := dev.Handle().ID
	for {
		cur := s.devices.Load()
		if (*cur)[id] != dev {
			return
		}
		next := make(deviceMap, len(*cur))
		for k, v := range *cur {
			if k != id {
				next[k] = v
			}
		}
		if s.devices.CompareAndSwap(cur, &next) {
			log.Infof("[ADB_SERVER] 移除设备 %s: %v", dev.Handle(), reason)
			return
		}
	}
}

func (s *Server) snapshot() []*usbdevice.Session {
	return sortedSessions(*s.devices.Load())
}

func sortedSessions(m deviceMap) []*usbdevice.Session {
	out := make([]*usbdevice.Session, 0, len(m))
	for _, dev := range m {
		out = append(out, dev)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Handle().ID < out[j].Handle().ID
	})
	return out
}
