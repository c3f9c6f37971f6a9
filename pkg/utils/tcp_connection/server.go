package tcp_connection

import (
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"

	log "github.com/junbin-yang/adbbridge-go/pkg/utils/logger"
	"golang.org/x/net/netutil"
)

// BaseServer 负责监听连接、处理数据收发及连接管理
type BaseServer struct {
	listener net.Listener          // 连接监听器
	connMgr  *ConnectionManager    // 连接管理器
	stopChan chan struct{}         // 用于通知停止的通道
	stopOnce sync.Once             // 保证只停止一次
	wg       sync.WaitGroup        // 用于等待所有goroutine结束
	callback *BaseListenerCallback // 统一的事件回调
}

// NewBaseServer 创建新的服务端实例
func NewBaseServer(connMgr *ConnectionManager) *BaseServer {
	if connMgr == nil {
		connMgr = NewConnectionManager(nil)
	}
	return &BaseServer{
		connMgr:  connMgr,
		stopChan: make(chan struct{}),
	}
}

// StartBaseListener 启动基础监听器
// 参数：
//   - opt：监听地址、端口和最大连接数
//   - callback：统一的事件回调处理器
func (s *BaseServer) StartBaseListener(opt *ListenOption, callback *BaseListenerCallback) error {
	if opt == nil || callback == nil {
		return fmt.Errorf("参数错误")
	}
	if s.listener != nil {
		return fmt.Errorf("监听器已启动")
	}

	listener, err := net.Listen("tcp", net.JoinHostPort(opt.Addr, strconv.Itoa(opt.Port)))
	if err != nil {
		return fmt.Errorf("创建监听器失败：%w", err)
	}
	if opt.MaxConns > 0 {
		// 达到上限后Accept阻塞，直到有连接关闭
		listener = netutil.LimitListener(listener, opt.MaxConns)
	}

	s.listener = listener
	s.callback = callback
	s.wg.Add(1)
	go s.acceptLoop()

	log.Infof("[BASE_SERVER] 开始监听 %s", listener.Addr())
	return nil
}

// StopBaseListener 停止监听并关闭所有服务端连接
func (s *BaseServer) StopBaseListener() error {
	s.stopOnce.Do(func() {
		close(s.stopChan)
		if s.listener != nil {
			s.listener.Close()
		}
		for _, id := range s.connMgr.GetAllIDs() {
			if connType, ok := s.connMgr.GetConnType(id); ok && connType == ConnectionTypeServer {
				s.connMgr.CloseConn(id)
			}
		}
	})
	s.wg.Wait()
	return nil
}

// acceptLoop 循环接受新连接
func (s *BaseServer) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.stopChan: // 停止信号导致的错误，直接返回
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			log.Errorf("[BASE_SERVER] 接受连接错误: %v", err)
			continue
		}

		s.wg.Add(1)
		go s.handleConnection(conn)
	}
}

// handleConnection 处理单个连接的生命周期
func (s *BaseServer) handleConnection(netConn net.Conn) {
	defer s.wg.Done()

	id := s.connMgr.RegisterConn(netConn, ConnectionTypeServer)
	defer s.connMgr.UnregisterConn(id)

	log.Debugf("[BASE_SERVER] 新连接来自 %s (id=%d)", netConn.RemoteAddr(), id)

	if s.callback.OnConnected != nil {
		s.callback.OnConnected(id, ConnectionTypeServer, connectOption(netConn))
	}
	if s.callback.OnDisconnected != nil {
		defer s.callback.OnDisconnected(id, ConnectionTypeServer)
	}

	s.handleDataEvents(id, netConn)
}

// handleDataEvents 读取数据并交给回调处理，返回即表示连接结束
// 参数：
//   - id：连接id
//   - netConn：网络连接
func (s *BaseServer) handleDataEvents(id uint32, netConn net.Conn) {
	buf := make([]byte, DefaultBufSize)
	used := 0 // 缓冲区中已使用的字节数

	for {
		n, err := netConn.Read(buf[used:])
		if n > 0 {
			used += n
			if s.callback.OnDataReceived != nil {
				processed := s.callback.OnDataReceived(id, ConnectionTypeServer, buf, used)
				if processed < 0 {
					log.Errorf("[BASE_SERVER] 数据包处理失败，关闭连接 (id=%d)", id)
					return
				}
				if processed > 0 {
					// 将未处理的数据移到缓冲区头部
					used = copy(buf, buf[processed:used])
				}
			}

			if used == len(buf) {
				if len(buf) >= MaxBufSize {
					log.Errorf("[BASE_SERVER] 缓冲区溢出，关闭连接 (id=%d)", id)
					return
				}
				grown := make([]byte, 2*len(buf))
				copy(grown, buf[:used])
				buf = grown
			}
		}

		if err != nil {
			select {
			case <-s.stopChan:
			default:
				if err == io.EOF {
					log.Debugf("[BASE_SERVER] 连接正常关闭 (id=%d)", id)
				} else if !errors.Is(err, net.ErrClosed) {
					log.Errorf("[BASE_SERVER] 读取数据错误 (id=%d): %v", id, err)
				}
			}
			return
		}
	}
}

// GetPort 返回服务器监听的端口（未启动时返回-1）
func (s *BaseServer) GetPort() int {
	if s.listener == nil {
		return -1
	}
	return s.listener.Addr().(*net.TCPAddr).Port
}

// GetAddr 返回服务器监听的地址（未启动时返回空字符串）
func (s *BaseServer) GetAddr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().(*net.TCPAddr).IP.String()
}

// SendBytes 发送数据到指定连接
func (s *BaseServer) SendBytes(id uint32, data []byte) error {
	return s.connMgr.SendBytes(id, data)
}

// CloseConn 关闭指定连接
func (s *BaseServer) CloseConn(id uint32) error {
	return s.connMgr.CloseConn(id)
}

// GetConnInfo 获取连接的完整信息
func (s *BaseServer) GetConnInfo(id uint32) *ConnectOption {
	return s.connMgr.GetConnInfo(id)
}

// ConnCount 返回当前连接数
func (s *BaseServer) ConnCount() int {
	return s.connMgr.GetConnCount()
}
