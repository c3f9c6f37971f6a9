package tcp_connection

import (
	"errors"
	"net"
	"sync"
)

var (
	ErrConnNotFound = errors.New("连接不存在")
)

type connEntry struct {
	conn     net.Conn
	connType ConnectionType
	wmu      sync.Mutex // 串行化写入
}

// ConnectionManager 连接管理器，按id登记所有连接
type ConnectionManager struct {
	alloc IDAllocator
	mu    sync.RWMutex
	conns map[uint32]*connEntry
}

// NewConnectionManager 创建连接管理器
// 参数：
//   - alloc：id分配器，为nil时使用内部递增序列
func NewConnectionManager(alloc IDAllocator) *ConnectionManager {
	if alloc == nil {
		alloc = &seqAllocator{}
	}
	return &ConnectionManager{
		alloc: alloc,
		conns: make(map[uint32]*connEntry),
	}
}

// RegisterConn 注册连接并分配id
// 分配器回绕后跳过仍在使用的id
func (m *ConnectionManager) RegisterConn(conn net.Conn, connType ConnectionType) uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.alloc.Next()
	for {
		if _, used := m.conns[id]; !used {
			break
		}
		id = m.alloc.Next()
	}
	m.conns[id] = &connEntry{conn: conn, connType: connType}
	return id
}

// UnregisterConn 关闭连接并从管理器中移除
func (m *ConnectionManager) UnregisterConn(id uint32) {
	m.mu.Lock()
	e, ok := m.conns[id]
	delete(m.conns, id)
	m.mu.Unlock()
	if ok {
		e.conn.Close()
	}
}

func (m *ConnectionManager) entry(id uint32) (*connEntry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.conns[id]
	return e, ok
}

// GetConn 通过id获取连接
func (m *ConnectionManager) GetConn(id uint32) (net.Conn, bool) {
	e, ok := m.entry(id)
	if !ok {
		return nil, false
	}
	return e.conn, true
}

// GetConnType 获取连接类型
func (m *ConnectionManager) GetConnType(id uint32) (ConnectionType, bool) {
	e, ok := m.entry(id)
	if !ok {
		return 0, false
	}
	return e.connType, true
}

// SendBytes 向指定连接写出全部数据，同一连接上的写入互斥
func (m *ConnectionManager) SendBytes(id uint32, data []byte) error {
	e, ok := m.entry(id)
	if !ok {
		return ErrConnNotFound
	}
	e.wmu.Lock()
	defer e.wmu.Unlock()
	for len(data) > 0 {
		n, err := e.conn.Write(data)
		if err != nil {
			return err
		}
		data = data[n:]
	}
	return nil
}

// GetConnInfo 获取连接两端的地址信息
func (m *ConnectionManager) GetConnInfo(id uint32) *ConnectOption {
	e, ok := m.entry(id)
	if !ok {
		return nil
	}
	return connectOption(e.conn)
}

func connectOption(conn net.Conn) *ConnectOption {
	opt := &ConnectOption{NetConn: conn}
	if addr, ok := conn.LocalAddr().(*net.TCPAddr); ok {
		opt.LocalSocket = &SocketOption{Addr: addr.IP.String(), Port: addr.Port}
	}
	if addr, ok := conn.RemoteAddr().(*net.TCPAddr); ok {
		opt.RemoteSocket = &SocketOption{Addr: addr.IP.String(), Port: addr.Port}
	}
	return opt
}

// CloseConn 关闭连接（读循环随后注销它并触发断开回调）
func (m *ConnectionManager) CloseConn(id uint32) error {
	e, ok := m.entry(id)
	if !ok {
		return ErrConnNotFound
	}
	return e.conn.Close()
}

// GetAllIDs 获取所有活跃连接的id
func (m *ConnectionManager) GetAllIDs() []uint32 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]uint32, 0, len(m.conns))
	for id := range m.conns {
		ids = append(ids, id)
	}
	return ids
}

// GetConnCount 获取连接数量
func (m *ConnectionManager) GetConnCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.conns)
}

// CloseAll 关闭所有连接
func (m *ConnectionManager) CloseAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, e := range m.conns {
		e.conn.Close()
		delete(m.conns, id)
	}
}
