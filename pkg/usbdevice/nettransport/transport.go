// Package nettransport 通过TCP连接adbd（tcpip模式或模拟器）
// 网络上的ADB数据流与USB批量传输格式一致，每次批量传输对应一次流读写
package nettransport

import (
	"context"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/junbin-yang/adbbridge-go/pkg/usbdevice"
	log "github.com/junbin-yang/adbbridge-go/pkg/utils/logger"
	"github.com/junbin-yang/adbbridge-go/pkg/utils/tcp_connection"
)

const (
	DefaultPort         = 5555
	DefaultProbeTimeout = time.Second
)

// Transport 以TCP连接模拟USB设备接口
// 实现usbdevice.Transport和usbdevice.Enumerator
type Transport struct {
	targets      []string // host:port
	probeTimeout time.Duration

	mu    sync.Mutex
	conns map[string]net.Conn // 设备ID -> 已声明的连接
}

// New 创建网络传输
// 参数：
//   - targets：adbd地址列表，缺少端口时使用5555
func New(targets []string) (*Transport, error) {
	t := &Transport{
		probeTimeout: DefaultProbeTimeout,
		conns:        make(map[string]net.Conn),
	}
	for _, target := range targets {
		addr, err := normalize(target)
		if err != nil {
			return nil, err
		}
		t.targets = append(t.targets, addr)
	}
	return t, nil
}

func normalize(target string) (string, error) {
	host, port, err := net.SplitHostPort(target)
	if err != nil {
		// 没有端口
		host, port = target, strconv.Itoa(DefaultPort)
	}
	if host == "" {
		return "", fmt.Errorf("无效的设备地址: %q", target)
	}
	if _, err := strconv.Atoi(port); err != nil {
		return "", fmt.Errorf("无效的设备端口: %q", target)
	}
	return net.JoinHostPort(host, port), nil
}

func handleFor(addr string) usbdevice.Handle {
	return usbdevice.Handle{ID: "tcp:" + addr}
}

func (t *Transport) addrOf(h usbdevice.Handle) (string, error) {
	addr, ok := strings.CutPrefix(h.ID, "tcp:")
	if !ok || addr == "" {
		return "", fmt.Errorf("不是网络设备: %s", h.ID)
	}
	return addr, nil
}

func dialOption(addr string, timeout time.Duration) (*tcp_connection.ClientOption, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, err
	}
	p, err := strconv.Atoi(port)
	if err != nil {
		return nil, err
	}
	return &tcp_connection.ClientOption{
		RemoteIP:   host,
		RemotePort: p,
		Timeout:    timeout,
		KeepAlive:  true,
	}, nil
}

// FindDevices 返回可连接的adbd地址
// 网络设备没有USB厂商/产品id，过滤条件不适用
func (t *Transport) FindDevices(ctx context.Context, _ usbdevice.Filter) ([]usbdevice.Handle, error) {
	var handles []usbdevice.Handle
	for _, addr := range t.targets {
		h := handleFor(addr)

		t.mu.Lock()
		_, claimed := t.conns[h.ID]
		t.mu.Unlock()
		if claimed {
			handles = append(handles, h)
			continue
		}

		opt, err := dialOption(addr, t.probeTimeout)
		if err != nil {
			return nil, err
		}
		conn, err := tcp_connection.Dial(ctx, opt)
		if err != nil {
			log.Debugf("[NET] %s 不可达: %v", addr, err)
			continue
		}
		conn.Close()
		handles = append(handles, h)
	}
	return handles, nil
}

// ClaimInterface 建立到adbd的连接
func (t *Transport) ClaimInterface(ctx context.Context, h usbdevice.Handle, _ int) error {
	addr, err := t.addrOf(h)
	if err != nil {
		return err
	}

	t.mu.Lock()
	_, claimed := t.conns[h.ID]
	t.mu.Unlock()
	if claimed {
		return fmt.Errorf("%s 已被声明", h.ID)
	}

	opt, err := dialOption(addr, tcp_connection.DefaultDialTimeout)
	if err != nil {
		return err
	}
	conn, err := tcp_connection.Dial(ctx, opt)
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if _, claimed := t.conns[h.ID]; claimed {
		conn.Close()
		return fmt.Errorf("%s 已被声明", h.ID)
	}
	t.conns[h.ID] = conn
	log.Infof("[NET] 已连接 %s", addr)
	return nil
}

// ReleaseInterface 关闭连接
func (t *Transport) ReleaseInterface(_ context.Context, h usbdevice.Handle, _ int) error {
	t.mu.Lock()
	conn, ok := t.conns[h.ID]
	delete(t.conns, h.ID)
	t.mu.Unlock()
	if !ok {
		return nil
	}
	return conn.Close()
}

// BulkTransfer IN端点读满len(data)字节，OUT端点写出data
// ctx取消时通过设置截止时间中断阻塞的读写
func (t *Transport) BulkTransfer(ctx context.Context, h usbdevice.Handle, endpoint uint8, data []byte) (int, error) {
	t.mu.Lock()
	conn, ok := t.conns[h.ID]
	t.mu.Unlock()
	if !ok {
		return 0, fmt.Errorf("%s 未声明", h.ID)
	}

	stop := context.AfterFunc(ctx, func() {
		conn.SetDeadline(time.Now())
	})
	defer stop()

	var n int
	var err error
	if endpoint&usbdevice.EndpointDirIn != 0 {
		n, err = io.ReadFull(conn, data)
	} else {
		n, err = conn.Write(data)
	}
	if err != nil && ctx.Err() != nil {
		return n, ctx.Err()
	}
	return n, err
}
