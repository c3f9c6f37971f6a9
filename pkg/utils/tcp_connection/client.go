package tcp_connection

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"
)

const DefaultDialTimeout = 5 * time.Second

// Dial 按选项建立TCP连接
// 参数：
//   - ctx：取消连接过程
//   - opt：远端地址、超时和保活设置
//
// 返回：
//   - 建立的连接
//   - 错误信息（连接失败时）
func Dial(ctx context.Context, opt *ClientOption) (net.Conn, error) {
	if opt == nil || opt.RemoteIP == "" || opt.RemotePort <= 0 {
		return nil, fmt.Errorf("参数错误")
	}

	timeout := opt.Timeout
	if timeout <= 0 {
		timeout = DefaultDialTimeout
	}
	dialer := &net.Dialer{Timeout: timeout, KeepAlive: -1}
	if opt.KeepAlive {
		dialer.KeepAlive = opt.KeepAlivePeriod
	}

	addr := net.JoinHostPort(opt.RemoteIP, strconv.Itoa(opt.RemotePort))
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("连接到%s失败: %w", addr, err)
	}
	return conn, nil
}
