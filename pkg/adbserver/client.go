package adbserver

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/junbin-yang/adbbridge-go/pkg/utils/tcp_connection"
)

// Query 连接主机协议服务器，发送一个请求并读取带长度前缀的回复
// 只适用于回复带长度前缀的服务（host:version、host:devices）
// 参数：
//   - ctx：取消连接和读写
//   - address：服务器地址
//   - port：服务器端口
//   - service：服务名
//
// 返回：
//   - OKAY回复的内容
//   - 错误信息（FAIL回复时包装ErrRequestFailed）
func Query(ctx context.Context, address string, port int, service string) (string, error) {
	conn, err := tcp_connection.Dial(ctx, &tcp_connection.ClientOption{RemoteIP: address, RemotePort: port})
	if err != nil {
		return "", err
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() {
		conn.SetDeadline(time.Now())
	})
	defer stop()

	if _, err := conn.Write([]byte(lenPrefix(service))); err != nil {
		return "", fmt.Errorf("发送请求失败: %w", err)
	}

	status := make([]byte, 4)
	if _, err := io.ReadFull(conn, status); err != nil {
		return "", fmt.Errorf("读取回复失败: %w", err)
	}
	msg, err := readPrefixed(conn)
	if err != nil {
		return "", err
	}

	switch string(status) {
	case "OKAY":
		return msg, nil
	case "FAIL":
		return "", fmt.Errorf("%w: %s", ErrRequestFailed, msg)
	default:
		return "", fmt.Errorf("未知的回复状态: %q", status)
	}
}

func readPrefixed(r io.Reader) (string, error) {
	prefix := make([]byte, lengthPrefixSize)
	if _, err := io.ReadFull(r, prefix); err != nil {
		return "", fmt.Errorf("读取长度失败: %w", err)
	}
	n, err := parseLength(prefix)
	if err != nil {
		return "", err
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return "", fmt.Errorf("读取内容失败: %w", err)
	}
	return string(body), nil
}
