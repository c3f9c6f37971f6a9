package adbserver

import (
	"context"
	"errors"
	"io"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/junbin-yang/adbbridge-go/pkg/adbproto"
	"github.com/junbin-yang/adbbridge-go/pkg/usbdevice"
	"github.com/junbin-yang/adbbridge-go/pkg/usbdevice/usbdevicetest"
)

const waitTimeout = 2 * time.Second

type staticSigner struct{}

func (staticSigner) Sign(nonce []byte) ([]byte, error) { return []byte("SIG"), nil }
func (staticSigner) PublicKey() (string, error)        { return "KEY", nil }

func handle(id string) usbdevice.Handle {
	return usbdevice.Handle{ID: id, VendorID: usbdevice.DefaultVendorID, ProductID: usbdevice.DefaultProductID}
}

func startServer(t *testing.T, tr *usbdevicetest.Transport) *Server {
	t.Helper()
	s := NewServer(Config{Address: "127.0.0.1", Port: 0}, tr, staticSigner{})
	if err := s.Start(); err != nil {
		t.Fatalf("服务器启动失败: %v", err)
	}
	t.Cleanup(s.Stop)
	return s
}

func dial(t *testing.T, s *Server) net.Conn {
	t.Helper()
	conn, err := net.Dial("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(s.Port())))
	if err != nil {
		t.Fatalf("连接服务器失败: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func request(t *testing.T, conn net.Conn, service string) {
	t.Helper()
	if _, err := conn.Write([]byte(lenPrefix(service))); err != nil {
		t.Fatalf("发送请求失败: %v", err)
	}
}

func expectReply(t *testing.T, conn net.Conn, want string) {
	t.Helper()
	got := make([]byte, len(want))
	conn.SetReadDeadline(time.Now().Add(waitTimeout))
	if _, err := io.ReadFull(conn, got); err != nil {
		t.Fatalf("读取回复失败(期望%q): %v", want, err)
	}
	if string(got) != want {
		t.Fatalf("回复不匹配: 预期 %q, 实际 %q", want, got)
	}
}

func expectClosed(t *testing.T, conn net.Conn) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(waitTimeout))
	if _, err := conn.Read(make([]byte, 1)); err == nil {
		t.Fatal("连接应被关闭")
	} else if ne, ok := err.(net.Error); ok && ne.Timeout() {
		t.Fatal("等待连接关闭超时")
	}
}

func TestLenPrefix(t *testing.T) {
	long := strings.Repeat("a", 300)
	tests := []struct {
		in, want string
	}{
		{"", "0000"},
		{"001f", "0004001f"},
		{"Unknown service", "000fUnknown service"},
		{long, "012c" + long},
	}
	for _, tt := range tests {
		if got := lenPrefix(tt.in); got != tt.want {
			t.Errorf("lenPrefix(%q) = %q，期望%q", tt.in, got, tt.want)
		}
	}
}

func TestHostVersion(t *testing.T) {
	s := startServer(t, usbdevicetest.New())
	conn := dial(t, s)

	request(t, conn, ServiceVersion)
	expectReply(t, conn, "OKAY0004001f")
}

func TestUnknownServiceKeepsConnection(t *testing.T) {
	s := startServer(t, usbdevicetest.New())
	conn := dial(t, s)

	request(t, conn, "host:kill")
	expectReply(t, conn, "FAIL000fUnknown service")

	request(t, conn, ServiceVersion)
	expectReply(t, conn, "OKAY0004001f")
}

func TestSplitAndPipelinedRequests(t *testing.T) {
	s := startServer(t, usbdevicetest.New())
	conn := dial(t, s)

	// 前缀和负载被拆开，第二段末尾带上完整的第二个请求
	conn.Write([]byte("00"))
	time.Sleep(20 * time.Millisecond)
	conn.Write([]byte("0chost:ver"))
	time.Sleep(20 * time.Millisecond)
	conn.Write([]byte("sion000chost:version"))

	expectReply(t, conn, "OKAY0004001f")
	expectReply(t, conn, "OKAY0004001f")
}

func TestInvalidLengthClosesConnection(t *testing.T) {
	s := startServer(t, usbdevicetest.New())
	conn := dial(t, s)

	conn.Write([]byte("zzzzhost:version"))
	expectClosed(t, conn)

	deadline := time.Now().Add(waitTimeout)
	for s.SocketCount() != 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if n := s.SocketCount(); n != 0 {
		t.Errorf("关闭的连接应被注销，剩余%d", n)
	}
}

func TestHostDevices(t *testing.T) {
	tr := usbdevicetest.New()
	s := startServer(t, tr)
	conn := dial(t, s)

	request(t, conn, ServiceDevices)
	expectReply(t, conn, "OKAY000bNo devices.")

	tr.AddDevice(handle("usb-1"))
	tr.AddDevice(handle("usb-2"))
	request(t, conn, ServiceDevices)
	expectReply(t, conn, "OKAY0014Number of devices: 2")

	tr.SetFindError(errors.New("usb busy"))
	request(t, conn, ServiceDevices)
	expectReply(t, conn, "OKAY000bNo devices.")
}

func TestTransportAnyDeviceSelection(t *testing.T) {
	tr := usbdevicetest.New()
	s := startServer(t, tr)
	conn := dial(t, s)

	request(t, conn, ServiceTransportAny)
	expectReply(t, conn, "FAIL000aNo devices")

	tr.AddDevice(handle("usb-1"))
	tr.AddDevice(handle("usb-2"))
	request(t, conn, ServiceTransportAny)
	expectReply(t, conn, "FAIL0014More than one device")

	// 连接保持可用
	request(t, conn, ServiceVersion)
	expectReply(t, conn, "OKAY0004001f")
}

// bindDevice 通过transport-any绑定唯一的设备并完成握手
func bindDevice(t *testing.T, tr *usbdevicetest.Transport, conn net.Conn) {
	t.Helper()
	request(t, conn, ServiceTransportAny)

	p, err := tr.ReadPacket("usb-1", waitTimeout)
	if err != nil {
		t.Fatalf("设备未收到CNXN: %v", err)
	}
	if p.Command != adbproto.CmdCNXN {
		t.Fatalf("期望CNXN，实际%s", p)
	}
	if err := tr.Feed("usb-1", adbproto.NewConnect(adbproto.Version, adbproto.MaxData, "device:SERIAL123:banner-text")); err != nil {
		t.Fatal(err)
	}
	expectReply(t, conn, "OKAY")
}

func TestTransportAnyBindsDevice(t *testing.T) {
	tr := usbdevicetest.New(handle("usb-1"))
	s := startServer(t, tr)
	s.Counter().Set(100)
	conn := dial(t, s)

	bindDevice(t, tr, conn)

	socket := s.GetSocket(100)
	if socket == nil {
		t.Fatal("连接id应来自计数器")
	}
	dev := socket.Device()
	if dev == nil || dev.SerialNo() != "SERIAL123" || dev.State() != usbdevice.StateOnline {
		t.Fatalf("绑定的设备错误: %v", dev)
	}

	// 设备上线后再次请求立即成功
	conn2 := dial(t, s)
	request(t, conn2, ServiceTransportAny)
	expectReply(t, conn2, "OKAY")
	if n := tr.Claims("usb-1"); n != 1 {
		t.Errorf("接口应只声明1次，实际%d", n)
	}

	// 设备关闭流时关闭对应的主机连接
	if err := tr.Feed("usb-1", adbproto.NewClose(5, 100)); err != nil {
		t.Fatal(err)
	}
	expectClosed(t, conn)

	request(t, conn2, ServiceVersion)
	expectReply(t, conn2, "OKAY0004001f")
}

func TestDeviceDisconnectRemovesFromCache(t *testing.T) {
	tr := usbdevicetest.New(handle("usb-1"))
	s := startServer(t, tr)
	conn := dial(t, s)
	bindDevice(t, tr, conn)

	if devices := s.snapshot(); len(devices) != 1 {
		t.Fatalf("期望缓存1个设备，实际%d", len(devices))
	}

	tr.Feed("usb-1", adbproto.NewPacket(adbproto.Command(0xDEADBEEF), 0, 0))

	deadline := time.Now().Add(waitTimeout)
	for len(s.snapshot()) != 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if n := len(s.snapshot()); n != 0 {
		t.Fatalf("断开的设备应从缓存移除，剩余%d", n)
	}
	if n := tr.Releases("usb-1"); n != 1 {
		t.Errorf("接口应释放1次，实际%d", n)
	}

	// 重新扫描得到新的会话
	devices, err := s.GetDevices(context.Background())
	if err != nil || len(devices) != 1 {
		t.Fatalf("重新扫描失败: %v %d", err, len(devices))
	}
	if devices[0].State() != usbdevice.StateOffline {
		t.Errorf("新会话应为offline，实际%s", devices[0].State())
	}
}

func TestRescanReusesSessions(t *testing.T) {
	tr := usbdevicetest.New(handle("usb-1"), handle("usb-2"))
	s := NewServer(Config{}, tr, staticSigner{})
	defer s.Stop()

	first, err := s.Rescan(context.Background())
	if err != nil || len(first) != 2 {
		t.Fatalf("扫描失败: %v", err)
	}
	if first[0].Handle().ID != "usb-1" || first[1].Handle().ID != "usb-2" {
		t.Errorf("设备应按ID排序: %s %s", first[0].Handle(), first[1].Handle())
	}

	tr.RemoveDevice("usb-2")
	second, err := s.Rescan(context.Background())
	if err != nil || len(second) != 1 {
		t.Fatalf("扫描失败: %v", err)
	}
	if second[0] != first[0] {
		t.Error("仍存在的设备应沿用已有会话")
	}
	select {
	case <-first[1].Done():
	case <-time.After(waitTimeout):
		t.Error("消失的设备会话应被关闭")
	}

	// 缓存非空时不重新扫描
	tr.SetFindError(errors.New("should not scan"))
	if devices, err := s.GetDevices(context.Background()); err != nil || len(devices) != 1 {
		t.Errorf("应返回缓存: %v %d", err, len(devices))
	}
}

func TestRescanDropsSessionDisconnectedDuringScan(t *testing.T) {
	tr := usbdevicetest.New(handle("usb-1"), handle("usb-2"))
	s := NewServer(Config{}, tr, staticSigner{})
	defer s.Stop()

	first, err := s.Rescan(context.Background())
	if err != nil || len(first) != 2 {
		t.Fatalf("扫描失败: %v", err)
	}
	stale := first[0]

	// 扫描期间usb-1的会话断开并从缓存移除
	swaps := 0
	s.beforeSwap = func() {
		swaps++
		if swaps == 1 {
			stale.Close()
		}
	}
	second, err := s.Rescan(context.Background())
	if err != nil || len(second) != 2 {
		t.Fatalf("扫描失败: %v", err)
	}
	if swaps != 2 {
		t.Errorf("缓存被并发修改后应重试一次，实际替换%d次", swaps)
	}
	if second[0] == stale {
		t.Fatal("已断开的会话不应重新放回缓存")
	}
	if second[0].State() != usbdevice.StateOffline {
		t.Errorf("新会话应为offline，实际%s", second[0].State())
	}
	if second[1] != first[1] {
		t.Error("未断开的设备应沿用已有会话")
	}

	cached := s.snapshot()
	if len(cached) != 2 || cached[0] != second[0] || cached[1] != second[1] {
		t.Errorf("缓存与扫描结果不一致: %v", cached)
	}
}

func TestTransportAnyBootloaderFails(t *testing.T) {
	tr := usbdevicetest.New(handle("usb-1"))
	s := startServer(t, tr)
	conn := dial(t, s)

	request(t, conn, ServiceTransportAny)
	if _, err := tr.ReadPacket("usb-1", waitTimeout); err != nil {
		t.Fatalf("设备未收到CNXN: %v", err)
	}
	if err := tr.Feed("usb-1", adbproto.NewConnect(adbproto.Version, adbproto.MaxData, "bootloader:SERIAL123:")); err != nil {
		t.Fatal(err)
	}
	expectReply(t, conn, "FAIL000edevice offline")

	// 再次请求立即失败，连接保持可用
	request(t, conn, ServiceTransportAny)
	expectReply(t, conn, "FAIL000edevice offline")
	request(t, conn, ServiceVersion)
	expectReply(t, conn, "OKAY0004001f")
}

func TestStartTwice(t *testing.T) {
	s := startServer(t, usbdevicetest.New())
	if err := s.Start(); !errors.Is(err, ErrServerStarted) {
		t.Errorf("期望ErrServerStarted，实际%v", err)
	}
}
