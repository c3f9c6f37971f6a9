package nettransport

import (
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/junbin-yang/adbbridge-go/pkg/adbproto"
	"github.com/junbin-yang/adbbridge-go/pkg/usbdevice"
)

type staticSigner struct{}

func (staticSigner) Sign(nonce []byte) ([]byte, error) { return []byte("SIG"), nil }
func (staticSigner) PublicKey() (string, error)        { return "KEY", nil }

// fakeADBD 模拟tcpip模式的adbd：回应认证令牌，收到签名后上线
// 未发送任何数据就关闭的连接视为探测，继续等待下一个连接
func fakeADBD(l net.Listener, done chan<- error) {
	for {
		conn, err := l.Accept()
		if err != nil {
			done <- err
			return
		}
		if serveADBD(conn, done) {
			return
		}
	}
}

func serveADBD(conn net.Conn, done chan<- error) bool {
	defer conn.Close()

	read := func() (*adbproto.Packet, error) {
		hdr := make([]byte, adbproto.MessageHeaderSize)
		if _, err := io.ReadFull(conn, hdr); err != nil {
			return nil, err
		}
		p, err := adbproto.Parse(hdr)
		if err != nil {
			return nil, err
		}
		if p.DataLength > 0 {
			p.Payload = make([]byte, p.DataLength)
			if _, err := io.ReadFull(conn, p.Payload); err != nil {
				return nil, err
			}
		}
		return p, nil
	}
	write := func(p *adbproto.Packet) {
		conn.Write(p.Marshal())
		conn.Write(p.Payload)
	}

	p, err := read()
	if err == io.EOF {
		return false
	}
	if err != nil || p.Command != adbproto.CmdCNXN {
		done <- errors.New("未收到CNXN")
		return true
	}
	write(adbproto.NewAuth(adbproto.AuthToken, []byte("01234567890123456789")))

	p, err = read()
	if err != nil || p.Command != adbproto.CmdAUTH || p.Arg0 != adbproto.AuthSignature || string(p.Payload) != "SIG" {
		done <- errors.New("签名回复错误")
		return true
	}
	write(adbproto.NewConnect(adbproto.Version, 256*1024, "device::ro.product.name=sdk;features=shell_v2"))
	done <- nil

	// 保持连接直到对端关闭
	io.Copy(io.Discard, conn)
	return true
}

func TestSessionOverTCP(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()

	done := make(chan error, 1)
	go fakeADBD(l, done)

	tr, err := New([]string{l.Addr().String()})
	if err != nil {
		t.Fatal(err)
	}
	handles, err := tr.FindDevices(context.Background(), usbdevice.Filter{})
	if err != nil || len(handles) != 1 {
		t.Fatalf("期望发现1个设备，实际%v %v", handles, err)
	}
	if handles[0].ID != "tcp:"+l.Addr().String() {
		t.Errorf("设备ID错误: %s", handles[0].ID)
	}

	s := usbdevice.NewSession(handles[0], tr, staticSigner{}, nil, usbdevice.Options{})
	defer s.Close()

	connected := make(chan error, 1)
	if err := s.Initialize(context.Background(), func(serial, banner string, err error) {
		connected <- err
	}); err != nil {
		t.Fatal(err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("adbd端错误: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("adbd端超时")
	}
	select {
	case err := <-connected:
		if err != nil {
			t.Fatalf("连接失败: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("等待上线超时")
	}

	if s.State() != usbdevice.StateOnline || s.MaxData() != 256*1024 {
		t.Errorf("会话状态错误: %s maxData=%d", s.State(), s.MaxData())
	}
	if s.Banner() != "ro.product.name=sdk;features=shell_v2" {
		t.Errorf("banner错误: %s", s.Banner())
	}

	// 已声明的设备不再探测
	if handles, _ := tr.FindDevices(context.Background(), usbdevice.Filter{}); len(handles) != 1 {
		t.Errorf("已连接的设备应被列出: %v", handles)
	}
}

func TestFindDevicesSkipsUnreachable(t *testing.T) {
	l, _ := net.Listen("tcp", "127.0.0.1:0")
	addr := l.Addr().String()
	l.Close()

	tr, err := New([]string{addr})
	if err != nil {
		t.Fatal(err)
	}
	handles, err := tr.FindDevices(context.Background(), usbdevice.Filter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(handles) != 0 {
		t.Errorf("不可达的设备不应被列出: %v", handles)
	}
}

func TestBulkTransferHonorsContext(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()
	go func() {
		conn, err := l.Accept()
		if err == nil {
			defer conn.Close()
			io.Copy(io.Discard, conn)
		}
	}()

	tr, _ := New([]string{l.Addr().String()})
	h := handleFor(tr.targets[0])
	if err := tr.ClaimInterface(context.Background(), h, usbdevice.DefaultInterface); err != nil {
		t.Fatal(err)
	}
	defer tr.ReleaseInterface(context.Background(), h, usbdevice.DefaultInterface)

	if err := tr.ClaimInterface(context.Background(), h, usbdevice.DefaultInterface); err == nil {
		t.Error("重复声明应失败")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err = tr.BulkTransfer(ctx, h, usbdevice.DefaultInEndpoint, make([]byte, adbproto.MessageHeaderSize))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("期望超时错误，实际%v", err)
	}
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		in, want string
		ok       bool
	}{
		{"192.168.1.10", "192.168.1.10:5555", true},
		{"192.168.1.10:5556", "192.168.1.10:5556", true},
		{"emulator.local", "emulator.local:5555", true},
		{":5555", "", false},
		{"host:abc", "", false},
	}
	for _, tt := range tests {
		got, err := normalize(tt.in)
		if (err == nil) != tt.ok || got != tt.want {
			t.Errorf("normalize(%q) = %q, %v", tt.in, got, err)
		}
	}
}
