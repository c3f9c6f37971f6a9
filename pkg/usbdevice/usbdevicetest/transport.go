// Package usbdevicetest 提供内存中的USB传输实现，用于测试
package usbdevicetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/junbin-yang/adbbridge-go/pkg/adbproto"
	"github.com/junbin-yang/adbbridge-go/pkg/usbdevice"
)

type chunk struct {
	data []byte
	err  error
}

type device struct {
	handle   usbdevice.Handle
	in       chan chunk
	out      chan []byte
	claims   int
	releases int
}

// Transport 内存传输，同时实现usbdevice.Transport和usbdevice.Enumerator
type Transport struct {
	mu       sync.Mutex
	devices  map[string]*device
	order    []string
	claimErr error
	findErr  error
	writeErr error
}

// New 创建带有给定设备的内存传输
func New(handles ...usbdevice.Handle) *Transport {
	t := &Transport{devices: make(map[string]*device)}
	for _, h := range handles {
		t.AddDevice(h)
	}
	return t
}

// AddDevice 添加设备，重复添加无效
func (t *Transport) AddDevice(h usbdevice.Handle) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.devices[h.ID]; ok {
		return
	}
	t.devices[h.ID] = &device{
		handle: h,
		in:     make(chan chunk, 64),
		out:    make(chan []byte, 256),
	}
	t.order = append(t.order, h.ID)
}

// RemoveDevice 移除设备，之后的枚举不再返回它
func (t *Transport) RemoveDevice(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.devices, id)
	for i, v := range t.order {
		if v == id {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
}

// SetClaimError 设置声明接口返回的错误
func (t *Transport) SetClaimError(err error) {
	t.mu.Lock()
	t.claimErr = err
	t.mu.Unlock()
}

// SetFindError 设置枚举返回的错误
func (t *Transport) SetFindError(err error) {
	t.mu.Lock()
	t.findErr = err
	t.mu.Unlock()
}

// SetWriteError 设置写传输返回的错误
func (t *Transport) SetWriteError(err error) {
	t.mu.Lock()
	t.writeErr = err
	t.mu.Unlock()
}

func (t *Transport) device(id string) (*device, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	d, ok := t.devices[id]
	if !ok {
		return nil, fmt.Errorf("设备%s不存在", id)
	}
	return d, nil
}

func (t *Transport) FindDevices(ctx context.Context, filter usbdevice.Filter) ([]usbdevice.Handle, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.findErr != nil {
		return nil, t.findErr
	}
	var out []usbdevice.Handle
	for _, id := range t.order {
		if h := t.devices[id].handle; filter.Match(h) {
			out = append(out, h)
		}
	}
	return out, nil
}

func (t *Transport) ClaimInterface(ctx context.Context, h usbdevice.Handle, iface int) error {
	d, err := t.device(h.ID)
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	d.claims++
	return t.claimErr
}

func (t *Transport) ReleaseInterface(ctx context.Context, h usbdevice.Handle, iface int) error {
	d, err := t.device(h.ID)
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	d.releases++
	return nil
}

func (t *Transport) BulkTransfer(ctx context.Context, h usbdevice.Handle, endpoint uint8, data []byte) (int, error) {
	d, err := t.device(h.ID)
	if err != nil {
		return 0, err
	}

	if endpoint&usbdevice.EndpointDirIn != 0 {
		select {
		case c := <-d.in:
			if c.err != nil {
				return 0, c.err
			}
			return copy(data, c.data), nil
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}

	t.mu.Lock()
	werr := t.writeErr
	t.mu.Unlock()
	if werr != nil {
		return 0, werr
	}
	select {
	case d.out <- append([]byte(nil), data...):
		return len(data), nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// Claims 返回声明接口的次数
func (t *Transport) Claims(id string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if d, ok := t.devices[id]; ok {
		return d.claims
	}
	return 0
}

// Releases 返回释放接口的次数
func (t *Transport) Releases(id string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if d, ok := t.devices[id]; ok {
		return d.releases
	}
	return 0
}

// FeedRaw 向设备的IN端点放入一次传输的数据
func (t *Transport) FeedRaw(id string, data []byte) error {
	d, err := t.device(id)
	if err != nil {
		return err
	}
	d.in <- chunk{data: data}
	return nil
}

// Feed 模拟设备发送数据包：头部和负载各一次传输
func (t *Transport) Feed(id string, p *adbproto.Packet) error {
	if err := t.FeedRaw(id, p.Marshal()); err != nil {
		return err
	}
	if p.DataLength > 0 {
		return t.FeedRaw(id, p.Payload)
	}
	return nil
}

// FailRead 让下一次IN传输失败
func (t *Transport) FailRead(id string, err error) error {
	d, err2 := t.device(id)
	if err2 != nil {
		return err2
	}
	d.in <- chunk{err: err}
	return nil
}

// NextWrite 等待主机写出的下一次传输
func (t *Transport) NextWrite(id string, timeout time.Duration) ([]byte, error) {
	d, err := t.device(id)
	if err != nil {
		return nil, err
	}
	select {
	case b := <-d.out:
		return b, nil
	case <-time.After(timeout):
		return nil, errors.New("等待写入超时")
	}
}

// ReadPacket 等待主机写出的下一个完整数据包
func (t *Transport) ReadPacket(id string, timeout time.Duration) (*adbproto.Packet, error) {
	hdr, err := t.NextWrite(id, timeout)
	if err != nil {
		return nil, err
	}
	p, err := adbproto.Parse(hdr)
	if err != nil {
		return nil, err
	}
	if p.DataLength > 0 {
		if p.Payload, err = t.NextWrite(id, timeout); err != nil {
			return nil, err
		}
	}
	return p, nil
}
