package usbdevice

import (
	"context"
	"fmt"
	"sync"

	"github.com/junbin-yang/adbbridge-go/pkg/adbproto"
	log "github.com/junbin-yang/adbbridge-go/pkg/utils/logger"
)

const eventQueueSize = 16

// Session 单个设备的ADB连接会话
// 状态只由会话goroutine修改，传输在辅助goroutine中执行并以事件形式回送
type Session struct {
	handle    Handle
	transport Transport
	signer    Signer
	sockets   SocketCloser
	opts      Options

	ctx    context.Context
	cancel context.CancelFunc
	calls  chan event // 外部请求，无缓冲：发送成功即已被会话goroutine接收
	events chan event // 传输完成事件
	done   chan struct{}

	m *machine // 仅会话goroutine访问

	mu             sync.RWMutex
	state          State
	serialNo       string
	banner         string
	maxData        uint32
	onDisconnected DisconnectedFunc
}

// NewSession 创建设备会话并启动会话goroutine
// 参数：
//   - h：设备句柄
//   - transport：USB传输
//   - signer：认证签名
//   - sockets：设备关闭流时用于关闭主机侧连接（可为nil）
//   - opts：会话参数
func NewSession(h Handle, transport Transport, signer Signer, sockets SocketCloser, opts Options) *Session {
	opts.setDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		handle:    h,
		transport: transport,
		signer:    signer,
		sockets:   sockets,
		opts:      opts,
		ctx:       ctx,
		cancel:    cancel,
		calls:     make(chan event),
		events:    make(chan event, eventQueueSize),
		done:      make(chan struct{}),
		m:         newMachine(opts.MaxData),
		state:     StateOffline,
		maxData:   opts.MaxData,
	}
	go s.run()
	return s
}

// Handle 返回设备句柄
func (s *Session) Handle() Handle { return s.handle }

// State 返回当前状态
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// SerialNo 返回设备在CNXN中报告的序列号
func (s *Session) SerialNo() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.serialNo
}

// Banner 返回设备在CNXN中报告的banner
func (s *Session) Banner() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.banner
}

// MaxData 返回设备声明的最大负载
func (s *Session) MaxData() uint32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.maxData
}

// Done 会话断开后关闭
func (s *Session) Done() <-chan struct{} { return s.done }

// OnDisconnected 设置断开回调，需在Initialize之前设置
func (s *Session) OnDisconnected(fn DisconnectedFunc) {
	s.mu.Lock()
	s.onDisconnected = fn
	s.mu.Unlock()
}

// Initialize 声明接口、启动读循环并发送CNXN
// 已上线的会话立即调用onConnected；正在连接的会话追加回调
// 返回nil时onConnected保证被调用一次；会话已断开时返回ErrDisconnected且不调用回调
// 回调在会话goroutine中执行，不能在其中调用会阻塞等待本会话的方法
func (s *Session) Initialize(ctx context.Context, onConnected ConnectedFunc) error {
	return s.post(ctx, evInitialize{cb: onConnected})
}

// Enqueue 将数据包追加到写队列
func (s *Session) Enqueue(ctx context.Context, p *adbproto.Packet) error {
	return s.post(ctx, evEnqueue{pkt: p})
}

// Close 断开会话并等待资源释放，可重复调用
func (s *Session) Close() error {
	select {
	case s.calls <- evClose{}:
	case <-s.done:
		return nil
	}
	<-s.done
	return nil
}

func (s *Session) post(ctx context.Context, ev event) error {
	select {
	case s.calls <- ev:
		return nil
	case <-s.done:
		return ErrDisconnected
	case <-ctx.Done():
		return ctx.Err()
	}
}

// notify 供传输goroutine回送完成事件，会话结束后直接丢弃
func (s *Session) notify(ev event) {
	select {
	case s.events <- ev:
	case <-s.done:
	}
}

func (s *Session) run() {
	defer close(s.done)
	for !s.m.disconnected() {
		select {
		case ev := <-s.calls:
			s.step(ev)
		case ev := <-s.events:
			s.step(ev)
		}
	}
}

// step 处理一个事件，同步动作产生的后续事件在同一轮处理
func (s *Session) step(ev event) {
	queue := []event{ev}
	for len(queue) > 0 {
		ev, queue = queue[0], queue[1:]
		for _, act := range s.m.handle(ev) {
			if next := s.execute(act); next != nil {
				queue = append(queue, next)
			}
		}
	}
	s.publish()
}

func (s *Session) publish() {
	s.mu.Lock()
	s.state = s.m.state
	s.serialNo = s.m.serialNo
	s.banner = s.m.banner
	s.maxData = s.m.maxData
	s.mu.Unlock()
}

// execute 执行一个动作，同步动作可能返回后续事件
func (s *Session) execute(act action) event {
	switch a := act.(type) {
	case actClaim:
		go func() {
			err := s.transport.ClaimInterface(s.ctx, s.handle, s.opts.Interface)
			s.notify(evClaimDone{err: err})
		}()
	case actRead:
		go func() {
			buf := make([]byte, a.n)
			n, err := s.transport.BulkTransfer(s.ctx, s.handle, s.opts.InEndpoint, buf)
			if err == nil && n < 0 {
				err = fmt.Errorf("无效的传输长度%d", n)
			}
			if err != nil {
				n = 0
			}
			s.notify(evReadDone{data: buf[:n], err: err})
		}()
	case actWrite:
		go func() {
			n, err := s.transport.BulkTransfer(s.ctx, s.handle, s.opts.OutEndpoint, a.data)
			if err == nil && n != len(a.data) {
				err = fmt.Errorf("只写出%d/%d字节", n, len(a.data))
			}
			s.notify(evWriteDone{err: err})
		}()
	case actSign:
		sig, err := s.signer.Sign(a.nonce)
		log.Debugf("[USB] %s 回复认证签名", s.handle)
		return evSigned{sig: sig, err: err}
	case actPublicKey:
		key, err := s.signer.PublicKey()
		log.Infof("[USB] %s 签名未被接受，发送公钥，请在设备上确认", s.handle)
		return evPublicKey{key: key, err: err}
	case actSent:
		a.fn()
	case actConnected:
		if a.err == nil {
			log.Infof("[USB] %s 已上线: serial=%s banner=%s", s.handle, a.serial, a.banner)
		}
		s.publish()
		for _, cb := range a.cbs {
			cb(a.serial, a.banner, a.err)
		}
	case actCloseSocket:
		if s.sockets != nil {
			if err := s.sockets.CloseSocket(a.id); err != nil {
				log.Debugf("[USB] 关闭连接%d失败: %v", a.id, err)
			}
		}
	case actRelease:
		if err := s.transport.ReleaseInterface(context.Background(), s.handle, s.opts.Interface); err != nil {
			log.Warnf("[USB] %s 释放接口失败: %v", s.handle, err)
		}
	case actDisconnected:
		log.Infof("[USB] %s 已断开: %v", s.handle, a.reason)
		s.cancel()
		s.publish()
		s.mu.RLock()
		fn := s.onDisconnected
		s.mu.RUnlock()
		if fn != nil {
			fn(s, a.reason)
		}
	case actLog:
		log.Warnf("[USB] %s %s", s.handle, a.msg)
	}
	return nil
}
