package usbdevice

import (
	"fmt"
	"strings"

	"github.com/junbin-yang/adbbridge-go/pkg/adbproto"
)

// 状态机输入事件
type event interface{ isEvent() }

type (
	evInitialize struct{ cb ConnectedFunc }
	evClaimDone  struct{ err error }
	evWriteDone  struct{ err error }
	evEnqueue    struct{ pkt *adbproto.Packet }
	evClose      struct{}
)

type evReadDone struct {
	data []byte
	err  error
}

type evSigned struct {
	sig []byte
	err error
}

type evPublicKey struct {
	key string
	err error
}

func (evInitialize) isEvent() {}
func (evClaimDone) isEvent()  {}
func (evReadDone) isEvent()   {}
func (evWriteDone) isEvent()  {}
func (evSigned) isEvent()     {}
func (evPublicKey) isEvent()  {}
func (evEnqueue) isEvent()    {}
func (evClose) isEvent()      {}

// 状态机输出的副作用，由Session执行
type action interface{ isAction() }

type (
	actClaim        struct{}
	actRead         struct{ n int }
	actWrite        struct{ data []byte }
	actSign         struct{ nonce []byte }
	actPublicKey    struct{}
	actSent         struct{ fn func() }
	actCloseSocket  struct{ id uint32 }
	actRelease      struct{}
	actDisconnected struct{ reason error }
	actLog          struct{ msg string }
)

type actConnected struct {
	cbs            []ConnectedFunc
	serial, banner string
	err            error
}

func (actClaim) isAction()        {}
func (actRead) isAction()         {}
func (actWrite) isAction()        {}
func (actSign) isAction()         {}
func (actPublicKey) isAction()    {}
func (actSent) isAction()         {}
func (actConnected) isAction()    {}
func (actCloseSocket) isAction()  {}
func (actRelease) isAction()      {}
func (actDisconnected) isAction() {}
func (actLog) isAction()          {}

// writeStage 当前在途写传输发送的部分
type writeStage int

const (
	writeHeader writeStage = iota
	writePayload
)

// machine 设备会话状态机
// handle只修改自身字段并返回需要执行的动作，不做任何I/O
type machine struct {
	hostMaxData uint32

	state     State
	claimed   bool // 已发起声明接口
	maxData   uint32
	serialNo  string
	banner    string
	authTries int

	pending []ConnectedFunc

	// 读循环：header非nil时正在等待该头部对应的负载
	header *adbproto.Packet

	// 写队列：队首即在途数据包
	queue    []*adbproto.Packet
	inFlight bool
	stage    writeStage
}

func newMachine(hostMaxData uint32) *machine {
	return &machine{
		hostMaxData: hostMaxData,
		state:       StateOffline,
		maxData:     hostMaxData,
	}
}

func (m *machine) disconnected() bool {
	return m.state == StateDisconnected
}

// handle 处理一个事件
// 参数：
//   - ev：输入事件
//
// 返回：
//   - 按顺序执行的动作列表
func (m *machine) handle(ev event) []action {
	if m.disconnected() {
		// 断开后仍可能收到在途传输的完成事件
		if e, ok := ev.(evInitialize); ok && e.cb != nil {
			return []action{actConnected{cbs: []ConnectedFunc{e.cb}, err: ErrDisconnected}}
		}
		return nil
	}

	switch e := ev.(type) {
	case evInitialize:
		return m.onInitialize(e.cb)
	case evClaimDone:
		if e.err != nil {
			return m.disconnect(fmt.Errorf("%w: 声明接口: %v", ErrTransferFailed, e.err))
		}
		// 先启动读循环，再发送CNXN
		acts := []action{actRead{n: adbproto.MessageHeaderSize}}
		return append(acts, m.enqueue(adbproto.NewConnect(adbproto.Version, m.hostMaxData, adbproto.HostIdentity))...)
	case evReadDone:
		return m.onRead(e.data, e.err)
	case evWriteDone:
		return m.onWriteDone(e.err)
	case evSigned:
		if e.err != nil {
			return m.disconnect(fmt.Errorf("签名失败: %w", e.err))
		}
		return m.enqueue(adbproto.NewAuth(adbproto.AuthSignature, e.sig))
	case evPublicKey:
		if e.err != nil {
			return m.disconnect(fmt.Errorf("读取公钥失败: %w", e.err))
		}
		return m.enqueue(adbproto.NewAuth(adbproto.AuthRSAPublicKey, append([]byte(e.key), 0)))
	case evEnqueue:
		return m.enqueue(e.pkt)
	case evClose:
		return m.disconnect(ErrDisconnected)
	}
	return nil
}

func (m *machine) onInitialize(cb ConnectedFunc) []action {
	switch m.state {
	case StateOnline:
		if cb == nil {
			return nil
		}
		return []action{actConnected{cbs: []ConnectedFunc{cb}, serial: m.serialNo, banner: m.banner}}
	case StateBootloader, StateFastboot:
		if cb == nil {
			return nil
		}
		return []action{actConnected{cbs: []ConnectedFunc{cb}, serial: m.serialNo, banner: m.banner, err: m.notADBMode()}}
	}
	if cb != nil {
		m.pending = append(m.pending, cb)
	}
	if m.claimed {
		return nil
	}
	m.claimed = true
	m.state = StateConnecting
	return []action{actClaim{}}
}

func (m *machine) onRead(data []byte, err error) []action {
	if err != nil {
		return m.disconnect(fmt.Errorf("%w: 读取: %v", ErrTransferFailed, err))
	}

	var pkt *adbproto.Packet
	if m.header == nil {
		p, err := adbproto.Parse(data)
		if err != nil {
			return m.disconnect(err)
		}
		if !p.IsValid() {
			return m.disconnect(fmt.Errorf("%w: %s magic=0x%08x", adbproto.ErrInvalidMagic, p.Command, p.Magic))
		}
		if p.DataLength > adbproto.MaxPayload {
			return m.disconnect(fmt.Errorf("%w: %d字节", adbproto.ErrPayloadTooLarge, p.DataLength))
		}
		if p.DataLength > 0 {
			m.header = p
			return []action{actRead{n: int(p.DataLength)}}
		}
		pkt = p
	} else {
		pkt, m.header = m.header, nil
		if uint32(len(data)) != pkt.DataLength {
			return m.disconnect(fmt.Errorf("%w: 负载期望%d字节，实际%d字节", ErrTransferFailed, pkt.DataLength, len(data)))
		}
		pkt.Payload = data
		if !pkt.IsPayloadValid() {
			return m.disconnect(fmt.Errorf("%w: %s", adbproto.ErrChecksumMismatch, pkt))
		}
	}

	acts := m.receive(pkt)
	if m.disconnected() {
		return acts
	}
	return append(acts, actRead{n: adbproto.MessageHeaderSize})
}

// receive 分发一个完整的设备数据包
func (m *machine) receive(p *adbproto.Packet) []action {
	switch p.Command {
	case adbproto.CmdCNXN:
		return m.onConnect(p)
	case adbproto.CmdAUTH:
		if p.Arg0 != adbproto.AuthToken {
			return []action{actLog{msg: fmt.Sprintf("忽略AUTH类型%d", p.Arg0)}}
		}
		m.authTries++
		switch m.authTries {
		case 1:
			return []action{actSign{nonce: p.Payload}}
		case 2:
			// 签名未被接受，发送公钥等待设备端确认
			return []action{actPublicKey{}}
		default:
			return []action{actLog{msg: "公钥已发送，等待设备确认"}}
		}
	case adbproto.CmdOPEN:
		// 设备不能向主机发起流
		return m.enqueue(adbproto.NewClose(0, p.Arg0))
	case adbproto.CmdCLSE:
		return []action{actCloseSocket{id: p.Arg1}}
	case adbproto.CmdWRTE, adbproto.CmdOKAY:
		return nil
	default:
		return m.disconnect(fmt.Errorf("%w: %s", ErrUnrecognizedCommand, p.Command))
	}
}

func (m *machine) onConnect(p *adbproto.Packet) []action {
	identity := strings.TrimRight(string(p.Payload), "\x00")
	parts := strings.SplitN(identity, ":", 3)
	if len(parts) != 3 {
		return []action{actLog{msg: fmt.Sprintf("无法解析设备标识: %q", identity)}}
	}

	switch parts[0] {
	case adbproto.DevicePrefix:
		m.maxData = p.Arg1
		m.serialNo, m.banner = parts[1], parts[2]
		m.state = StateOnline
		cbs := m.pending
		m.pending = nil
		return []action{actConnected{cbs: cbs, serial: m.serialNo, banner: m.banner}}
	case adbproto.BootloaderPrefix:
		m.state = StateBootloader
	case adbproto.FastbootPrefix:
		m.state = StateFastboot
	default:
		return []action{actLog{msg: fmt.Sprintf("未知的设备类型: %q", parts[0])}}
	}
	m.maxData = p.Arg1
	m.serialNo, m.banner = parts[1], parts[2]

	// 等待上线的回调不会再被触发，直接失败
	if len(m.pending) == 0 {
		return nil
	}
	cbs := m.pending
	m.pending = nil
	return []action{actConnected{cbs: cbs, serial: m.serialNo, banner: m.banner, err: m.notADBMode()}}
}

func (m *machine) notADBMode() error {
	return fmt.Errorf("%w: %s", ErrNotADBMode, m.state)
}

// enqueue 追加到写队列，空闲时开始发送
func (m *machine) enqueue(p *adbproto.Packet) []action {
	m.queue = append(m.queue, p)
	if m.inFlight {
		return nil
	}
	m.inFlight = true
	return m.writeHead()
}

func (m *machine) writeHead() []action {
	m.stage = writeHeader
	return []action{actWrite{data: m.queue[0].Marshal()}}
}

func (m *machine) onWriteDone(err error) []action {
	if err != nil {
		return m.disconnect(fmt.Errorf("%w: 写入: %v", ErrTransferFailed, err))
	}
	if !m.inFlight || len(m.queue) == 0 {
		return nil
	}

	head := m.queue[0]
	if m.stage == writeHeader && head.DataLength > 0 {
		m.stage = writePayload
		return []action{actWrite{data: head.Payload}}
	}

	m.queue[0] = nil
	m.queue = m.queue[1:]
	var acts []action
	if head.OnSent != nil {
		acts = append(acts, actSent{fn: head.OnSent})
	}
	if len(m.queue) == 0 {
		m.inFlight = false
		return acts
	}
	return append(acts, m.writeHead()...)
}

// disconnect 进入终止状态，重复调用不产生动作
func (m *machine) disconnect(reason error) []action {
	if m.disconnected() {
		return nil
	}
	claimed := m.claimed
	m.state = StateDisconnected
	m.queue = nil
	m.inFlight = false
	m.header = nil

	var acts []action
	if claimed {
		acts = append(acts, actRelease{})
	}
	if len(m.pending) > 0 {
		acts = append(acts, actConnected{cbs: m.pending, err: fmt.Errorf("%w: %v", ErrDisconnected, reason)})
		m.pending = nil
	}
	return append(acts, actDisconnected{reason: reason})
}
