package adbproto

import (
	"encoding/binary"
	"fmt"
)

// Packet ADB数据包
// 头部字段按顺序序列化为6个小端u32，负载作为第二次传输单独发送
type Packet struct {
	Command    Command
	Arg0       uint32
	Arg1       uint32
	DataLength uint32
	DataCheck  uint32
	Magic      uint32
	Payload    []byte

	// OnSent 头部和负载都写出后调用（可为nil）
	OnSent func()
}

// NewPacket 创建设置好命令和magic的数据包
func NewPacket(cmd Command, arg0, arg1 uint32) *Packet {
	p := &Packet{Arg0: arg0, Arg1: arg1}
	p.SetCommand(cmd)
	return p
}

// Parse 从线上读到的头部解析数据包
// 不校验magic和校验和，长度不是24字节时返回ErrMalformedPacket
func Parse(buf []byte) (*Packet, error) {
	if len(buf) != MessageHeaderSize {
		return nil, fmt.Errorf("%w: 期望%d字节，实际%d字节", ErrMalformedPacket, MessageHeaderSize, len(buf))
	}
	return &Packet{
		Command:    Command(binary.LittleEndian.Uint32(buf[0:])),
		Arg0:       binary.LittleEndian.Uint32(buf[4:]),
		Arg1:       binary.LittleEndian.Uint32(buf[8:]),
		DataLength: binary.LittleEndian.Uint32(buf[12:]),
		DataCheck:  binary.LittleEndian.Uint32(buf[16:]),
		Magic:      binary.LittleEndian.Uint32(buf[20:]),
	}, nil
}

// Marshal 序列化24字节头部（不含负载）
func (p *Packet) Marshal() []byte {
	buf := make([]byte, MessageHeaderSize)
	binary.LittleEndian.PutUint32(buf[0:], uint32(p.Command))
	binary.LittleEndian.PutUint32(buf[4:], p.Arg0)
	binary.LittleEndian.PutUint32(buf[8:], p.Arg1)
	binary.LittleEndian.PutUint32(buf[12:], p.DataLength)
	binary.LittleEndian.PutUint32(buf[16:], p.DataCheck)
	binary.LittleEndian.PutUint32(buf[20:], p.Magic)
	return buf
}

// SetCommand 设置命令并重新计算magic
func (p *Packet) SetCommand(cmd Command) {
	p.Command = cmd
	p.Magic = uint32(cmd) ^ 0xFFFFFFFF
}

// SetPayload 设置负载及其长度和校验和
func (p *Packet) SetPayload(data []byte) {
	p.Payload = append([]byte(nil), data...)
	p.DataLength = uint32(len(data))
	p.DataCheck = Checksum(data)
}

// IsValid magic是否为命令的按位取反
func (p *Packet) IsValid() bool {
	return p.Magic == uint32(p.Command)^0xFFFFFFFF
}

// IsPayloadValid 负载校验和是否与头部一致
func (p *Packet) IsPayloadValid() bool {
	return Checksum(p.Payload) == p.DataCheck
}

func (p *Packet) String() string {
	return fmt.Sprintf("%s(arg0=0x%x, arg1=0x%x, len=%d)", p.Command, p.Arg0, p.Arg1, p.DataLength)
}

// Checksum 所有字节之和对0xFFFFFFFF取模
func Checksum(data []byte) uint32 {
	var sum uint64
	for _, b := range data {
		sum = (sum + uint64(b)) % ChecksumModulus
	}
	return uint32(sum)
}

// NewConnect 构造CNXN数据包
func NewConnect(version, maxData uint32, identity string) *Packet {
	p := NewPacket(CmdCNXN, version, maxData)
	p.SetPayload([]byte(identity))
	return p
}

// NewAuth 构造AUTH数据包
func NewAuth(authType uint32, data []byte) *Packet {
	p := NewPacket(CmdAUTH, authType, 0)
	p.SetPayload(data)
	return p
}

// NewClose 构造CLSE数据包
func NewClose(localID, remoteID uint32) *Packet {
	return NewPacket(CmdCLSE, localID, remoteID)
}

// NewOkay 构造OKAY数据包
func NewOkay(localID, remoteID uint32) *Packet {
	return NewPacket(CmdOKAY, localID, remoteID)
}

// NewOpen 构造OPEN数据包，服务名以NUL结尾
func NewOpen(localID uint32, service string) *Packet {
	p := NewPacket(CmdOPEN, localID, 0)
	p.SetPayload(append([]byte(service), 0))
	return p
}

// NewWrite 构造WRTE数据包
func NewWrite(localID, remoteID uint32, data []byte) *Packet {
	p := NewPacket(CmdWRTE, localID, remoteID)
	p.SetPayload(data)
	return p
}
