package adbproto

import "fmt"

// Command 设备端数据包命令，取值为ASCII打包的u32
type Command uint32

const (
	CmdCNXN Command = 0x4e584e43
	CmdOPEN Command = 0x4e45504f
	CmdOKAY Command = 0x59414b4f
	CmdCLSE Command = 0x45534c43
	CmdWRTE Command = 0x45545257
	CmdAUTH Command = 0x48545541
)

// Known 判断命令是否属于已知集合
func (c Command) Known() bool {
	switch c {
	case CmdCNXN, CmdOPEN, CmdOKAY, CmdCLSE, CmdWRTE, CmdAUTH:
		return true
	}
	return false
}

func (c Command) String() string {
	if !c.Known() {
		return fmt.Sprintf("UNKNOWN(0x%08x)", uint32(c))
	}
	b := [4]byte{byte(c), byte(c >> 8), byte(c >> 16), byte(c >> 24)}
	return string(b[:])
}
