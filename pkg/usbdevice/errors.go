package usbdevice

import "errors"

var (
	// ErrTransferFailed USB声明接口或批量传输失败
	ErrTransferFailed = errors.New("usb transfer failed")

	// ErrUnrecognizedCommand 设备发送了未知命令
	ErrUnrecognizedCommand = errors.New("unrecognized command")

	// ErrDisconnected 会话已断开
	ErrDisconnected = errors.New("device disconnected")

	// ErrNotADBMode 设备处于bootloader或fastboot模式，不能建立ADB连接
	ErrNotADBMode = errors.New("device not in adb mode")
)
