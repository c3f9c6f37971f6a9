package adbserver

import "errors"

var (
	// ErrInvalidLength 请求的长度前缀不是4位十六进制数
	ErrInvalidLength = errors.New("invalid length prefix")

	// ErrServerStarted 服务器已启动
	ErrServerStarted = errors.New("server already started")

	// ErrRequestFailed 服务器回复了FAIL
	ErrRequestFailed = errors.New("request failed")
)
