package adbproto

import "errors"

var (
	ErrMalformedPacket  = errors.New("malformed packet header")
	ErrInvalidMagic     = errors.New("packet magic does not match command")
	ErrChecksumMismatch = errors.New("payload checksum mismatch")
	ErrPayloadTooLarge  = errors.New("payload exceeds max data")
)
