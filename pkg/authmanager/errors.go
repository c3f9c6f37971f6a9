package authmanager

import "errors"

var (
	ErrNotInitialized   = errors.New("AuthManager is not initialized")
	ErrNonceTooLong     = errors.New("nonce too long for key size")
	ErrInvalidKeyRecord = errors.New("invalid key record")
	ErrUnsupportedKey   = errors.New("unsupported RSA key")
)
