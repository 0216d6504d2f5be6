// internal/websocket/errors.go
package websocket

import "errors"

var (
	ErrUnauthorized = errors.New("realtime handshake rejected")
	ErrNoToken      = errors.New("no access token available")
	ErrNotConnected = errors.New("realtime channel not connected")
)
