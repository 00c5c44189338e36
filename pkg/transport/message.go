package transport

import "net"

// ReceivedMessage is one datagram read from the network. Data holds the raw
// bytes; the protocol layer above decodes and decrypts them.
type ReceivedMessage struct {
	Data []byte
	From net.Addr
}

// MessageHandler is called from the read loop for each received datagram.
// It must not block; hand long work to another goroutine.
type MessageHandler func(msg *ReceivedMessage)
