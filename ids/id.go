// This package defines a common id type which is used throughout the umbra client. It is
// based on random 16 byte values, rendered as lowercase hex when they travel on the wire.
package ids

import (
	"bytes"
	crypto_rand "crypto/rand"
	"encoding/hex"
	"io"
)

type ID [16]byte

func IDFromBytes(b []byte) ID {
	return [16]byte(b)
}

func NewID() ID {
	var id [16]byte
	_, err := io.ReadFull(crypto_rand.Reader, id[:])
	if err != nil {
		panic("short read from random source")
	}
	return id
}

func (id ID) String() string {
	return hex.EncodeToString(id[:])
}

// NewMessageID makes a fresh id in the string form used by envelope payloads.
func NewMessageID() string {
	return NewID().String()
}

func Compare(a, b ID) int {
	return bytes.Compare(a[:], b[:])
}
