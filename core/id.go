package core

import (
	"crypto/rand"
	"encoding/hex"

	"pkt.systems/parley/schema"
)

func newMessageID() schema.MessageID {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "msg-unknown"
	}
	return schema.MessageID(hex.EncodeToString(buf[:]))
}
