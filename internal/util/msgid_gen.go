package util

import (
	"crypto/rand"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"time"
)

// GenerateMessageID returns a fresh Message-ID of the form
// "<unix_seconds.sha1_hex_of_8_random_bytes[:10]@instance>".
func GenerateMessageID(instance string) string {
	buf := make([]byte, 8)
	rand.Read(buf)
	h := sha1.Sum(buf)
	return fmt.Sprintf("<%d.%s@%s>", time.Now().Unix(), hex.EncodeToString(h[:])[:10], instance)
}
