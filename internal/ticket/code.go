// Package ticket generates the short public ticket codes printed on
// entry passes. Codes carry no uniqueness guarantee by themselves;
// callers enforce uniqueness against storage and retry on collision.
package ticket

import (
	"crypto/rand"
	"math/big"
)

const (
	// Prefix marks every generated ticket code.
	Prefix = "TICK-"
	// codeLength is the random portion after the prefix.
	codeLength = 8
	alphabet   = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

// MaxAttempts bounds the regenerate-on-collision loop at save time.
const MaxAttempts = 6

// Generate returns a fresh ticket code, e.g. "TICK-7GQ2M9XA".
func Generate() string {
	buf := make([]byte, codeLength)
	max := big.NewInt(int64(len(alphabet)))
	for i := range buf {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			// crypto/rand only fails when the OS entropy source is
			// broken; nothing sensible to do but panic.
			panic("ticket: entropy source unavailable: " + err.Error())
		}
		buf[i] = alphabet[n.Int64()]
	}
	return Prefix + string(buf)
}
