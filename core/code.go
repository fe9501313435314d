package core

import (
	"crypto/rand"
	"math/big"
	"strings"
)

// CodeAlphabet omits characters that are easy to confuse when read aloud or
// copied by hand (0/O, 1/I/L).
const CodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// DefaultCodeLength is the length of provisioning codes unless configured otherwise.
const DefaultCodeLength = 8

// GenerateCode returns length characters drawn uniformly from CodeAlphabet
// using crypto/rand. Non-positive lengths yield an empty string.
func GenerateCode(length int) (string, error) {
	if length <= 0 {
		return "", nil
	}
	max := big.NewInt(int64(len(CodeAlphabet)))
	var b strings.Builder
	b.Grow(length)
	for i := 0; i < length; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b.WriteByte(CodeAlphabet[n.Int64()])
	}
	return b.String(), nil
}
