package jam

import (
	"crypto/rand"
	"strings"
)

const (
	codeLength  = 6
	codeCharset = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	// largest multiple of len(codeCharset) that fits in a byte
	codeByteLimit = 252
)

// NewCode returns a random session code of six characters from A-Z0-9.
func NewCode() string {
	var sb strings.Builder
	sb.Grow(codeLength)
	buf := make([]byte, 16)
	for sb.Len() < codeLength {
		if _, err := rand.Read(buf); err != nil {
			panic("jam: crypto/rand unavailable: " + err.Error())
		}
		for _, b := range buf {
			if b >= codeByteLimit {
				continue
			}
			sb.WriteByte(codeCharset[int(b)%len(codeCharset)])
			if sb.Len() == codeLength {
				break
			}
		}
	}
	return sb.String()
}

// NormalizeCode upper-cases and trims a user supplied code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func validCode(code string) bool {
	if len(code) != codeLength {
		return false
	}
	for i := 0; i < len(code); i++ {
		if strings.IndexByte(codeCharset, code[i]) < 0 {
			return false
		}
	}
	return true
}
