package random

import (
	"crypto/rand"
	"math/big"
	"strings"

	"github.com/Laisky/errors/v2"
	gutils "github.com/Laisky/go-utils/v5"
)

// GetUUID generates a UUIDv7 and returns it without hyphens.
func GetUUID() string {
	return strings.ReplaceAll(gutils.UUID7(), "-", "")
}

const keyChars = "0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"

// GenerateKey creates a 48-character api key: 16 random characters followed
// by a case-mixed UUID.
func GenerateKey() string {
	key := make([]byte, 48)
	copy(key[:16], GetRandomString(16))
	id := GetUUID()
	for i := 0; i < 32; i++ {
		c := id[i]
		if i%2 == 0 && c >= 'a' && c <= 'z' {
			c = c - 'a' + 'A'
		}
		key[i+16] = c
	}
	return string(key)
}

// GetRandomString generates a random string of the specified length using
// crypto/rand over a mixed alphanumeric charset.
func GetRandomString(length int) string {
	key := make([]byte, length)
	for i := range length {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(keyChars))))
		if err != nil {
			panic(errors.Wrap(err, "read crypto rand"))
		}
		key[i] = keyChars[n.Int64()]
	}
	return string(key)
}
