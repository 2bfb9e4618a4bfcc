package utils

import (
	"crypto/md5"
	"fmt"
)

// HashString returns a hex md5 digest. Used for cache keys, not security.
func HashString(input string) string {
	hash := md5.Sum([]byte(input))
	return fmt.Sprintf("%x", hash)
}
