package utils

import (
	"crypto/md5"
	"fmt"
	"strings"
)

// HashString returns the hex md5 of the input.
func HashString(input string) string {
	hash := md5.Sum([]byte(input))
	return fmt.Sprintf("%x", hash)
}

// SourceIDFromURL derives a deterministic record identifier from a detail
// page URL. Case and trailing slashes do not change the result.
func SourceIDFromURL(detailURL string) string {
	trimmed := strings.TrimRight(strings.TrimSpace(detailURL), "/")
	return HashString(strings.ToLower(trimmed))
}
