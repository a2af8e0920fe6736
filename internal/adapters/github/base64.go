package github

import (
	"encoding/base64"
	"strings"
)

// base64Decode decodes GitHub's contents-API base64 payload, which is
// chunked with embedded newlines.
func base64Decode(s string) ([]byte, error) {
	cleaned := strings.ReplaceAll(s, "\n", "")
	return base64.StdEncoding.DecodeString(cleaned)
}
