// Package textutil implements the text processing operations exposed by the
// HTTP surface.
package textutil

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"regexp"
	"strings"
)

// Operations accepted by Process.
const (
	OpWordCount   = "word_count"
	OpExtractURLs = "extract_urls"
	OpHashSHA256  = "hash_sha256"
)

// ErrUnknownOperation means the requested operation is not one of the
// supported set.
var ErrUnknownOperation = errors.New("unknown text operation")

var urlPattern = regexp.MustCompile(`https?://\S+`)

// Process runs one named operation over text and returns the result object
// for that operation.
func Process(operation, text string) (map[string]interface{}, error) {
	switch operation {
	case OpWordCount:
		return map[string]interface{}{"word_count": len(strings.Fields(text))}, nil
	case OpExtractURLs:
		urls := urlPattern.FindAllString(text, -1)
		if urls == nil {
			urls = []string{}
		}
		return map[string]interface{}{"urls": urls}, nil
	case OpHashSHA256:
		sum := sha256.Sum256([]byte(text))
		return map[string]interface{}{"hash": hex.EncodeToString(sum[:])}, nil
	default:
		return nil, ErrUnknownOperation
	}
}
