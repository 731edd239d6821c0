package governance

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// MaxCommentSize bounds approver comments.
const MaxCommentSize = 4096

var (
	ErrCommentTooLarge = errors.New("comment exceeds maximum allowed size")
	ErrInvalidUTF8     = errors.New("comment contains invalid UTF-8 sequences")
)

// SanitizeComment enforces the size limit, validates UTF-8 and strips control
// characters other than newline, tab and carriage return. Comments end up in audit
// records and logs, so escape sequences must not survive.
func SanitizeComment(input string) (string, error) {
	if len(input) > MaxCommentSize {
		return "", fmt.Errorf("%w: size=%d limit=%d", ErrCommentTooLarge, len(input), MaxCommentSize)
	}

	if !utf8.ValidString(input) {
		return "", ErrInvalidUTF8
	}

	// Fast path: if no control chars, return as is.
	if strings.IndexFunc(input, isUnsafeControl) < 0 {
		return input, nil
	}

	var b strings.Builder
	b.Grow(len(input))
	for _, r := range input {
		if !isUnsafeControl(r) {
			b.WriteRune(r)
		}
	}
	return b.String(), nil
}

func isUnsafeControl(r rune) bool {
	return unicode.IsControl(r) && r != '\n' && r != '\t' && r != '\r'
}
