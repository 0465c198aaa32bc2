package correlate

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"demobroker/internal/frame"
)

// ValidateKey reports whether key may be broadcast. Resolvers hand keys to
// helper commands as arguments, so a leading '-' is refused along with
// control characters and invalid UTF-8.
func ValidateKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return ErrEmptyKey
	}
	if strings.HasPrefix(key, "-") {
		return fmt.Errorf("%w: leading '-'", ErrInvalidKey)
	}
	if !utf8.ValidString(key) {
		return fmt.Errorf("%w: invalid UTF-8", ErrInvalidKey)
	}
	if strings.IndexFunc(key, unicode.IsControl) >= 0 {
		return fmt.Errorf("%w: control character", ErrInvalidKey)
	}
	return nil
}

func (e *Engine) checkKey(key string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	if e.opts.MaxFrameBytes <= 0 {
		return nil
	}
	data, err := frame.Encode(frame.Message{e.opts.KeyField: key})
	if err != nil {
		return err
	}
	// The decoder limit excludes the trailing newline.
	if size := len(data) - 1; size > e.opts.MaxFrameBytes {
		return fmt.Errorf("%w: %d bytes, limit %d", ErrKeyTooLong, size, e.opts.MaxFrameBytes)
	}
	return nil
}
