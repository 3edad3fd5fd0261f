// Package invoice formats store-scoped invoice numbers such as DOWNVOYA0004.
// Reserving the sequence value itself is the store's job and happens inside
// the sale transaction.
package invoice

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

const (
	BrandTag       = "VOYA"
	PrefixLetters  = 4
	SequenceWidth  = 4
	MaxSequence    = 9999
	fallbackPrefix = "STOR"
)

var (
	ErrSequenceExhausted = errors.New("invoice sequence exhausted")
	ErrInvalidSequence   = errors.New("invalid invoice sequence")
)

// Prefix derives the store prefix: the first four ASCII letters of the store
// name, uppercased, followed by the brand tag. Digits and symbols are skipped.
func Prefix(storeName string) string {
	var b strings.Builder
	for _, r := range storeName {
		if b.Len() == PrefixLetters {
			break
		}
		if r > unicode.MaxASCII || !unicode.IsLetter(r) {
			continue
		}
		b.WriteRune(unicode.ToUpper(r))
	}
	head := b.String()
	if head == "" {
		head = fallbackPrefix
	}
	return head + BrandTag
}

func Format(prefix string, seq int) (string, error) {
	if seq < 1 {
		return "", fmt.Errorf("%w: %d", ErrInvalidSequence, seq)
	}
	if seq > MaxSequence {
		return "", fmt.Errorf("%w: %d exceeds %d", ErrSequenceExhausted, seq, MaxSequence)
	}
	return fmt.Sprintf("%s%0*d", prefix, SequenceWidth, seq), nil
}

func Number(storeName string, seq int) (string, error) {
	return Format(Prefix(storeName), seq)
}
