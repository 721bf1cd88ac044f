// Package codes generates batches of pronounceable single-use discount codes.
package codes

import (
	"math/rand/v2"
	"strings"

	"github.com/go-faster/errors"
)

// MinBatch is the smallest allowed batch size for code generation.
const MinBatch = 2

// ErrBatchTooSmall is returned when fewer than MinBatch codes are requested.
var ErrBatchTooSmall = errors.New("at least 2 codes per batch")

const (
	vowels     = "aeiouy"
	consonants = "bcdfghjklmnpqrstvwxz"
	digits     = "0123456789"
)

// Each scheme is a syllable template: v = vowel, c = consonant, d = digit.
// The mix keeps codes readable over the phone while spreading the space.
var schemes = []string{"vcvcdd", "cvcvdd", "vcddvc", "ddvcdd"}

// Generate produces n distinct codes. Uniqueness is checked only within the
// batch: a collision regenerates the code rather than failing. Global
// uniqueness is the ledger's primary key's problem.
func Generate(n int) ([]string, error) {
	if n < MinBatch {
		return nil, ErrBatchTooSmall
	}

	seen := make(map[string]struct{}, n)
	out := make([]string, 0, n)
	for len(out) < n {
		code := generateOne()
		if _, dup := seen[code]; dup {
			continue
		}
		seen[code] = struct{}{}
		out = append(out, code)
	}
	return out, nil
}

func generateOne() string {
	scheme := schemes[rand.IntN(len(schemes))]
	var b strings.Builder
	b.Grow(len(scheme))
	for _, letter := range scheme {
		switch letter {
		case 'v':
			b.WriteByte(vowels[rand.IntN(len(vowels))])
		case 'c':
			b.WriteByte(consonants[rand.IntN(len(consonants))])
		case 'd':
			b.WriteByte(digits[rand.IntN(len(digits))])
		}
	}
	return b.String()
}
