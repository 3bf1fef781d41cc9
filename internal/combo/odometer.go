// Package combo enumerates fixed-length strings over an alphabet in
// lexicographic (odometer) order.
package combo

import (
	"fmt"
	"math/bits"
	"strings"

	"github.com/gradia/stoneid/internal/pkg/errors"
)

// DefaultAlphabet is lowercase hexadecimal, matching identifier digests.
const DefaultAlphabet = "0123456789abcdef"

// Odometer steps through combinations of an ordered alphabet. The rightmost
// position turns fastest and carries into its left neighbour on wrap-around.
type Odometer struct {
	alphabet string
	index    [128]int // position of each ASCII byte in alphabet, -1 if absent
}

// New creates an Odometer. The alphabet must be non-empty ASCII with no
// repeated characters.
func New(alphabet string) (*Odometer, error) {
	if alphabet == "" {
		return nil, errors.InvalidInputError("alphabet must not be empty")
	}

	o := &Odometer{alphabet: alphabet}
	for i := range o.index {
		o.index[i] = -1
	}
	for i := 0; i < len(alphabet); i++ {
		c := alphabet[i]
		if c >= 128 {
			return nil, errors.InvalidInputError(fmt.Sprintf("alphabet character %q is not ASCII", c))
		}
		if o.index[c] != -1 {
			return nil, errors.InvalidInputError(fmt.Sprintf("alphabet repeats character %q", c))
		}
		o.index[c] = i
	}
	return o, nil
}

// Default returns an Odometer over DefaultAlphabet.
func Default() *Odometer {
	o, err := New(DefaultAlphabet)
	if err != nil {
		panic(err)
	}
	return o
}

// Alphabet returns the odometer's alphabet.
func (o *Odometer) Alphabet() string {
	return o.alphabet
}

func (o *Odometer) position(c byte) int {
	if c >= 128 {
		return -1
	}
	return o.index[c]
}

// First returns the smallest combination of the given length.
func (o *Odometer) First(length int) string {
	return strings.Repeat(o.alphabet[:1], length)
}

// Last returns the largest combination of the given length.
func (o *Odometer) Last(length int) string {
	return strings.Repeat(o.alphabet[len(o.alphabet)-1:], length)
}

// Validate reports whether s is a non-empty string over the alphabet.
func (o *Odometer) Validate(s string) error {
	if s == "" {
		return errors.InvalidInputError("combination must not be empty")
	}
	for i := 0; i < len(s); i++ {
		if o.position(s[i]) < 0 {
			return errors.InvalidInputError(fmt.Sprintf("character %q at position %d is not in the alphabet", s[i], i)).
				WithDetail("position", fmt.Sprint(i))
		}
	}
	return nil
}

// Next returns the combination after current. When current is the last
// combination the odometer wraps: Next returns First(len(current)) and false.
func (o *Odometer) Next(current string) (string, bool, error) {
	if err := o.Validate(current); err != nil {
		return "", false, err
	}

	b := []byte(current)
	last := len(o.alphabet) - 1
	for i := len(b) - 1; i >= 0; i-- {
		p := o.position(b[i])
		if p < last {
			b[i] = o.alphabet[p+1]
			return string(b), true, nil
		}
		b[i] = o.alphabet[0]
	}
	return string(b), false, nil
}

// Generate returns up to count combinations of the given length, starting
// at First(length). It stops early once every combination has been produced.
func (o *Odometer) Generate(length, count int) ([]string, error) {
	if length <= 0 {
		return nil, errors.InvalidInputError(fmt.Sprintf("length must be positive, got %d", length))
	}
	if count < 0 {
		return nil, errors.InvalidInputError(fmt.Sprintf("count must not be negative, got %d", count))
	}

	if total, ok := o.Count(length); ok && uint64(count) > total {
		count = int(total)
	}
	return o.From(o.First(length), count)
}

// From returns up to count combinations starting at start (inclusive),
// stopping at the last combination of that length.
func (o *Odometer) From(start string, count int) ([]string, error) {
	if err := o.Validate(start); err != nil {
		return nil, err
	}
	if count < 0 {
		return nil, errors.InvalidInputError(fmt.Sprintf("count must not be negative, got %d", count))
	}

	out := make([]string, 0, min(count, 1024))
	current := start
	for len(out) < count {
		out = append(out, current)
		next, ok, err := o.Next(current)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		current = next
	}
	return out, nil
}

// Count returns the number of combinations of the given length. The second
// result is false if the count overflows uint64.
func (o *Odometer) Count(length int) (uint64, bool) {
	if length < 0 {
		return 0, true
	}
	base := uint64(len(o.alphabet))
	total := uint64(1)
	for i := 0; i < length; i++ {
		hi, lo := bits.Mul64(total, base)
		if hi != 0 {
			return 0, false
		}
		total = lo
	}
	return total, true
}
