// Package stone derives deterministic identifiers for gemstone records.
//
// A Record is serialized into a canonical byte payload with a fixed field
// order (internal_id, color, clarity, cut, culet_size) and hashed with
// BLAKE2b. The digest size is expressed in raw bytes, so an identifier is
// always twice as many hex characters as the configured size. Two textual
// forms share one digest: the triple identifier is the bare hex digest and
// the basic identifier appends the "-B" marker.
//
// The field order and the comma encoding are frozen: changing either
// changes every identifier ever issued.
package stone

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/gradia/stoneid/internal/pkg/errors"
)

// Field names as they appear in files and error details.
const (
	FieldInternalID = "internal_id"
	FieldColor      = "color"
	FieldClarity    = "clarity"
	FieldCut        = "cut"
	FieldCuletSize  = "culet_size"
)

// FieldOrder is the canonical serialization order.
var FieldOrder = []string{FieldInternalID, FieldColor, FieldClarity, FieldCut, FieldCuletSize}

// Delimiter separates fields in the comma encoding.
const Delimiter = ","

// Record describes one physical stone for identifier derivation.
type Record struct {
	InternalID string `json:"internal_id" yaml:"internal_id"`
	Color      string `json:"color" yaml:"color"`
	Clarity    string `json:"clarity" yaml:"clarity"`
	Cut        string `json:"cut" yaml:"cut"`
	CuletSize  string `json:"culet_size" yaml:"culet_size"`
}

// Values returns the field values in canonical order.
func (r Record) Values() []string {
	return []string{r.InternalID, r.Color, r.Clarity, r.Cut, r.CuletSize}
}

// Set assigns a field by its canonical name.
func (r *Record) Set(field, value string) error {
	switch field {
	case FieldInternalID:
		r.InternalID = value
	case FieldColor:
		r.Color = value
	case FieldClarity:
		r.Clarity = value
	case FieldCut:
		r.Cut = value
	case FieldCuletSize:
		r.CuletSize = value
	default:
		return errors.InvalidInputError(fmt.Sprintf("unknown field %q", field)).WithDetail("field", field)
	}
	return nil
}

// Validate checks that every field is present and representable as text.
func (r Record) Validate() error {
	for i, v := range r.Values() {
		field := FieldOrder[i]
		if v == "" {
			return errors.MissingFieldError(field)
		}
		if !utf8.ValidString(v) {
			return errors.InvalidInputError(fmt.Sprintf("field %s is not valid UTF-8", field)).
				WithDetail("field", field)
		}
	}
	return nil
}

// Encoding selects how a record is serialized before hashing.
type Encoding string

const (
	// EncodingComma joins fields with a comma. Fields containing the
	// delimiter are rejected so distinct records never share a payload.
	EncodingComma Encoding = "comma"

	// EncodingLengthPrefixed writes each field as <len>:<value>.
	EncodingLengthPrefixed Encoding = "length-prefixed"
)

// ParseEncoding parses an encoding name. Empty selects EncodingComma.
func ParseEncoding(s string) (Encoding, error) {
	switch Encoding(strings.ToLower(strings.TrimSpace(s))) {
	case "", EncodingComma:
		return EncodingComma, nil
	case EncodingLengthPrefixed:
		return EncodingLengthPrefixed, nil
	default:
		return "", errors.InvalidInputError(fmt.Sprintf("unknown encoding %q (must be comma or length-prefixed)", s))
	}
}

// CanonicalPayload validates r and returns its canonical byte serialization.
func CanonicalPayload(r Record, enc Encoding) ([]byte, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}

	values := r.Values()
	switch enc {
	case EncodingComma, "":
		for i, v := range values {
			if strings.Contains(v, Delimiter) {
				return nil, errors.InvalidInputError(fmt.Sprintf("field %s contains the %q delimiter", FieldOrder[i], Delimiter)).
					WithDetail("field", FieldOrder[i])
			}
		}
		return []byte(strings.Join(values, Delimiter)), nil

	case EncodingLengthPrefixed:
		var b strings.Builder
		for _, v := range values {
			// Length is in bytes, not runes.
			b.WriteString(strconv.Itoa(len(v)))
			b.WriteByte(':')
			b.WriteString(v)
		}
		return []byte(b.String()), nil

	default:
		return nil, errors.InvalidInputError(fmt.Sprintf("unknown encoding %q", enc))
	}
}
