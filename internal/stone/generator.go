package stone

import (
	"fmt"
	"strings"

	"github.com/gradia/stoneid/internal/pkg/errors"
	"github.com/gradia/stoneid/internal/pkg/hash"
)

// BasicSuffix marks the basic identifier form.
const BasicSuffix = "-B"

// DefaultDigestSize is the BLAKE2b output length in bytes (8 hex characters).
const DefaultDigestSize = 4

// GeneratorConfig configures identifier derivation.
type GeneratorConfig struct {
	// DigestSize is the number of raw digest bytes; identifiers have
	// 2*DigestSize hex characters.
	DigestSize int

	// Encoding selects the canonical serialization.
	Encoding Encoding
}

// DefaultGeneratorConfig returns the configuration that reproduces
// identifiers issued by the original grading scripts.
func DefaultGeneratorConfig() GeneratorConfig {
	return GeneratorConfig{
		DigestSize: DefaultDigestSize,
		Encoding:   EncodingComma,
	}
}

// Generator derives identifiers from records. It holds no mutable state and
// is safe for concurrent use.
type Generator struct {
	cfg GeneratorConfig
	sum func(data []byte, size int) (string, error)
}

// NewGenerator creates a Generator. A zero DigestSize selects the default.
func NewGenerator(cfg GeneratorConfig) (*Generator, error) {
	if cfg.DigestSize == 0 {
		cfg.DigestSize = DefaultDigestSize
	}
	if cfg.DigestSize < hash.MinBlake2bSize || cfg.DigestSize > hash.MaxBlake2bSize {
		return nil, errors.InvalidInputError(fmt.Sprintf("digest size %d out of range [%d, %d]",
			cfg.DigestSize, hash.MinBlake2bSize, hash.MaxBlake2bSize))
	}

	enc, err := ParseEncoding(string(cfg.Encoding))
	if err != nil {
		return nil, err
	}
	cfg.Encoding = enc

	return &Generator{cfg: cfg, sum: hash.Blake2b}, nil
}

// MustGenerator is like NewGenerator but panics on error.
func MustGenerator(cfg GeneratorConfig) *Generator {
	g, err := NewGenerator(cfg)
	if err != nil {
		panic(err)
	}
	return g
}

// Config returns the generator configuration.
func (g *Generator) Config() GeneratorConfig {
	return g.cfg
}

// IDLength returns the length of a triple identifier in characters.
func (g *Generator) IDLength() int {
	return 2 * g.cfg.DigestSize
}

// Digest returns the lowercase hex BLAKE2b digest of the record's canonical
// payload. Invalid records are rejected before hashing.
func (g *Generator) Digest(r Record) (string, error) {
	payload, err := CanonicalPayload(r, g.cfg.Encoding)
	if err != nil {
		return "", err
	}
	return g.digest(payload)
}

func (g *Generator) digest(payload []byte) (string, error) {
	digest, err := g.sum(payload, g.cfg.DigestSize)
	if err != nil {
		return "", errors.InternalError("hashing record", err)
	}
	return digest, nil
}

// BasicID returns the digest followed by BasicSuffix.
func (g *Generator) BasicID(r Record) (string, error) {
	digest, err := g.Digest(r)
	if err != nil {
		return "", err
	}
	return digest + BasicSuffix, nil
}

// TripleID returns the bare digest.
func (g *Generator) TripleID(r Record) (string, error) {
	return g.Digest(r)
}

// IDs holds both identifier forms derived from one digest.
type IDs struct {
	Basic  string `json:"basic_id" yaml:"basic_id"`
	Triple string `json:"triple_id" yaml:"triple_id"`
}

// Both hashes r once and returns both identifier forms.
func (g *Generator) Both(r Record) (IDs, error) {
	digest, err := g.Digest(r)
	if err != nil {
		return IDs{}, err
	}
	return IDs{Basic: digest + BasicSuffix, Triple: digest}, nil
}

// Derive validates and serializes r once, returning the canonical payload
// along with both identifier forms.
func (g *Generator) Derive(r Record) (IDs, []byte, error) {
	payload, err := CanonicalPayload(r, g.cfg.Encoding)
	if err != nil {
		return IDs{}, nil, err
	}
	digest, err := g.digest(payload)
	if err != nil {
		return IDs{}, nil, err
	}
	return IDs{Basic: digest + BasicSuffix, Triple: digest}, payload, nil
}

// Verify reports whether id, in either form, was derived from r. Case and
// surrounding whitespace are ignored.
func (g *Generator) Verify(r Record, id string) (bool, error) {
	ids, err := g.Both(r)
	if err != nil {
		return false, err
	}
	id = strings.ToLower(strings.TrimSpace(id))
	return id == ids.Triple || id == strings.ToLower(ids.Basic), nil
}
