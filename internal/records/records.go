// Package records reads stone records from YAML, JSON and CSV files.
package records

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/gradia/stoneid/internal/pkg/errors"
	"github.com/gradia/stoneid/internal/stone"
)

// Format identifies a record file format.
type Format string

// Supported formats.
const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
)

// FormatFromPath infers the format from a file extension.
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".json":
		return FormatJSON, nil
	case ".csv":
		return FormatCSV, nil
	default:
		return "", errors.InvalidInputError(fmt.Sprintf("unsupported record file extension %q", filepath.Ext(path))).
			WithDetail("path", path)
	}
}

// Load reads all records from path.
func Load(path string) ([]stone.Record, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(errors.CodeInvalidInput, "opening record file", err).WithDetail("path", path)
	}
	defer f.Close()

	recs, err := Decode(f, format)
	if err != nil {
		if appErr, ok := err.(*errors.AppError); ok {
			return nil, appErr.WithDetail("path", path)
		}
		return nil, err
	}
	return recs, nil
}

// Decode reads all records from r in the given format.
func Decode(r io.Reader, format Format) ([]stone.Record, error) {
	switch format {
	case FormatYAML:
		return decodeYAML(r)
	case FormatJSON:
		return decodeJSON(r)
	case FormatCSV:
		return decodeCSV(r)
	default:
		return nil, errors.InvalidInputError(fmt.Sprintf("unsupported record format %q", format))
	}
}

// yamlDocument accepts either a bare list or a mapping with a records key.
type yamlDocument struct {
	Records []stone.Record `yaml:"records"`
}

func decodeYAML(r io.Reader) ([]stone.Record, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(errors.CodeInvalidInput, "reading yaml records", err)
	}

	var node yaml.Node
	if err := yaml.Unmarshal(data, &node); err != nil {
		return nil, errors.Wrap(errors.CodeInvalidInput, "parsing yaml records", err)
	}
	if len(node.Content) == 0 {
		return nil, nil
	}

	root := node.Content[0]
	switch root.Kind {
	case yaml.SequenceNode:
		var recs []stone.Record
		if err := root.Decode(&recs); err != nil {
			return nil, errors.Wrap(errors.CodeInvalidInput, "decoding yaml records", err)
		}
		return recs, nil
	case yaml.MappingNode:
		var doc yamlDocument
		if err := root.Decode(&doc); err != nil {
			return nil, errors.Wrap(errors.CodeInvalidInput, "decoding yaml records", err)
		}
		return doc.Records, nil
	default:
		return nil, errors.InvalidInputError("yaml records must be a list or a mapping with a records key")
	}
}

func decodeJSON(r io.Reader) ([]stone.Record, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(errors.CodeInvalidInput, "reading json records", err)
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var recs []stone.Record
	if err := dec.Decode(&recs); err != nil {
		return nil, errors.Wrap(errors.CodeInvalidInput, "decoding json records", err)
	}
	return recs, nil
}

func decodeCSV(r io.Reader) ([]stone.Record, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(errors.CodeInvalidInput, "reading csv header", err)
	}

	columns := make(map[string]int, len(header))
	for i, name := range header {
		columns[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, field := range stone.FieldOrder {
		if _, ok := columns[field]; !ok {
			return nil, errors.MissingFieldError(field).WithDetail("row", "1")
		}
	}

	var recs []stone.Record
	for row := 2; ; row++ {
		values, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrap(errors.CodeInvalidInput, "reading csv row", err).
				WithDetail("row", fmt.Sprint(row))
		}

		var rec stone.Record
		for _, field := range stone.FieldOrder {
			if err := rec.Set(field, values[columns[field]]); err != nil {
				return nil, err
			}
		}
		recs = append(recs, rec)
	}
	return recs, nil
}
