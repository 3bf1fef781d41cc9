// Package report renders plain-text grading reports for identified stones.
package report

import (
	"fmt"
	"io"
	"strings"
	"text/template"
	"time"

	"github.com/gradia/stoneid/internal/pkg/errors"
	"github.com/gradia/stoneid/internal/stone"
)

// Disclaimer is printed at the foot of every report.
const Disclaimer = "This report is only an opinion of GRADIA's gemologist. The results are based on " +
	"GRADIA's professional technique and equipment. The stone in this report is a natural diamond " +
	"and is not lab grown or a simulant. Results from this report cannot be used as a guarantee, " +
	"warranty, or valuation. For important limitations & disclaimers, please refer to www.gradia.net/terms."

// Title is the report heading.
const Title = "Triple Verified Grading Report"

// Row is one labeled value.
type Row struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// Section is a headed group of rows.
type Section struct {
	Heading string `json:"heading"`
	Rows    []Row  `json:"rows"`
}

// Report is a rendered-ready grading report.
type Report struct {
	Number     string    `json:"number"`
	Title      string    `json:"title"`
	IssuedAt   time.Time `json:"issued_at"`
	VerifyURL  string    `json:"verify_url"`
	BasicID    string    `json:"basic_id"`
	TripleID   string    `json:"triple_id"`
	Sections   []Section `json:"sections"`
	Comments   []string  `json:"comments,omitempty"`
	Disclaimer string    `json:"disclaimer"`
}

// Options carries the report details that are not part of the record.
type Options struct {
	// Number overrides the report number derived from the internal ID.
	Number string

	// VerifyBaseURL is the site hosting digital reports.
	VerifyBaseURL string

	Origin       string
	Shape        string
	Measurements string
	Comments     []string

	// Optional grading attributes beyond the identifying record.
	Carat        string
	Fluorescence string
	Polish       string
	Symmetry     string

	// Ownership details; the section is omitted when all are empty.
	Owner      string
	OwnedSince time.Time
	References []Row // e.g. "GIA Ref"

	// IssuedAt defaults to the current time.
	IssuedAt time.Time
}

// Number derives a report number from an internal ID: IDs of ASCII digits
// are zero-padded to eight digits; every ID is prefixed with "G".
func Number(internalID string) string {
	id := strings.TrimSpace(internalID)
	if id != "" && strings.IndexFunc(id, func(r rune) bool { return r < '0' || r > '9' }) < 0 && len(id) < 8 {
		id = strings.Repeat("0", 8-len(id)) + id
	}
	return "G" + id
}

// VerifyURL returns the digital report location for number.
func VerifyURL(baseURL, number string) string {
	return strings.TrimRight(baseURL, "/") + "/verify/" + number
}

// FromRecord builds a report for rec using gen for the identifiers.
func FromRecord(rec stone.Record, gen *stone.Generator, opts Options) (Report, error) {
	ids, err := gen.Both(rec)
	if err != nil {
		return Report{}, err
	}
	if opts.VerifyBaseURL == "" {
		return Report{}, errors.InvalidInputError("verify base URL is required")
	}

	number := opts.Number
	if number == "" {
		number = Number(rec.InternalID)
	}

	issued := opts.IssuedAt
	if issued.IsZero() {
		issued = time.Now()
	}

	r := Report{
		Number:     number,
		Title:      Title,
		IssuedAt:   issued.UTC(),
		VerifyURL:  VerifyURL(opts.VerifyBaseURL, number),
		BasicID:    ids.Basic,
		TripleID:   ids.Triple,
		Comments:   opts.Comments,
		Disclaimer: Disclaimer,
	}

	details := Section{Heading: "Report Details"}
	details.Rows = appendRow(details.Rows, "Internal ID", rec.InternalID)
	details.Rows = appendRow(details.Rows, "Origin Testing", opts.Origin)
	details.Rows = appendRow(details.Rows, "Shape & Cutting", opts.Shape)
	details.Rows = appendRow(details.Rows, "Measurements", opts.Measurements)

	attributes := Section{Heading: "Diamond Attributes"}
	attributes.Rows = appendRow(attributes.Rows, "Carat", opts.Carat)
	attributes.Rows = append(attributes.Rows,
		Row{Label: "Color", Value: rec.Color},
		Row{Label: "Clarity", Value: rec.Clarity},
	)
	attributes.Rows = appendRow(attributes.Rows, "Fluorescence", opts.Fluorescence)
	attributes.Rows = append(attributes.Rows, Row{Label: "Cut", Value: rec.Cut})
	attributes.Rows = appendRow(attributes.Rows, "Polish", opts.Polish)
	attributes.Rows = appendRow(attributes.Rows, "Symmetry", opts.Symmetry)
	attributes.Rows = append(attributes.Rows, Row{Label: "Culet", Value: rec.CuletSize})

	ownership := Section{Heading: "Ownership Details"}
	owner := opts.Owner
	if owner != "" && !opts.OwnedSince.IsZero() {
		owner += " (as of " + opts.OwnedSince.Format("2-Jan-2006") + ")"
	}
	ownership.Rows = appendRow(ownership.Rows, "Owner", owner)
	for _, ref := range opts.References {
		ownership.Rows = appendRow(ownership.Rows, ref.Label, ref.Value)
	}

	identifiers := Section{
		Heading: "Identifiers",
		Rows: []Row{
			{Label: "Etched ID no.", Value: ids.Basic},
			{Label: "Triple ID", Value: ids.Triple},
		},
	}

	r.Sections = []Section{details, attributes}
	if len(ownership.Rows) > 0 {
		r.Sections = append(r.Sections, ownership)
	}
	r.Sections = append(r.Sections, identifiers)
	return r, nil
}

func appendRow(rows []Row, label, value string) []Row {
	if value == "" {
		return rows
	}
	return append(rows, Row{Label: label, Value: value})
}

var funcs = template.FuncMap{
	"upper": strings.ToUpper,
	"rule":  func(s string) string { return strings.Repeat("-", len(s)) },
	"pad": func(width int, s string) string {
		if len(s) >= width {
			return s
		}
		return s + strings.Repeat(" ", width-len(s))
	},
	"width": labelWidth,
	"date":  func(t time.Time) string { return t.Format("2-Jan-2006") },
}

var textTemplate = template.Must(template.New("report").Funcs(funcs).Parse(`{{.Title}}
No.: {{.Number}}
Issued: {{date .IssuedAt}}
View digital report at: {{.VerifyURL}}
{{- $w := width .}}
{{range .Sections}}
{{upper .Heading}}
{{rule .Heading}}
{{range .Rows}}{{pad $w .Label}}  {{.Value}}
{{end}}{{end}}
{{- if .Comments}}
COMMENTS
--------
{{range .Comments}}{{.}}
{{end}}{{end}}
{{.Disclaimer}}
`))

func labelWidth(r Report) int {
	w := 0
	for _, s := range r.Sections {
		for _, row := range s.Rows {
			if len(row.Label) > w {
				w = len(row.Label)
			}
		}
	}
	return w
}

// Render writes r as plain text.
func Render(w io.Writer, r Report) error {
	if err := textTemplate.Execute(w, r); err != nil {
		return errors.InternalError(fmt.Sprintf("rendering report %s", r.Number), err)
	}
	return nil
}
