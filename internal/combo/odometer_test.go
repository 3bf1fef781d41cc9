package combo

import (
	"reflect"
	"testing"

	"github.com/gradia/stoneid/internal/pkg/errors"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name     string
		alphabet string
		wantErr  bool
	}{
		{"hex", DefaultAlphabet, false},
		{"binary", "01", false},
		{"single", "x", false},
		{"empty", "", true},
		{"repeated", "0123456789abcdefABCDEF0", true},
		{"non ascii", "abç", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.alphabet)
			if (err != nil) != tt.wantErr {
				t.Fatalf("New(%q) error = %v, wantErr %v", tt.alphabet, err, tt.wantErr)
			}
			if err != nil && !errors.IsInvalidInput(err) {
				t.Errorf("New(%q) error = %v, want INVALID_INPUT", tt.alphabet, err)
			}
		})
	}
}

func TestOdometer_Next(t *testing.T) {
	o := Default()

	tests := []struct {
		current string
		want    string
		wantOK  bool
	}{
		{"0000", "0001", true},
		{"0009", "000a", true},
		{"000f", "0010", true},
		{"0fff", "1000", true},
		{"abcd", "abce", true},
		{"ffff", "0000", false},
		{"f", "0", false},
	}

	for _, tt := range tests {
		t.Run(tt.current, func(t *testing.T) {
			got, ok, err := o.Next(tt.current)
			if err != nil {
				t.Fatalf("Next(%q) error = %v", tt.current, err)
			}
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("Next(%q) = %q, %v; want %q, %v", tt.current, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestOdometer_NextInvalid(t *testing.T) {
	o := Default()
	for _, s := range []string{"", "00G0", "ABCD", "é"} {
		if _, _, err := o.Next(s); !errors.IsInvalidInput(err) {
			t.Errorf("Next(%q) error = %v, want INVALID_INPUT", s, err)
		}
	}
}

func TestOdometer_Generate(t *testing.T) {
	o, err := New("ab")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	got, err := o.Generate(2, 10)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	want := []string{"aa", "ab", "ba", "bb"}
	if len(got) != len(want) {
		t.Fatalf("Generate() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Generate()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestOdometer_GenerateLexicographic(t *testing.T) {
	o := Default()
	got, err := o.Generate(3, 1000)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if len(got) != 1000 {
		t.Fatalf("len = %d, want 1000", len(got))
	}
	if got[0] != "000" {
		t.Errorf("first = %q, want 000", got[0])
	}
	for i := 1; i < len(got); i++ {
		if got[i-1] >= got[i] {
			t.Fatalf("not strictly increasing at %d: %q >= %q", i, got[i-1], got[i])
		}
	}
}

func TestOdometer_GenerateInvalid(t *testing.T) {
	o := Default()
	if _, err := o.Generate(0, 5); !errors.IsInvalidInput(err) {
		t.Errorf("Generate(0, 5) error = %v, want INVALID_INPUT", err)
	}
	if _, err := o.Generate(4, -1); !errors.IsInvalidInput(err) {
		t.Errorf("Generate(4, -1) error = %v, want INVALID_INPUT", err)
	}
	got, err := o.Generate(4, 0)
	if err != nil || len(got) != 0 {
		t.Errorf("Generate(4, 0) = %v, %v; want empty", got, err)
	}
}

func TestOdometer_FirstLast(t *testing.T) {
	o := Default()
	if got := o.First(4); got != "0000" {
		t.Errorf("First(4) = %q, want 0000", got)
	}
	if got := o.Last(4); got != "ffff" {
		t.Errorf("Last(4) = %q, want ffff", got)
	}
}

func TestOdometer_Count(t *testing.T) {
	o := Default()

	tests := []struct {
		length int
		want   uint64
		wantOK bool
	}{
		{0, 1, true},
		{1, 16, true},
		{4, 65536, true},
		{8, 1 << 32, true},
		{15, 1 << 60, true},
		{16, 0, false},
	}

	for _, tt := range tests {
		got, ok := o.Count(tt.length)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("Count(%d) = %d, %v; want %d, %v", tt.length, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestOdometer_From(t *testing.T) {
	o, err := New("ab")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	tests := []struct {
		start string
		count int
		want  []string
	}{
		{"aab", 3, []string{"aab", "aba", "abb"}},
		{"bb", 5, []string{"bb"}},
		{"ba", 0, []string{}},
	}

	for _, tt := range tests {
		got, err := o.From(tt.start, tt.count)
		if err != nil {
			t.Fatalf("From(%s, %d) error = %v", tt.start, tt.count, err)
		}
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("From(%s, %d) = %v, want %v", tt.start, tt.count, got, tt.want)
		}
	}

	if _, err := o.From("abc", 1); !errors.IsInvalidInput(err) {
		t.Errorf("From(abc) error = %v, want INVALID_INPUT", err)
	}
	if _, err := o.From("ab", -1); !errors.IsInvalidInput(err) {
		t.Errorf("From(ab, -1) error = %v, want INVALID_INPUT", err)
	}
}
