// Package reference loads the vendor and meaning lists offered to reviewers.
//
// Lists come from a YAML file with top-level vendors and meanings keys, or a
// CSV file with vendor and meaning columns. Lookups are case-insensitive.
package reference

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/text/cases"
	"gopkg.in/yaml.v3"
)

// Lists holds the known vendors and barcode meanings.
type Lists struct {
	Vendors  []string `yaml:"vendors" json:"vendors"`
	Meanings []string `yaml:"meanings" json:"meanings"`

	vendorKeys  map[string]bool
	meaningKeys map[string]bool
}

// UnknownError reports values missing from the reference lists.
type UnknownError struct {
	Kind   string
	Values []string
}

func (e *UnknownError) Error() string {
	return fmt.Sprintf("unknown %s: %s", e.Kind, strings.Join(e.Values, ", "))
}

// key folds s for lookups. Casers are stateful, so one is made per call.
func key(s string) string { return cases.Fold().String(strings.TrimSpace(s)) }

// New builds lists from the given values, dropping blanks and duplicates.
func New(vendors, meanings []string) *Lists {
	l := &Lists{}
	l.Vendors, l.vendorKeys = dedupe(vendors)
	l.Meanings, l.meaningKeys = dedupe(meanings)
	return l
}

func dedupe(in []string) ([]string, map[string]bool) {
	out := make([]string, 0, len(in))
	keys := make(map[string]bool, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		k := key(v)
		if v == "" || keys[k] {
			continue
		}
		keys[k] = true
		out = append(out, v)
	}
	return out, keys
}

// Load reads lists from path. An empty path yields empty lists.
func Load(path string) (*Lists, error) {
	if path == "" {
		return New(nil, nil), nil
	}
	f, err := os.Open(path) //nolint:gosec // G304: path comes from configuration
	if err != nil {
		return nil, fmt.Errorf("opening reference file: %w", err)
	}
	defer func() { _ = f.Close() }()

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".csv":
		return ParseCSV(f)
	case ".yaml", ".yml", ".json":
		return ParseYAML(f)
	default:
		return nil, fmt.Errorf("unsupported reference file type %q", ext)
	}
}

// ParseYAML reads a document with vendors and meanings sequences.
func ParseYAML(r io.Reader) (*Lists, error) {
	var doc struct {
		Vendors  []string `yaml:"vendors"`
		Meanings []string `yaml:"meanings"`
	}
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parsing reference yaml: %w", err)
	}
	return New(doc.Vendors, doc.Meanings), nil
}

// ParseCSV reads a table whose header names a vendor and/or a meaning
// column. Cells may be empty; columns need not have equal length.
func ParseCSV(r io.Reader) (*Lists, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return New(nil, nil), nil
		}
		return nil, fmt.Errorf("parsing reference csv: %w", err)
	}
	vendorCol, meaningCol := -1, -1
	for i, h := range header {
		switch key(strings.TrimPrefix(h, "\ufeff")) {
		case "vendor", "vendors":
			vendorCol = i
		case "meaning", "meanings":
			meaningCol = i
		}
	}
	if vendorCol < 0 && meaningCol < 0 {
		return nil, errors.New("reference csv needs a vendor or meaning column")
	}

	var vendors, meanings []string
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parsing reference csv: %w", err)
		}
		if vendorCol >= 0 && vendorCol < len(rec) {
			vendors = append(vendors, rec[vendorCol])
		}
		if meaningCol >= 0 && meaningCol < len(rec) {
			meanings = append(meanings, rec[meaningCol])
		}
	}
	return New(vendors, meanings), nil
}

// HasVendor reports whether v is a known vendor.
func (l *Lists) HasVendor(v string) bool { return l.vendorKeys[key(v)] }

// HasMeaning reports whether m is a known meaning.
func (l *Lists) HasMeaning(m string) bool { return l.meaningKeys[key(m)] }

// Check returns an *UnknownError for a vendor or a non-empty meaning that
// is not listed. An empty vendor list accepts every vendor, and likewise
// for meanings.
func (l *Lists) Check(vendor string, meanings []string) error {
	if len(l.Vendors) > 0 && !l.HasVendor(vendor) {
		return &UnknownError{Kind: "vendor", Values: []string{vendor}}
	}
	if len(l.Meanings) == 0 {
		return nil
	}
	var unknown []string
	for _, m := range meanings {
		if strings.TrimSpace(m) != "" && !l.HasMeaning(m) {
			unknown = append(unknown, m)
		}
	}
	if len(unknown) > 0 {
		return &UnknownError{Kind: "meaning", Values: unknown}
	}
	return nil
}
