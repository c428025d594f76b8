// Package dataset models converted VOC spreadsheet rows and loads them from
// the JSON files produced by the spreadsheet conversion step. A converted file
// is either a flat array of row objects (single-sheet conversion) or an object
// mapping sheet names to row arrays (all-sheets conversion); both shapes are
// accepted.
package dataset

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
)

// Row is one customer-reported device issue as converted from a spreadsheet.
// Column names follow the converter's cleaning rules (spaces become
// underscores), so the JSON keys carry underscores.
type Row struct {
	// IssueID is the tracking identifier (e.g. "BUG-12345").
	IssueID string `json:"Issue_ID"`
	// Summary is the one-line issue summary.
	Summary string `json:"Summary"`
	// Description is the free-text issue description.
	Description string `json:"Description"`
	// DeviceModel is the device the issue was reported on.
	DeviceModel string `json:"Device_Model"`
	// SoftwareVersion is the OS or firmware version.
	SoftwareVersion string `json:"Software_Version"`
	// Frequency is the reported occurrence frequency (e.g. "Often").
	Frequency string `json:"Frequency"`
	// Priority is the reporter-assigned priority (e.g. "High").
	Priority string `json:"Priority"`
}

// Text returns the canonical text for a row, used both for embedding and for
// content hashing. Field order is fixed so the same row always produces the
// same text.
func (r Row) Text() string {
	parts := make([]string, 0, 4)
	for _, p := range []string{r.Summary, r.Description, r.DeviceModel, r.SoftwareVersion} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, " ")
}

// Empty reports whether the row carries no classifiable content.
func (r Row) Empty() bool {
	return r.Summary == "" && r.Description == ""
}

// Load reads a converted spreadsheet JSON file and returns its rows.
// Multi-sheet files are flattened sheet by sheet in sorted sheet-name order
// so loading is deterministic.
func Load(path string) ([]Row, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("dataset: failed to read %s: %w", path, err)
	}
	rows, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("dataset: %s: %w", path, err)
	}
	return rows, nil
}

// Parse decodes converted spreadsheet JSON from a byte slice. It first tries
// the flat-array shape, then the sheet-map shape.
func Parse(data []byte) ([]Row, error) {
	var rows []Row
	if err := json.Unmarshal(data, &rows); err == nil {
		return rows, nil
	}

	var sheets map[string][]Row
	if err := json.Unmarshal(data, &sheets); err != nil {
		return nil, fmt.Errorf("neither a row array nor a sheet map: %w", err)
	}

	names := make([]string, 0, len(sheets))
	for name := range sheets {
		names = append(names, name)
	}
	sort.Strings(names)

	var all []Row
	for _, name := range names {
		all = append(all, sheets[name]...)
	}
	return all, nil
}
