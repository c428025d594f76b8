package dataset

import (
	"os"
	"path/filepath"
	"testing"
)

const flatRows = `[
  {
    "Issue_ID": "BUG-12345",
    "Summary": "Camera app crashes when taking photos",
    "Device_Model": "Galaxy S21",
    "Software_Version": "Android 12",
    "Frequency": "Often",
    "Description": "App crashes consistently during nighttime photography",
    "Priority": "High"
  },
  {
    "Issue_ID": "BUG-12346",
    "Summary": "Battery drains overnight",
    "Device_Model": "Galaxy S22",
    "Priority": "Medium"
  }
]`

const sheetRows = `{
  "Sheet2": [{"Issue_ID": "B-2", "Summary": "two"}],
  "Sheet1": [{"Issue_ID": "B-1", "Summary": "one"}]
}`

func TestParseFlatArray(t *testing.T) {
	t.Parallel()

	rows, err := Parse([]byte(flatRows))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("Parse() rows = %d, want 2", len(rows))
	}
	if rows[0].IssueID != "BUG-12345" {
		t.Errorf("rows[0].IssueID = %q, want BUG-12345", rows[0].IssueID)
	}
	if rows[1].Description != "" {
		t.Errorf("rows[1].Description = %q, want empty", rows[1].Description)
	}
}

func TestParseSheetMapSortedOrder(t *testing.T) {
	t.Parallel()

	rows, err := Parse([]byte(sheetRows))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("Parse() rows = %d, want 2", len(rows))
	}
	// Sheets flatten in sorted name order regardless of file order.
	if rows[0].IssueID != "B-1" || rows[1].IssueID != "B-2" {
		t.Errorf("Parse() order = [%s, %s], want [B-1, B-2]", rows[0].IssueID, rows[1].IssueID)
	}
}

func TestParseInvalid(t *testing.T) {
	t.Parallel()

	if _, err := Parse([]byte(`"just a string"`)); err == nil {
		t.Error("Parse() expected error for non-row JSON, got nil")
	}
}

func TestRowText(t *testing.T) {
	t.Parallel()

	r := Row{
		Summary:         "Camera crashes",
		Description:     "During night shots",
		DeviceModel:     "Galaxy S21",
		SoftwareVersion: "Android 12",
	}
	want := "Camera crashes During night shots Galaxy S21 Android 12"
	if got := r.Text(); got != want {
		t.Errorf("Text() = %q, want %q", got, want)
	}

	// Empty fields are omitted, not left as double spaces.
	r2 := Row{Summary: "Camera crashes", DeviceModel: "Galaxy S21"}
	if got := r2.Text(); got != "Camera crashes Galaxy S21" {
		t.Errorf("Text() = %q, want %q", got, "Camera crashes Galaxy S21")
	}
}

func TestRowEmpty(t *testing.T) {
	t.Parallel()

	if !(Row{DeviceModel: "X"}).Empty() {
		t.Error("Empty() = false for row without summary or description")
	}
	if (Row{Summary: "s"}).Empty() {
		t.Error("Empty() = true for row with summary")
	}
}

func TestLoad(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "issues.json")
	if err := os.WriteFile(path, []byte(flatRows), 0o644); err != nil {
		t.Fatal(err)
	}

	rows, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(rows) != 2 {
		t.Errorf("Load() rows = %d, want 2", len(rows))
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}
