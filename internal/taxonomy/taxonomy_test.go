package taxonomy

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/vocsight/vocsight-go/internal/vecstore"
)

type fakeEmbedder struct {
	calls [][]string
	err   error
}

func (f *fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	f.calls = append(f.calls, texts)
	if f.err != nil {
		return nil, f.err
	}
	vectors := make([][]float32, len(texts))
	for i := range texts {
		vectors[i] = []float32{float32(i), 1}
	}
	return vectors, nil
}

type storedLabel struct {
	text     string
	typ      vecstore.RecordType
	source   string
	metadata map[string]string
}

type fakeStore struct {
	stored []storedLabel
	err    error
}

func (f *fakeStore) Store(_ context.Context, text string, _ []float32, typ vecstore.RecordType, source string, metadata map[string]string) (int64, string, error) {
	if f.err != nil {
		return 0, "", f.err
	}
	f.stored = append(f.stored, storedLabel{text: text, typ: typ, source: source, metadata: metadata})
	return int64(len(f.stored)), fmt.Sprintf("hash-%d", len(f.stored)), nil
}

func writeDefinition(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "taxonomy.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write definition: %v", err)
	}
	return path
}

func TestNewSeeder_Validation(t *testing.T) {
	t.Parallel()

	if _, err := NewSeeder(nil, &fakeStore{}); err == nil {
		t.Fatal("expected error for nil embedder")
	}
	if _, err := NewSeeder(&fakeEmbedder{}, nil); err == nil {
		t.Fatal("expected error for nil store")
	}
	if _, err := NewSeeder(&fakeEmbedder{}, &fakeStore{}); err != nil {
		t.Fatalf("NewSeeder: %v", err)
	}
}

func TestLoad(t *testing.T) {
	t.Parallel()

	path := writeDefinition(t, `{
		"modules": {"Battery": ["Charging", "Drain"]},
		"issue_types": {"Hardware Failure": ["Overheating"]}
	}`)

	def, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := def.Modules["Battery"]; len(got) != 2 {
		t.Errorf("Modules[Battery] = %v, want 2 sub-modules", got)
	}
	if got := def.IssueTypes["Hardware Failure"]; len(got) != 1 {
		t.Errorf("IssueTypes[Hardware Failure] = %v, want 1 sub-issue type", got)
	}
}

func TestLoad_Errors(t *testing.T) {
	t.Parallel()

	if _, err := Load(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("expected error for missing file")
	}
	if _, err := Load(writeDefinition(t, "not json")); err == nil {
		t.Error("expected error for malformed JSON")
	}
	if _, err := Load(writeDefinition(t, `{"modules": {}, "issue_types": {}}`)); err == nil {
		t.Error("expected error for empty definition")
	}
}

func TestSeed(t *testing.T) {
	t.Parallel()

	def := &Definition{
		Modules: map[string][]string{
			"Battery": {"Charging"},
			"Display": {"Touchscreen", "Backlight"},
		},
		IssueTypes: map[string][]string{
			"Software Bug": {"Crash"},
		},
	}

	emb := &fakeEmbedder{}
	st := &fakeStore{}
	seeder, err := NewSeeder(emb, st)
	if err != nil {
		t.Fatalf("NewSeeder: %v", err)
	}

	n, err := seeder.Seed(context.Background(), def)
	if err != nil {
		t.Fatalf("Seed: %v", err)
	}
	if n != 7 {
		t.Errorf("Seed stored %d labels, want 7", n)
	}
	if len(emb.calls) != 1 {
		t.Errorf("embedder called %d times, want 1 batch", len(emb.calls))
	}

	// Modules sort before each other and parents come before children.
	wantOrder := []string{"Battery", "Charging", "Display", "Touchscreen", "Backlight", "Software Bug", "Crash"}
	if len(st.stored) != len(wantOrder) {
		t.Fatalf("stored %d labels, want %d", len(st.stored), len(wantOrder))
	}
	for i, want := range wantOrder {
		if st.stored[i].text != want {
			t.Errorf("stored[%d].text = %q, want %q", i, st.stored[i].text, want)
		}
		if st.stored[i].source != SourceSeed {
			t.Errorf("stored[%d].source = %q, want %q", i, st.stored[i].source, SourceSeed)
		}
	}

	if st.stored[0].typ != vecstore.TypeModule {
		t.Errorf("Battery stored as %q, want %q", st.stored[0].typ, vecstore.TypeModule)
	}
	if st.stored[1].typ != vecstore.TypeSubModule {
		t.Errorf("Charging stored as %q, want %q", st.stored[1].typ, vecstore.TypeSubModule)
	}
	if got := st.stored[1].metadata["module"]; got != "Battery" {
		t.Errorf("Charging metadata module = %q, want Battery", got)
	}
	if st.stored[5].typ != vecstore.TypeIssueType {
		t.Errorf("Software Bug stored as %q, want %q", st.stored[5].typ, vecstore.TypeIssueType)
	}
	if got := st.stored[6].metadata["sub_issue_type"]; got != "Crash" {
		t.Errorf("Crash metadata sub_issue_type = %q, want Crash", got)
	}
}

func TestSeed_EmbedError(t *testing.T) {
	t.Parallel()

	emb := &fakeEmbedder{err: fmt.Errorf("backend down")}
	seeder, err := NewSeeder(emb, &fakeStore{})
	if err != nil {
		t.Fatalf("NewSeeder: %v", err)
	}

	_, err = seeder.Seed(context.Background(), &Definition{
		Modules: map[string][]string{"Battery": nil},
	})
	if err == nil || !strings.Contains(err.Error(), "embed labels") {
		t.Errorf("Seed error = %v, want embed labels failure", err)
	}
}

func TestSeed_StoreError(t *testing.T) {
	t.Parallel()

	st := &fakeStore{err: fmt.Errorf("disk full")}
	seeder, err := NewSeeder(&fakeEmbedder{}, st)
	if err != nil {
		t.Fatalf("NewSeeder: %v", err)
	}

	_, err = seeder.Seed(context.Background(), &Definition{
		Modules: map[string][]string{"Battery": nil},
	})
	if err == nil || !strings.Contains(err.Error(), "store label") {
		t.Errorf("Seed error = %v, want store label failure", err)
	}
}
