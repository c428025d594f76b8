// Package vecstore provides the durable embedding store backing the
// similarity engine. Records are keyed by a deterministic content hash of
// their normalised text, making every write an idempotent upsert, and
// similarity search is an exact linear scan over the stored vectors — there
// is no approximate index. At the data volumes involved (tens of thousands
// of VOC rows) the scan is fast enough; callers needing lower latency must
// pre-filter by record type.
package vecstore

import (
	"crypto/sha256"
	"fmt"
	"strings"
	"time"
)

// RecordType is the closed enumeration of embedding record kinds.
// Writes with any other value are rejected outright.
type RecordType string

const (
	// TypeRow is an embedded spreadsheet row (input or classified result).
	TypeRow RecordType = "row"
	// TypeModule is an embedded top-level taxonomy module label.
	TypeModule RecordType = "module"
	// TypeSubModule is an embedded second-level taxonomy label.
	TypeSubModule RecordType = "sub_module"
	// TypeIssueType is an embedded issue-type taxonomy label.
	TypeIssueType RecordType = "issue_type"
	// TypeSubIssueType is an embedded sub-issue-type taxonomy label.
	TypeSubIssueType RecordType = "sub_issue_type"
)

// validTypes is the set of accepted record types.
var validTypes = map[RecordType]bool{
	TypeRow:          true,
	TypeModule:       true,
	TypeSubModule:    true,
	TypeIssueType:    true,
	TypeSubIssueType: true,
}

// Well-known source labels. Source is free text, but the processing pipeline
// writes exactly these two so dedup and reuse can tell inputs from outputs.
const (
	// SourceInput marks an embedded raw spreadsheet row.
	SourceInput = "voc_input"
	// SourceResult marks an embedded classification result.
	SourceResult = "voc_result"
)

// ErrInvalidType is returned (wrapped) when a write names a record type
// outside the closed enumeration. Nothing is stored.
var ErrInvalidType = fmt.Errorf("vecstore: invalid record type")

// ValidType reports whether t is a member of the closed type enumeration.
func ValidType(t RecordType) bool {
	return validTypes[t]
}

// Record is a stored embedding with its provenance and metadata.
type Record struct {
	// ID is the store-assigned row identifier.
	ID int64
	// Hash is the deterministic content hash of the normalised text.
	// Unique across the store; the dedup key.
	Hash string
	// Text is the original (un-normalised) text that was embedded.
	Text string
	// Vector is the fixed-length embedding produced by the external model.
	Vector []float32
	// Type is the record kind, one of the closed enumeration.
	Type RecordType
	// Source is a free-text origin label (e.g. "voc_input", "voc_result").
	Source string
	// CreatedAt is when the record was first stored.
	CreatedAt time.Time
	// Metadata holds structured context. Always includes "mode",
	// "processor", and "prompt_version" merged with caller-supplied fields.
	Metadata map[string]string
}

// Match pairs a stored record with its raw cosine similarity to a query
// vector. It is the unit returned by FindSimilar; the retriever layers its
// biased and re-ranked scores on top.
type Match struct {
	// Record is the stored embedding that matched.
	Record *Record
	// Similarity is the raw cosine similarity to the query vector.
	Similarity float64
}

// Identity is the write-time context stamped into every record's metadata.
type Identity struct {
	// Mode is the processing mode active for this process.
	Mode string
	// Processor names the component writing embeddings.
	Processor string
	// PromptVersion is the classification prompt revision in use.
	PromptVersion string
}

// Stats summarises store contents for observability.
type Stats struct {
	// Total is the number of stored records.
	Total int
	// ByType counts records per record type.
	ByType map[RecordType]int
	// BySource counts records per source label.
	BySource map[string]int
	// Oldest is the earliest record timestamp (zero when empty).
	Oldest time.Time
	// Newest is the latest record timestamp (zero when empty).
	Newest time.Time
}

// Normalize canonicalises text for hashing: trims, lowercases, and collapses
// runs of whitespace to single spaces. Two texts that normalise identically
// share a content hash and therefore a storage slot.
func Normalize(text string) string {
	return strings.Join(strings.Fields(strings.ToLower(text)), " ")
}

// HashText returns the hex-encoded SHA-256 of the normalised text. Stable
// across calls and processes; this is the store's dedup key.
func HashText(text string) string {
	sum := sha256.Sum256([]byte(Normalize(text)))
	return fmt.Sprintf("%x", sum)
}
