package retrieval

import (
	"strings"

	"github.com/vocsight/vocsight-go/internal/vecstore"
)

// maxHintConfidence caps the heuristic's self-assessed strength. Hints are
// advisory input to bias and filter configuration, never a unilateral
// decision, so confidence never reaches certainty.
const maxHintConfidence = 0.8

// typeKeywords maps query keywords to the record type they suggest.
var typeKeywords = map[string]vecstore.RecordType{
	"crash":    vecstore.TypeRow,
	"error":    vecstore.TypeRow,
	"bug":      vecstore.TypeRow,
	"issue":    vecstore.TypeRow,
	"freeze":   vecstore.TypeRow,
	"module":   vecstore.TypeModule,
	"taxonomy": vecstore.TypeModule,
	"category": vecstore.TypeModule,
	"label":    vecstore.TypeModule,
}

// sourceExtensions maps file extensions seen in a query to a source label.
var sourceExtensions = map[string]string{
	".xlsx": "voc_input",
	".xls":  "voc_input",
	".csv":  "voc_input",
	".json": "voc_input",
}

// DetectQueryHints scans the query for keywords and file extensions and
// returns an advisory type/source suggestion. Confidence grows with each
// matching signal and is capped at 0.8.
func DetectQueryHints(query string) QueryHints {
	lower := strings.ToLower(query)
	var hints QueryHints

	for keyword, typ := range typeKeywords {
		if strings.Contains(lower, keyword) {
			if hints.SuggestedType == "" || typ == vecstore.TypeRow {
				hints.SuggestedType = typ
			}
			hints.Confidence += 0.3
		}
	}
	for ext, source := range sourceExtensions {
		if strings.Contains(lower, ext) {
			hints.SuggestedSource = source
			hints.Confidence += 0.4
		}
	}

	if hints.Confidence > maxHintConfidence {
		hints.Confidence = maxHintConfidence
	}
	return hints
}
