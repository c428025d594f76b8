// Package governance centralises the similarity thresholds that gate every
// reuse, clustering, and merge decision in the pipeline. Components never
// hard-code a similarity cutoff: they ask the active ThresholdProfile, which
// is selected once at startup from the processing mode and never mutated
// afterwards. A long-running batch therefore cannot have its decision
// boundaries shift partway through.
package governance

import (
	"fmt"
	"sort"
)

// ProcessingMode selects which threshold profile is active for the process.
type ProcessingMode string

const (
	// ModeDiscovery favours sample diversity: strict row reuse, loose label
	// clustering, conservative merging.
	ModeDiscovery ProcessingMode = "discovery"
	// ModeRestricted enforces a canonical taxonomy: looser row reuse,
	// tight clustering, aggressive merging.
	ModeRestricted ProcessingMode = "restricted"
	// ModeHybrid runs with the base thresholds unmodified.
	ModeHybrid ProcessingMode = "hybrid"
)

// Operation names a thresholded decision point in the pipeline.
type Operation string

const (
	// OpReuseRow gates both row-level duplicate filtering and prior-result
	// short-circuiting in the chunk engine.
	OpReuseRow Operation = "REUSE_ROW"
	// OpRowCluster gates grouping of raw rows into candidate clusters.
	OpRowCluster Operation = "ROW_CLUSTER"
	// OpClusterLabel gates attaching a taxonomy label to a row cluster.
	OpClusterLabel Operation = "CLUSTER_LABEL"
	// OpMergeLabel gates collapsing two taxonomy labels into one.
	OpMergeLabel Operation = "MERGE_LABEL"
	// OpReviewRequired marks matches confident enough to act on but weak
	// enough to flag for human review.
	OpReviewRequired Operation = "REVIEW_REQUIRED"
	// OpSemanticRelated gates "related issue" retrieval results.
	OpSemanticRelated Operation = "SEMANTIC_RELATED"
	// OpCacheSimilarity gates serving a cached answer for a near-identical query.
	OpCacheSimilarity Operation = "CACHE_SIMILARITY"
	// OpPrefetchThreshold gates speculative prefetch of likely-needed records.
	OpPrefetchThreshold Operation = "PREFETCH_THRESHOLD"
)

// ErrUnknownOperation is returned (wrapped) when a threshold is requested for
// an operation name this package does not define. Misuse fails fast rather
// than silently defaulting.
var ErrUnknownOperation = fmt.Errorf("governance: unknown operation")

// baseThresholds is the profile used by hybrid and any unrecognised mode.
var baseThresholds = map[Operation]float64{
	OpReuseRow:          0.95,
	OpRowCluster:        0.85,
	OpClusterLabel:      0.85,
	OpMergeLabel:        0.85,
	OpReviewRequired:    0.75,
	OpSemanticRelated:   0.70,
	OpCacheSimilarity:   0.92,
	OpPrefetchThreshold: 0.80,
}

// modeOverrides holds the per-mode deviations from the base profile.
// Discovery keeps more distinct samples (strict reuse) while surfacing more
// candidate taxonomy groups (loose clustering); restricted trusts the
// canonical taxonomy and normalises aggressively.
var modeOverrides = map[ProcessingMode]map[Operation]float64{
	ModeDiscovery: {
		OpReuseRow:     0.97,
		OpClusterLabel: 0.80,
		OpMergeLabel:   0.90,
	},
	ModeRestricted: {
		OpReuseRow:     0.93,
		OpClusterLabel: 0.90,
		OpMergeLabel:   0.75,
	},
}

// ThresholdProfile is an immutable mapping of operations to similarity
// thresholds in [0,1]. Exactly one profile is active per process.
type ThresholdProfile struct {
	// mode is the processing mode this profile was built for.
	mode ProcessingMode
	// thresholds is the resolved operation table. Never mutated after New.
	thresholds map[Operation]float64
}

// NewProfile resolves the threshold profile for the given mode. Modes other
// than discovery and restricted (including hybrid) use the base thresholds
// unmodified. There is deliberately no API to change a profile afterwards.
func NewProfile(mode ProcessingMode) *ThresholdProfile {
	resolved := make(map[Operation]float64, len(baseThresholds))
	for op, v := range baseThresholds {
		resolved[op] = v
	}
	for op, v := range modeOverrides[mode] {
		resolved[op] = v
	}
	return &ThresholdProfile{mode: mode, thresholds: resolved}
}

// Mode returns the processing mode this profile was resolved for.
func (p *ThresholdProfile) Mode() ProcessingMode {
	return p.mode
}

// Threshold returns the similarity threshold for the named operation.
// Unknown operations return a wrapped ErrUnknownOperation.
func (p *ThresholdProfile) Threshold(op Operation) (float64, error) {
	v, ok := p.thresholds[op]
	if !ok {
		return 0, fmt.Errorf("%w: %q (valid: %v)", ErrUnknownOperation, op, p.operationNames())
	}
	return v, nil
}

// Validate reports whether value meets or exceeds the threshold for op.
func (p *ThresholdProfile) Validate(op Operation, value float64) (bool, error) {
	t, err := p.Threshold(op)
	if err != nil {
		return false, err
	}
	return value >= t, nil
}

// operationNames returns the sorted operation names, for error messages.
func (p *ThresholdProfile) operationNames() []string {
	names := make([]string, 0, len(p.thresholds))
	for op := range p.thresholds {
		names = append(names, string(op))
	}
	sort.Strings(names)
	return names
}
