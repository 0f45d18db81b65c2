package trace

// CollectPattern controls which records a wait accumulates into its
// results list.
type CollectPattern int

const (
	// Matching collects one result per required-pattern match.
	Matching CollectPattern = iota
	// All collects every record observed during the wait, matching or not.
	All
	// LastOnly retains only the most recently matching record.
	LastOnly
)

// ResponseFormat controls what a result entry carries.
type ResponseFormat int

const (
	// Raw entries carry just the matching record.
	Raw ResponseFormat = iota
	// Processed entries carry the full MatchResult: named captures, the
	// originating pattern, and (for event waits) the event tag.
	Processed
)
