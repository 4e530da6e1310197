package types

// AnalyzedItem records one piece of external content that has been analyzed
// for one entity. The (ItemID, Entity) pair is unique; re-recording the same
// pair overwrites the previous row, which makes the analysis step idempotent
// across repeated runs.
type AnalyzedItem struct {
	ItemID       string `json:"item_id"`
	Entity       string `json:"entity"`
	Title        string `json:"title"`
	SourceName   string `json:"source_name"`
	PublishedAt  string `json:"published_at"`
	AnalyzedAt   string `json:"analyzed_at"`
	Relevant     bool   `json:"relevant"`
	DeepAnalyzed bool   `json:"deep_analyzed"`
}
