package models

// SearchHit is one retrieved chunk with its similarity score.
type SearchHit struct {
	Chunk         *Chunk  `json:"chunk"`
	Score         float64 `json:"score"`
	SemanticScore float64 `json:"semantic_score"`
	KeywordScore  float64 `json:"keyword_score,omitempty"`
	Rank          int     `json:"rank"`
}

// SearchResponse is the response for a document search request.
type SearchResponse struct {
	Query     string       `json:"query"`
	Hits      []*SearchHit `json:"hits"`
	Total     int          `json:"total"`
	Mode      string       `json:"mode"`
	QueryTime int64        `json:"query_time_ms"`
}

// WebResult is one web search hit.
type WebResult struct {
	Title   string  `json:"title"`
	URL     string  `json:"url"`
	Snippet string  `json:"snippet"`
	Score   float64 `json:"score,omitempty"`
}
