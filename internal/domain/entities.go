package domain

import (
	"strings"
	"time"
)

// Grant is a single funding opportunity as delivered by ingestion.
// Field names on the wire match the upstream export exactly.
type Grant struct {
	ID             string `json:"OPPORTUNITY_ID" yaml:"OPPORTUNITY_ID"`
	Title          string `json:"OPPORTUNITY_TITLE" yaml:"OPPORTUNITY_TITLE"`
	Agency         string `json:"AGENCY_NAME" yaml:"AGENCY_NAME"`
	Description    string `json:"FUNDING_DESCRIPTION" yaml:"FUNDING_DESCRIPTION"`
	Category       string `json:"OPPORTUNITY_CATEGORY" yaml:"OPPORTUNITY_CATEGORY"`
	InstrumentType string `json:"FUNDING_INSTRUMENT_TYPE" yaml:"FUNDING_INSTRUMENT_TYPE"`
	PostedDate     string `json:"POSTED_DATE" yaml:"POSTED_DATE"`
	CloseDate      string `json:"CLOSE_DATE" yaml:"CLOSE_DATE"`
	AwardCeiling   string `json:"AWARD_CEILING" yaml:"AWARD_CEILING"`
}

// Normalized returns a copy with surrounding whitespace removed from every field.
func (g Grant) Normalized() Grant {
	return Grant{
		ID:             strings.TrimSpace(g.ID),
		Title:          strings.TrimSpace(g.Title),
		Agency:         strings.TrimSpace(g.Agency),
		Description:    strings.TrimSpace(g.Description),
		Category:       strings.TrimSpace(g.Category),
		InstrumentType: strings.TrimSpace(g.InstrumentType),
		PostedDate:     strings.TrimSpace(g.PostedDate),
		CloseDate:      strings.TrimSpace(g.CloseDate),
		AwardCeiling:   strings.TrimSpace(g.AwardCeiling),
	}
}

// SearchResult is one ranked hit. Similarity is always in [0, 1].
type SearchResult struct {
	ID           string  `json:"id"`
	Title        string  `json:"title"`
	Agency       string  `json:"agency"`
	Category     string  `json:"category,omitempty"`
	CloseDate    string  `json:"close_date,omitempty"`
	AwardCeiling string  `json:"award_ceiling,omitempty"`
	Similarity   float64 `json:"similarity_score"`
}

// ResultFromGrant builds the display fields of a result.
func ResultFromGrant(g Grant, similarity float64) SearchResult {
	return SearchResult{
		ID:           g.ID,
		Title:        g.Title,
		Agency:       g.Agency,
		Category:     g.Category,
		CloseDate:    g.CloseDate,
		AwardCeiling: g.AwardCeiling,
		Similarity:   similarity,
	}
}

// Stats describes the current state of the vector store.
type Stats struct {
	TotalIndexed  int       `json:"total_indexed"`
	Dimension     int       `json:"embedding_dimension"`
	Model         string    `json:"embedding_model"`
	Backend       string    `json:"backend"`
	Metric        string    `json:"metric"`
	LastIndexedAt time.Time `json:"last_indexed_at,omitempty"`
	IndexCalls    int64     `json:"index_calls"`
	FailedIndexes int64     `json:"failed_index_calls"`
	Searches      int64     `json:"searches"`
}

// Map flattens the stats for observability surfaces.
func (s Stats) Map() map[string]any {
	m := map[string]any{
		"total_indexed":       s.TotalIndexed,
		"embedding_dimension": s.Dimension,
		"embedding_model":     s.Model,
		"backend":             s.Backend,
		"metric":              s.Metric,
		"index_calls":         s.IndexCalls,
		"failed_index_calls":  s.FailedIndexes,
		"searches":            s.Searches,
	}
	if !s.LastIndexedAt.IsZero() {
		m["last_indexed_at"] = s.LastIndexedAt.Format(time.RFC3339)
	}
	return m
}
