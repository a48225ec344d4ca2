package vectorstore

import (
	"strings"

	"grantwatch/internal/domain"
)

// embeddingText concatenates title, agency, description and category in that
// order. Empty fields are skipped so identical records always produce identical text.
func embeddingText(g domain.Grant) string {
	parts := make([]string, 0, 4)
	for _, field := range []string{g.Title, g.Agency, g.Description, g.Category} {
		if field != "" {
			parts = append(parts, field)
		}
	}
	return strings.Join(parts, ". ")
}

// rejectReason returns why g cannot be indexed, or "" when it can.
func rejectReason(g domain.Grant, text string) string {
	switch {
	case g.ID == "":
		return "missing OPPORTUNITY_ID"
	case g.Description == "":
		return "missing FUNDING_DESCRIPTION"
	case text == "":
		return "empty embedding text"
	default:
		return ""
	}
}
