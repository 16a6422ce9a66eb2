package extract

import (
	"fmt"
	"strings"

	"github.com/lu4p/cat"
)

// extractLegacy handles ODT and RTF through lu4p/cat, which sniffs the format from content.
func extractLegacy(content []byte) (string, error) {
	text, err := cat.FromBytes(content)
	if err != nil {
		return "", fmt.Errorf("extract document: %w", err)
	}
	return strings.TrimSpace(text), nil
}
