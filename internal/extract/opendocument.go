package extract

import (
	"fmt"
	"regexp"
	"strings"
)

// odfContentPath is the path to the main content inside OpenDocument packages.
const odfContentPath = "content.xml"

var (
	// odfBlock matches text:p and text:h elements in document order; self-closing
	// elements are excluded by the attribute guard.
	odfBlock = regexp.MustCompile(`(?s)<text:(p|h)(\s[^>]*[^/>])?>(.*?)</text:(?:p|h)>`)
	odfRow   = regexp.MustCompile(`(?s)<table:table-row(?:\s[^>]*[^/>])?>(.*?)</table:table-row>`)
	odfCell  = regexp.MustCompile(`(?s)<table:table-cell(?:\s[^>]*[^/>])?>(.*?)</table:table-cell>`)
	odfSpace = regexp.MustCompile(`<text:(?:s|tab)(?:\s[^>]*)?/>`)
)

func readODFContent(content []byte, kind string) (string, error) {
	zr, err := openZip(content, kind)
	if err != nil {
		return "", err
	}
	data, err := readZipEntry(zr, odfContentPath)
	if err != nil {
		return "", fmt.Errorf("extract %s: %w", kind, err)
	}
	if data == nil {
		return "", fmt.Errorf("extract %s: %s not found", kind, odfContentPath)
	}
	return odfSpace.ReplaceAllString(string(data), " "), nil
}

// extractODP returns headings and paragraphs of a presentation in document order, one per line.
func extractODP(content []byte) (string, error) {
	xml, err := readODFContent(content, "ODP")
	if err != nil {
		return "", err
	}
	return strings.Join(odfBlocks(xml), "\n"), nil
}

// extractODS returns spreadsheet rows with cells separated by tabs.
func extractODS(content []byte) (string, error) {
	xml, err := readODFContent(content, "ODS")
	if err != nil {
		return "", err
	}
	var lines []string
	for _, row := range odfRow.FindAllStringSubmatch(xml, -1) {
		var cells []string
		for _, cell := range odfCell.FindAllStringSubmatch(row[1], -1) {
			if text := xmlText(cell[1]); text != "" {
				cells = append(cells, text)
			}
		}
		if len(cells) > 0 {
			lines = append(lines, strings.Join(cells, "\t"))
		}
	}
	return strings.Join(lines, "\n"), nil
}

func odfBlocks(xml string) []string {
	var out []string
	for _, m := range odfBlock.FindAllStringSubmatch(xml, -1) {
		if text := xmlText(m[3]); text != "" {
			out = append(out, text)
		}
	}
	return out
}
