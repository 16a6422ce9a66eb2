package extract

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

const (
	// docxDocumentXMLPath is the default path to the main document body inside a .docx zip.
	docxDocumentXMLPath = "word/document.xml"
	// contentTypesPath is the path to [Content_Types].xml in OOXML packages.
	contentTypesPath    = "[Content_Types].xml"
	docxMainContentType = "application/vnd.openxmlformats-officedocument.wordprocessingml.document.main+xml"
)

var (
	// wParagraph matches one <w:p> paragraph; <w:pPr> and friends are excluded by the attribute guard.
	wParagraph = regexp.MustCompile(`(?s)<w:p(?:\s[^>]*[^/>])?>(.*?)</w:p>`)
	wtTag      = regexp.MustCompile(`<w:t(?:\s[^>]*)?>([^<]*)</w:t>`)
	wTab       = regexp.MustCompile(`<w:tab/>`)

	aParagraph = regexp.MustCompile(`(?s)<a:p(?:\s[^>]*[^/>])?>(.*?)</a:p>`)
	atTag      = regexp.MustCompile(`<a:t(?:\s[^>]*)?>([^<]*)</a:t>`)
	slideName  = regexp.MustCompile(`^ppt/slides/slide(\d+)\.xml$`)

	// Both attribute orders appear in the wild.
	partNameRe  = regexp.MustCompile(`<Override[^>]+PartName="([^"]+)"[^>]+ContentType="` + regexp.QuoteMeta(docxMainContentType) + `"`)
	partNameRe2 = regexp.MustCompile(`<Override[^>]+ContentType="` + regexp.QuoteMeta(docxMainContentType) + `"[^>]+PartName="([^"]+)"`)
)

// findDocxMainDocumentPath returns the main document part named by [Content_Types].xml,
// or "" when it is not declared.
func findDocxMainDocumentPath(types []byte) string {
	content := string(types)
	if m := partNameRe.FindStringSubmatch(content); len(m) > 1 {
		return strings.TrimPrefix(m[1], "/")
	}
	if m := partNameRe2.FindStringSubmatch(content); len(m) > 1 {
		return strings.TrimPrefix(m[1], "/")
	}
	return ""
}

// extractDOCX returns one line per non-empty paragraph, paragraphs separated by a blank line.
// Runs inside a paragraph are concatenated without separators since Word splits words across runs.
func extractDOCX(content []byte) (string, error) {
	zr, err := openZip(content, "DOCX")
	if err != nil {
		return "", err
	}
	types, err := readZipEntry(zr, contentTypesPath)
	if err != nil {
		return "", fmt.Errorf("extract DOCX: %w", err)
	}
	docPath := findDocxMainDocumentPath(types)
	if docPath == "" {
		docPath = docxDocumentXMLPath
	}
	docXML, err := readZipEntry(zr, docPath)
	if err != nil {
		return "", fmt.Errorf("extract DOCX: %w", err)
	}
	if docXML == nil {
		return "", fmt.Errorf("extract DOCX: %s not found", docPath)
	}
	paragraphs := paragraphTexts(string(docXML), wParagraph, wtTag, func(s string) string {
		return wTab.ReplaceAllString(s, "<w:t>\t</w:t>")
	})
	return strings.Join(paragraphs, "\n\n"), nil
}

// extractPPTX returns slides in slide-number order, paragraphs of a slide on separate lines
// and slides separated by a blank line.
func extractPPTX(content []byte) (string, error) {
	zr, err := openZip(content, "PPTX")
	if err != nil {
		return "", err
	}
	type slide struct {
		n    int
		name string
	}
	var slides []slide
	for _, f := range zr.File {
		m := slideName.FindStringSubmatch(f.Name)
		if m == nil {
			continue
		}
		n, _ := strconv.Atoi(m[1])
		slides = append(slides, slide{n: n, name: f.Name})
	}
	sort.Slice(slides, func(i, j int) bool { return slides[i].n < slides[j].n })

	blocks := make([]string, 0, len(slides))
	for _, s := range slides {
		data, err := readZipEntry(zr, s.name)
		if err != nil {
			return "", fmt.Errorf("extract PPTX: %w", err)
		}
		paragraphs := paragraphTexts(string(data), aParagraph, atTag, nil)
		if len(paragraphs) > 0 {
			blocks = append(blocks, strings.Join(paragraphs, "\n"))
		}
	}
	return strings.Join(blocks, "\n\n"), nil
}

// paragraphTexts collects the run text of each paragraph matched by para. prepare, when
// set, rewrites the paragraph body before run text is collected.
func paragraphTexts(xml string, para, run *regexp.Regexp, prepare func(string) string) []string {
	var out []string
	for _, p := range para.FindAllStringSubmatch(xml, -1) {
		body := p[1]
		if prepare != nil {
			body = prepare(body)
		}
		var b strings.Builder
		for _, r := range run.FindAllStringSubmatch(body, -1) {
			b.WriteString(r[1])
		}
		if text := strings.TrimSpace(xmlText(b.String())); text != "" {
			out = append(out, text)
		}
	}
	return out
}
