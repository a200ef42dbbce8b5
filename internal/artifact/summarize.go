package artifact

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/jshapiro/conveyor/pkg/models"
)

const (
	// maxDigestLen bounds a summary digest.
	maxDigestLen = 240
	// maxKeyPoints bounds the number of extracted highlights.
	maxKeyPoints = 10
	// maxKeyPointLen bounds one highlight.
	maxKeyPointLen = 120
)

// Summarize classifies content and produces a type-specific digest plus up
// to ten key points. Called once at store time; summaries are never
// recomputed on read.
func Summarize(artifactID string, data []byte, encoding string) *models.ArtifactSummary {
	if encoding == EncodingRaw && !utf8.Valid(data) {
		return &models.ArtifactSummary{
			ArtifactID: artifactID,
			Kind:       models.ContentKindUnknown,
			Digest:     fmt.Sprintf("binary content, %d bytes", len(data)),
		}
	}

	text := string(data)
	kind := classify(text)

	summary := &models.ArtifactSummary{
		ArtifactID: artifactID,
		Kind:       kind,
	}

	switch kind {
	case models.ContentKindCode:
		summary.Digest, summary.KeyPoints = summarizeCode(text)
	case models.ContentKindStructured:
		summary.Digest, summary.KeyPoints = summarizeStructured(text)
	case models.ContentKindProse:
		summary.Digest, summary.KeyPoints = summarizeProse(text)
	case models.ContentKindReport:
		summary.Digest, summary.KeyPoints = summarizeReport(text)
	default:
		summary.Digest = fmt.Sprintf("text content, %d bytes", len(data))
	}

	summary.Digest = truncate(summary.Digest, maxDigestLen)
	if len(summary.KeyPoints) > maxKeyPoints {
		summary.KeyPoints = summary.KeyPoints[:maxKeyPoints]
	}
	for i, p := range summary.KeyPoints {
		summary.KeyPoints[i] = truncate(p, maxKeyPointLen)
	}
	return summary
}

// classify places content into one of the summarizable kinds using simple
// line heuristics.
func classify(text string) models.ContentKind {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return models.ContentKindUnknown
	}

	// Structured: a JSON object carrying a status field.
	if strings.HasPrefix(trimmed, "{") {
		var obj map[string]interface{}
		if err := json.Unmarshal([]byte(trimmed), &obj); err == nil {
			if _, ok := obj["status"]; ok {
				return models.ContentKindStructured
			}
		}
	}

	lines := strings.Split(text, "\n")
	codeLines, reportLines, headingLines := 0, 0, 0
	for _, line := range lines {
		t := strings.TrimSpace(line)
		switch {
		case isCodeLine(t):
			codeLines++
		case isReportLine(t):
			reportLines++
		case strings.HasPrefix(t, "#"):
			headingLines++
		}
	}

	switch {
	case reportLines > 0 && reportLines >= codeLines:
		return models.ContentKindReport
	case codeLines*5 >= len(lines) && codeLines > 0:
		return models.ContentKindCode
	case headingLines > 0:
		return models.ContentKindProse
	default:
		return models.ContentKindUnknown
	}
}

func isCodeLine(line string) bool {
	for _, prefix := range []string{"func ", "def ", "class ", "import ", "package ", "type ", "var ", "const ", "return "} {
		if strings.HasPrefix(line, prefix) {
			return true
		}
	}
	return strings.HasSuffix(line, "{") || strings.HasSuffix(line, "};")
}

func isReportLine(line string) bool {
	for _, marker := range []string{"PASS", "FAIL", "--- PASS", "--- FAIL", "ok ", "passed", "failed"} {
		if strings.HasPrefix(line, marker) {
			return true
		}
	}
	return false
}

// summarizeCode extracts declaration lines as key points.
func summarizeCode(text string) (string, []string) {
	lines := strings.Split(text, "\n")
	var points []string
	for _, line := range lines {
		t := strings.TrimSpace(line)
		for _, prefix := range []string{"func ", "def ", "class ", "type "} {
			if strings.HasPrefix(t, prefix) {
				points = append(points, strings.TrimSuffix(t, "{"))
				break
			}
		}
		if len(points) >= maxKeyPoints {
			break
		}
	}
	digest := fmt.Sprintf("source code, %d lines, %d declarations", len(lines), len(points))
	return digest, points
}

// summarizeStructured extracts top-level keys of a status-bearing object.
func summarizeStructured(text string) (string, []string) {
	var obj map[string]interface{}
	if err := json.Unmarshal([]byte(strings.TrimSpace(text)), &obj); err != nil {
		return fmt.Sprintf("structured content, %d bytes", len(text)), nil
	}

	status := fmt.Sprintf("%v", obj["status"])

	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var points []string
	for _, k := range keys {
		points = append(points, fmt.Sprintf("%s: %v", k, obj[k]))
		if len(points) >= maxKeyPoints {
			break
		}
	}

	digest := fmt.Sprintf("structured response, status=%s, %d fields", status, len(obj))
	return digest, points
}

// summarizeProse uses headings as key points and the first paragraph as digest.
func summarizeProse(text string) (string, []string) {
	lines := strings.Split(text, "\n")
	var points []string
	var firstPara string
	for _, line := range lines {
		t := strings.TrimSpace(line)
		if strings.HasPrefix(t, "#") {
			points = append(points, strings.TrimSpace(strings.TrimLeft(t, "#")))
			if len(points) >= maxKeyPoints {
				break
			}
			continue
		}
		if firstPara == "" && t != "" {
			firstPara = t
		}
	}
	if firstPara == "" {
		firstPara = fmt.Sprintf("document with %d headings", len(points))
	}
	return firstPara, points
}

// summarizeReport puts failing lines ahead of passing ones.
func summarizeReport(text string) (string, []string) {
	lines := strings.Split(text, "\n")
	var failures, passes []string
	for _, line := range lines {
		t := strings.TrimSpace(line)
		if t == "" {
			continue
		}
		switch {
		case strings.Contains(t, "FAIL") || strings.Contains(t, "failed"):
			failures = append(failures, t)
		case isReportLine(t):
			passes = append(passes, t)
		}
	}

	points := failures
	if len(points) < maxKeyPoints {
		points = append(points, passes...)
	}
	digest := fmt.Sprintf("test report, %d failures, %d passing lines", len(failures), len(passes))
	return digest, points
}

// truncate bounds a string to max bytes without splitting a rune.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := s[:max]
	for !utf8.ValidString(cut) {
		cut = cut[:len(cut)-1]
	}
	return cut
}
