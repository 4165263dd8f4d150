package pipeline

import (
	"bufio"
	"regexp"
	"strings"
)

var (
	cueTiming = regexp.MustCompile(`^\d{1,2}:\d{2}(:\d{2})?[.,]\d{3}\s+-->\s+`)
	inlineTag = regexp.MustCompile(`<[^>]+>`)
)

// SubtitleText flattens a WebVTT or SubRip document into plain text.
// Auto-generated captions repeat each line across overlapping cues, so
// consecutive duplicates are collapsed.
func SubtitleText(doc string) string {
	var (
		lines  []string
		last   string
		inNote bool
	)
	sc := bufio.NewScanner(strings.NewReader(doc))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(strings.TrimPrefix(sc.Text(), "\ufeff"))
		switch {
		case line == "":
			inNote = false
			continue
		case inNote:
			continue
		case line == "WEBVTT", strings.HasPrefix(line, "WEBVTT "),
			strings.HasPrefix(line, "Kind:"), strings.HasPrefix(line, "Language:"):
			continue
		case strings.HasPrefix(line, "NOTE"), line == "STYLE", line == "REGION":
			inNote = true
			continue
		case cueTiming.MatchString(line):
			continue
		case isCueIndex(line):
			continue
		}

		text := strings.TrimSpace(inlineTag.ReplaceAllString(line, ""))
		if text == "" || text == last {
			continue
		}
		lines = append(lines, text)
		last = text
	}
	return strings.Join(lines, "\n")
}

func isCueIndex(line string) bool {
	for _, r := range line {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
