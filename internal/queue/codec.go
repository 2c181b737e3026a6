package queue

import (
	"bytes"
	"strings"
	"time"

	"github.com/nextlevelbuilder/larkbridge/pkg/protocol"
)

// blockSpan is a parsed block plus its byte offsets in the file.
type blockSpan struct {
	Task
	start    int // offset of the separator line
	insertAt int // offset just past the block's last non-empty line
	// unterminated is set when the last non-empty line has no trailing newline (EOF).
	unterminated bool
}

type lineRec struct {
	text       string
	start, end int // end includes the newline when present
	terminated bool
}

func encodeBlock(t Task) []byte {
	var b strings.Builder
	b.WriteString(protocol.QueueSeparator + "\n")
	b.WriteString(protocol.QueueKeyLabel + t.Key + "\n")
	b.WriteString(protocol.QueueOriginLabel + t.Origin + "\n")
	b.WriteString(protocol.QueueReceivedPrefix + t.ReceivedAt.Format(time.RFC3339) + protocol.QueueReceivedSuffix + "\n")
	body := trimTrailingBlankLines(strings.ReplaceAll(t.Body, "\r\n", "\n"))
	for _, line := range strings.Split(body, "\n") {
		b.WriteString(escapeLine(line) + "\n")
	}
	if t.Resolved {
		b.WriteString(protocol.QueueResolvedMarker + "\n")
	}
	b.WriteString("\n")
	return []byte(b.String())
}

// trimTrailingBlankLines drops trailing whitespace-only lines, which the
// parser treats as block padding.
func trimTrailingBlankLines(body string) string {
	lines := strings.Split(body, "\n")
	last := len(lines) - 1
	for last > 0 && strings.TrimSpace(lines[last]) == "" {
		last--
	}
	return strings.Join(lines[:last+1], "\n")
}

func escapeLine(line string) string {
	if strings.HasPrefix(line, protocol.QueueSeparator) ||
		strings.HasPrefix(line, protocol.QueueEscape) ||
		line == protocol.QueueResolvedMarker {
		return protocol.QueueEscape + line
	}
	return line
}

func unescapeLine(line string) string {
	return strings.TrimPrefix(line, protocol.QueueEscape)
}

// parseBlocks splits data on separator lines. Anything before the first
// separator is the file header and is ignored.
func parseBlocks(data []byte) []blockSpan {
	var (
		spans []blockSpan
		cur   *blockSpan
		lines []lineRec
	)
	finish := func() {
		if cur != nil {
			spans = append(spans, finishBlock(*cur, lines))
		}
	}

	for off := 0; off < len(data); {
		end := len(data)
		terminated := false
		if nl := bytes.IndexByte(data[off:], '\n'); nl >= 0 {
			end = off + nl + 1
			terminated = true
		}
		text := strings.TrimRight(string(data[off:end]), "\r\n")
		if text == protocol.QueueSeparator {
			finish()
			cur = &blockSpan{start: off, insertAt: end}
			lines = lines[:0]
		} else if cur != nil {
			lines = append(lines, lineRec{text: text, start: off, end: end, terminated: terminated})
		}
		off = end
	}
	finish()
	return spans
}

func finishBlock(b blockSpan, lines []lineRec) blockSpan {
	// Trailing blank lines separate blocks; they are not content.
	last := len(lines) - 1
	for last >= 0 && strings.TrimSpace(lines[last].text) == "" {
		last--
	}
	if last >= 0 {
		b.insertAt = lines[last].end
		b.unterminated = !lines[last].terminated
	}
	content := lines[:last+1]

	header := func(i int, prefix string) (string, bool) {
		if i >= len(content) || !strings.HasPrefix(content[i].text, prefix) {
			return "", false
		}
		return strings.TrimSpace(strings.TrimPrefix(content[i].text, prefix)), true
	}
	b.Key, _ = header(0, protocol.QueueKeyLabel)
	b.Origin, _ = header(1, protocol.QueueOriginLabel)
	if raw, ok := header(2, protocol.QueueReceivedPrefix); ok {
		raw = strings.TrimSuffix(raw, protocol.QueueReceivedSuffix)
		if ts, err := time.Parse(time.RFC3339, raw); err == nil {
			b.ReceivedAt = ts
		}
	}
	if len(content) <= 3 {
		return b
	}

	body := content[3:]
	if body[len(body)-1].text == protocol.QueueResolvedMarker {
		b.Resolved = true
		body = body[:len(body)-1]
	}
	parts := make([]string, len(body))
	for i, l := range body {
		parts[i] = unescapeLine(l.text)
	}
	b.Body = strings.Join(parts, "\n")
	return b
}

func findBlock(spans []blockSpan, key string) (blockSpan, bool) {
	for _, s := range spans {
		if s.Key == key {
			return s, true
		}
	}
	return blockSpan{}, false
}

// withResolvedMarker returns a copy of data with the marker inserted at the
// end of span's content. All other bytes are preserved.
func withResolvedMarker(data []byte, span blockSpan) []byte {
	insert := protocol.QueueResolvedMarker + "\n"
	if span.unterminated {
		insert = "\n" + insert
	}
	out := make([]byte, 0, len(data)+len(insert))
	out = append(out, data[:span.insertAt]...)
	out = append(out, insert...)
	out = append(out, data[span.insertAt:]...)
	return out
}
