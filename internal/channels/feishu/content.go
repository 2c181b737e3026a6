package feishu

import (
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

// ParseTextContent extracts the text field of a text message's content.
// ok is false when the content is not a JSON object with a string text field.
func ParseTextContent(raw string) (text string, ok bool) {
	if !gjson.Valid(raw) {
		return "", false
	}
	t := gjson.Get(raw, "text")
	if t.Type != gjson.String {
		return "", false
	}
	return t.String(), true
}

// StripMention removes the placeholder keys of mentions of openID from text.
func StripMention(text string, mentions []Mention, openID string) string {
	if openID == "" {
		return text
	}
	for _, m := range mentions {
		if m.OpenID == openID && m.Key != "" {
			text = strings.ReplaceAll(text, m.Key, "")
		}
	}
	return strings.TrimSpace(text)
}

// RenderContent returns a best-effort plain rendering of non-text content,
// or "" when nothing readable is available.
func RenderContent(raw, messageType string) string {
	if raw == "" || !gjson.Valid(raw) {
		return ""
	}
	switch messageType {
	case "post":
		return renderPost(raw)
	case "file", "audio", "media":
		if name := gjson.Get(raw, "file_name").String(); name != "" {
			return name
		}
	case "interactive":
		return gjson.Get(raw, "title").String()
	case "share_chat":
		return gjson.Get(raw, "chat_id").String()
	}
	return ""
}

// renderPost flattens a rich-text post into lines of text.
func renderPost(raw string) string {
	post := gjson.Parse(raw)

	var lang gjson.Result
	for _, key := range []string{"zh_cn", "en_us"} {
		if lc := post.Get(key); lc.Exists() {
			lang = lc
			break
		}
	}
	if !lang.Exists() {
		// Some payloads put title/content at the top level.
		if post.Get("content").IsArray() {
			lang = post
		} else {
			post.ForEach(func(_, v gjson.Result) bool {
				lang = v
				return false
			})
		}
	}
	if !lang.Exists() {
		return ""
	}

	var textParts []string
	if title := lang.Get("title").String(); title != "" {
		textParts = append(textParts, title)
	}
	for _, para := range lang.Get("content").Array() {
		var lineParts []string
		for _, elem := range para.Array() {
			switch elem.Get("tag").String() {
			case "text", "md":
				lineParts = append(lineParts, elem.Get("text").String())
			case "at":
				if name := elem.Get("user_name").String(); name != "" {
					lineParts = append(lineParts, "@"+name)
				}
			case "a":
				href := elem.Get("href").String()
				if text := elem.Get("text").String(); text != "" {
					lineParts = append(lineParts, fmt.Sprintf("[%s](%s)", text, href))
				} else {
					lineParts = append(lineParts, href)
				}
			case "img":
				lineParts = append(lineParts, "[image]")
			}
		}
		if len(lineParts) > 0 {
			textParts = append(textParts, strings.Join(lineParts, ""))
		}
	}
	return strings.Join(textParts, "\n")
}
