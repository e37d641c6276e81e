package payload

import (
	"bytes"
	"strings"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// sniffLen is how much of the body is inspected to detect the format.
const sniffLen = 512

// Sniff guesses the format of a payload from its leading bytes.
func Sniff(body []byte) Format {
	b := bytes.TrimPrefix(body, utf8BOM)
	b = bytes.TrimLeft(b, " \t\r\n")
	if len(b) == 0 || b[0] != '<' {
		return FormatJSON
	}
	if looksLikeHTML(b) {
		return FormatHTML
	}
	return FormatXML
}

func looksLikeHTML(b []byte) bool {
	if len(b) > sniffLen {
		b = b[:sniffLen]
	}
	head := strings.ToLower(string(b))
	// Skip an XML declaration and comments before the first element.
	for {
		switch {
		case strings.HasPrefix(head, "<?"):
			end := strings.Index(head, "?>")
			if end < 0 {
				return false
			}
			head = strings.TrimLeft(head[end+2:], " \t\r\n")
			continue
		case strings.HasPrefix(head, "<!--"):
			end := strings.Index(head, "-->")
			if end < 0 {
				return false
			}
			head = strings.TrimLeft(head[end+3:], " \t\r\n")
			continue
		}
		break
	}
	return strings.HasPrefix(head, "<!doctype html") || isHTMLRoot(elementName(head))
}

// elementName returns the tag name at the start of s ("<html lang=..." -> "html").
func elementName(s string) string {
	if !strings.HasPrefix(s, "<") {
		return ""
	}
	s = s[1:]
	end := strings.IndexAny(s, " \t\r\n>/")
	if end < 0 {
		return s
	}
	return s[:end]
}

func isHTMLRoot(name string) bool {
	return strings.EqualFold(name, "html")
}
