package jira

import (
	"encoding/json"
	"strings"
)

// adfNode is a node of an Atlassian Document Format tree.
type adfNode struct {
	Type    string          `json:"type"`
	Text    string          `json:"text,omitempty"`
	Attrs   json.RawMessage `json:"attrs,omitempty"`
	Content []adfNode       `json:"content,omitempty"`
}

// blockTypes end with a newline when flattened.
var blockTypes = map[string]bool{
	"paragraph":  true,
	"heading":    true,
	"codeBlock":  true,
	"blockquote": true,
	"listItem":   true,
	"rule":       true,
	"tableRow":   true,
	"panel":      true,
}

// DescriptionToPlainText extracts plain text from Jira's ADF (Atlassian
// Document Format). v2 responses carry a plain string, which is returned as-is.
func DescriptionToPlainText(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}

	var doc adfNode
	if err := json.Unmarshal(raw, &doc); err != nil || doc.Type != "doc" {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return s
		}
		return string(raw)
	}

	var b strings.Builder
	writeADF(&b, doc.Content)
	return strings.TrimSpace(collapseBlankLines(b.String()))
}

func writeADF(b *strings.Builder, nodes []adfNode) {
	for _, n := range nodes {
		switch n.Type {
		case "text":
			b.WriteString(n.Text)
		case "hardBreak":
			b.WriteByte('\n')
		case "mention", "emoji", "inlineCard":
			var attrs struct {
				Text      string `json:"text"`
				ShortName string `json:"shortName"`
				URL       string `json:"url"`
			}
			_ = json.Unmarshal(n.Attrs, &attrs)
			switch {
			case attrs.Text != "":
				b.WriteString(attrs.Text)
			case attrs.ShortName != "":
				b.WriteString(attrs.ShortName)
			default:
				b.WriteString(attrs.URL)
			}
		case "listItem":
			b.WriteString("- ")
			writeADF(b, n.Content)
		case "tableCell", "tableHeader":
			var cell strings.Builder
			writeADF(&cell, n.Content)
			b.WriteString(strings.TrimSpace(cell.String()))
			b.WriteString(" | ")
		default:
			writeADF(b, n.Content)
		}
		if blockTypes[n.Type] && !strings.HasSuffix(b.String(), "\n") {
			b.WriteByte('\n')
		}
	}
}

func collapseBlankLines(s string) string {
	for strings.Contains(s, "\n\n\n") {
		s = strings.ReplaceAll(s, "\n\n\n", "\n\n")
	}
	return s
}
