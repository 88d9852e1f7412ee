package export

import (
	"fmt"
	"html"
	"strings"
)

// BlocksToProseMirror converts formatter output into a ProseMirror document
// tree of the same map shape a JSON decoder produces. Consecutive bullets are
// grouped into one list; breaks only separate blocks.
func BlocksToProseMirror(blocks Blocks) map[string]interface{} {
	content := make([]interface{}, 0, len(blocks))
	var list []interface{}
	flush := func() {
		if len(list) == 0 {
			return
		}
		content = append(content, map[string]interface{}{
			"type":    "bulletList",
			"content": list,
		})
		list = nil
	}

	for _, block := range blocks {
		if block.Kind != BlockBullet {
			flush()
		}
		switch block.Kind {
		case BlockBreak:
		case BlockPart:
			title := block.Label
			if block.Content != "" {
				title += ": " + block.Content
			}
			content = append(content, map[string]interface{}{
				"type":    "part",
				"attrs":   map[string]interface{}{"label": block.Label},
				"content": []interface{}{textNode(title)},
			})
		case BlockHeading:
			level := block.Level + 1
			if level > 6 {
				level = 6
			}
			title := block.Content
			if block.Label != "" {
				title = block.Label + " " + title
			}
			content = append(content, map[string]interface{}{
				"type":    "heading",
				"attrs":   map[string]interface{}{"level": float64(level)},
				"content": []interface{}{textNode(title)},
			})
		case BlockBullet:
			list = append(list, map[string]interface{}{
				"type":    "listItem",
				"content": []interface{}{paragraphNode(block.Spans)},
			})
		default:
			content = append(content, paragraphNode(block.Spans))
		}
	}
	flush()

	return map[string]interface{}{
		"type":    "doc",
		"content": content,
	}
}

func paragraphNode(spans []Span) map[string]interface{} {
	nodes := make([]interface{}, 0, len(spans))
	for _, span := range spans {
		node := textNode(span.Text)
		switch span.Kind {
		case SpanBold:
			node["marks"] = []interface{}{map[string]interface{}{"type": "bold"}}
		case SpanAmount:
			node["marks"] = []interface{}{map[string]interface{}{"type": "amount"}}
		}
		nodes = append(nodes, node)
	}
	return map[string]interface{}{
		"type":    "paragraph",
		"content": nodes,
	}
}

func textNode(text string) map[string]interface{} {
	return map[string]interface{}{"type": "text", "text": text}
}

// ProseMirrorToHTML converts a ProseMirror document to HTML
func ProseMirrorToHTML(doc interface{}) string {
	root, ok := doc.(map[string]interface{})
	if !ok {
		return ""
	}
	return renderNode(root)
}

func renderNode(node map[string]interface{}) string {
	nodeType, _ := node["type"].(string)
	if nodeType == "" {
		return ""
	}

	switch nodeType {
	case "doc":
		return renderContent(node["content"])
	case "part":
		content := renderContent(node["content"])
		return fmt.Sprintf("<h1 class=\"part\">%s</h1>\n", content)
	case "paragraph":
		content := renderContent(node["content"])
		return fmt.Sprintf("<p>%s</p>\n", content)
	case "heading":
		level := 1
		if attrs, ok := node["attrs"].(map[string]interface{}); ok {
			if lvl, ok := attrs["level"].(float64); ok && lvl >= 1 && lvl <= 6 {
				level = int(lvl)
			}
		}
		content := renderContent(node["content"])
		return fmt.Sprintf("<h%d>%s</h%d>\n", level, content, level)
	case "bulletList":
		content := renderContent(node["content"])
		return fmt.Sprintf("<ul>\n%s</ul>\n", content)
	case "orderedList":
		content := renderContent(node["content"])
		return fmt.Sprintf("<ol>\n%s</ol>\n", content)
	case "listItem":
		content := renderContent(node["content"])
		return fmt.Sprintf("<li>%s</li>\n", content)
	case "blockquote":
		content := renderContent(node["content"])
		return fmt.Sprintf("<blockquote>\n%s</blockquote>\n", content)
	case "text":
		text, _ := node["text"].(string)
		marks, _ := node["marks"].([]interface{})
		return renderTextWithMarks(text, marks)
	case "hardBreak":
		return "<br>"
	case "horizontalRule":
		return "<hr>\n"
	default:
		return renderContent(node["content"])
	}
}

func renderContent(content interface{}) string {
	items, ok := content.([]interface{})
	if !ok {
		return ""
	}

	var result strings.Builder
	for _, item := range items {
		if node, ok := item.(map[string]interface{}); ok {
			result.WriteString(renderNode(node))
		}
	}
	return result.String()
}

func renderTextWithMarks(text string, marks []interface{}) string {
	if text == "" {
		return ""
	}

	htmlText := html.EscapeString(text)

	// Apply marks from outside in
	for i := len(marks) - 1; i >= 0; i-- {
		mark, ok := marks[i].(map[string]interface{})
		if !ok {
			continue
		}
		markType, _ := mark["type"].(string)

		switch markType {
		case "bold":
			htmlText = fmt.Sprintf("<strong>%s</strong>", htmlText)
		case "italic":
			htmlText = fmt.Sprintf("<em>%s</em>", htmlText)
		case "amount":
			htmlText = fmt.Sprintf("<span class=\"amount\">%s</span>", htmlText)
		case "link":
			href := ""
			if attrs, ok := mark["attrs"].(map[string]interface{}); ok {
				if hrefVal, ok := attrs["href"].(string); ok {
					href = hrefVal
				}
			}
			htmlText = fmt.Sprintf(`<a href="%s">%s</a>`, html.EscapeString(href), htmlText)
		}
	}

	return htmlText
}
