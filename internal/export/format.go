package export

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// BlockKind is the structural type of one line of proposal text.
type BlockKind string

const (
	BlockPart      BlockKind = "part"
	BlockHeading   BlockKind = "heading"
	BlockBullet    BlockKind = "bullet"
	BlockParagraph BlockKind = "paragraph"
	BlockBreak     BlockKind = "break"
)

// SpanKind is the inline type inside a paragraph or bullet.
type SpanKind string

const (
	SpanText   SpanKind = "text"
	SpanBold   SpanKind = "bold"
	SpanAmount SpanKind = "amount"
)

type Span struct {
	Kind SpanKind `json:"kind"`
	Text string   `json:"text"`
}

// Block is one classified input line. Text is the line exactly as it appeared
// in the input; Content is the same line with structural markers removed.
type Block struct {
	Kind    BlockKind `json:"kind"`
	Text    string    `json:"text"`
	Content string    `json:"content,omitempty"`
	Level   int       `json:"level,omitempty"`
	Label   string    `json:"label,omitempty"`
	Spans   []Span    `json:"spans,omitempty"`
}

type Blocks []Block

// Text joins the text of every non-break block with newlines. For any input
// it equals the input's non-blank lines joined the same way.
func (b Blocks) Text() string {
	lines := make([]string, 0, len(b))
	for _, block := range b {
		if block.Kind == BlockBreak {
			continue
		}
		lines = append(lines, block.Text)
	}
	return strings.Join(lines, "\n")
}

// LineClassifier claims a non-blank line as a specific block kind.
type LineClassifier interface {
	Classify(line string) (Block, bool)
}

// ClassifierFunc adapts a function to LineClassifier.
type ClassifierFunc func(line string) (Block, bool)

func (f ClassifierFunc) Classify(line string) (Block, bool) { return f(line) }

// Formatter turns flat proposal text into typed blocks. Lines no classifier
// claims become paragraphs.
type Formatter struct {
	classifiers []LineClassifier
}

// DefaultClassifiers is the chain used when NewFormatter gets none.
func DefaultClassifiers() []LineClassifier {
	return []LineClassifier{
		ClassifierFunc(classifyPart),
		ClassifierFunc(classifyMarkdownHeading),
		ClassifierFunc(classifyBullet),
		ClassifierFunc(classifyNumberedHeading),
		ClassifierFunc(classifyCapsHeading),
	}
}

func NewFormatter(classifiers ...LineClassifier) *Formatter {
	if len(classifiers) == 0 {
		classifiers = DefaultClassifiers()
	}
	return &Formatter{classifiers: classifiers}
}

var defaultFormatter = NewFormatter()

// Structure runs the default formatter.
func Structure(text string) Blocks {
	return defaultFormatter.Structure(text)
}

// Structure yields exactly one block per input line. Empty input yields no
// blocks; blank lines become breaks.
func (f *Formatter) Structure(text string) Blocks {
	if text == "" {
		return Blocks{}
	}
	text = strings.ReplaceAll(text, "\r\n", "\n")
	lines := strings.Split(text, "\n")
	blocks := make(Blocks, 0, len(lines))
	for _, line := range lines {
		blocks = append(blocks, f.classify(line))
	}
	return blocks
}

func (f *Formatter) classify(line string) Block {
	if strings.TrimSpace(line) == "" {
		return Block{Kind: BlockBreak, Text: line}
	}
	for _, classifier := range f.classifiers {
		block, ok := classifier.Classify(line)
		if !ok {
			continue
		}
		block.Text = line
		if block.Kind == BlockBullet || block.Kind == BlockParagraph {
			block.Spans = ParseSpans(block.Content)
		}
		return block
	}
	content := strings.TrimSpace(line)
	return Block{Kind: BlockParagraph, Text: line, Content: content, Spans: ParseSpans(content)}
}

var (
	partPattern            = regexp.MustCompile(`^\s*(?:\*\*)?((?i:part|section|annexure|appendix|schedule))(?:\s+(\d{1,3}|[IVXLC]{1,6}|[A-Z]\d{0,2}))?(\s*[:.\-–—]\s*|\s+|$)(.*?)(?:\*\*)?\s*$`)
	markdownHeadingPattern = regexp.MustCompile(`^\s*(#{1,6})\s+(.+?)\s*#*\s*$`)
	numberedHeadingPattern = regexp.MustCompile(`^\s*(\d{1,3}(?:\.\d{1,3})*)(\.)?\s+(.+?)\s*$`)
	bulletPattern          = regexp.MustCompile(`^\s*([-*•–▪◦·‣])\s+(.*)$`)
)

const (
	maxPartLabelRunes   = 80
	maxNumberedRunes    = 100
	maxCapsHeadingRunes = 80
	maxCapsHeadingWords = 10
)

func classifyPart(line string) (Block, bool) {
	match := partPattern.FindStringSubmatch(line)
	if match == nil {
		return Block{}, false
	}
	separator, title := match[3], strings.TrimSpace(match[4])
	if utf8.RuneCountInString(title) > maxPartLabelRunes || endsSentence(title) {
		return Block{}, false
	}
	if title != "" && strings.TrimSpace(separator) == "" {
		first, _ := utf8.DecodeRuneInString(title)
		if !unicode.IsUpper(first) && !unicode.IsDigit(first) {
			return Block{}, false
		}
	}
	label := strings.ToUpper(match[1])
	if match[2] != "" {
		label += " " + strings.ToUpper(match[2])
	}
	return Block{Kind: BlockPart, Label: label, Content: title, Level: 1}, true
}

func classifyMarkdownHeading(line string) (Block, bool) {
	match := markdownHeadingPattern.FindStringSubmatch(line)
	if match == nil {
		return Block{}, false
	}
	return Block{Kind: BlockHeading, Level: len(match[1]), Content: stripEmphasis(match[2])}, true
}

func classifyNumberedHeading(line string) (Block, bool) {
	match := numberedHeadingPattern.FindStringSubmatch(line)
	if match == nil {
		return Block{}, false
	}
	number, trailingDot, title := match[1], match[2], stripEmphasis(match[3])
	if !strings.Contains(number, ".") && trailingDot == "" {
		return Block{}, false
	}
	if utf8.RuneCountInString(title) > maxNumberedRunes {
		return Block{}, false
	}
	first, _ := utf8.DecodeRuneInString(title)
	if !unicode.IsUpper(first) {
		return Block{}, false
	}
	return Block{Kind: BlockHeading, Level: strings.Count(number, ".") + 1, Label: number, Content: title}, true
}

func classifyCapsHeading(line string) (Block, bool) {
	content := stripEmphasis(strings.TrimSpace(line))
	if utf8.RuneCountInString(content) > maxCapsHeadingRunes {
		return Block{}, false
	}
	if len(strings.Fields(content)) > maxCapsHeadingWords {
		return Block{}, false
	}
	letters := 0
	for _, r := range content {
		if unicode.IsLower(r) {
			return Block{}, false
		}
		if unicode.IsLetter(r) {
			letters++
		}
	}
	if letters < 2 {
		return Block{}, false
	}
	return Block{Kind: BlockHeading, Level: 2, Content: strings.TrimRight(content, ":")}, true
}

func classifyBullet(line string) (Block, bool) {
	match := bulletPattern.FindStringSubmatch(line)
	if match == nil {
		return Block{}, false
	}
	return Block{Kind: BlockBullet, Label: match[1], Content: strings.TrimSpace(match[2])}, true
}

func stripEmphasis(s string) string {
	s = strings.TrimSpace(s)
	for _, marker := range []string{"**", "__"} {
		if len(s) > 2*len(marker) && strings.HasPrefix(s, marker) && strings.HasSuffix(s, marker) {
			s = strings.TrimSpace(s[len(marker) : len(s)-len(marker)])
		}
	}
	return s
}

func endsSentence(s string) bool {
	if s == "" {
		return false
	}
	words := strings.Fields(s)
	return len(words) > 12 || (strings.HasSuffix(s, ".") && len(words) > 6)
}

var amountPattern = regexp.MustCompile(`(?:R|\$|€|£)\s?\d{1,3}(?:[, ]\d{3})+(?:\.\d+)?(?:\s?(?:k|m|bn|million|billion)\b)?|(?:R|\$|€|£)\s?\d+(?:\.\d+)?(?:\s?(?:k|m|bn|million|billion)\b)?`)

// ParseSpans splits inline text into plain, bold and currency spans. An
// unterminated bold marker is kept as literal text.
func ParseSpans(text string) []Span {
	if text == "" {
		return nil
	}
	var spans []Span
	rest := text
	for rest != "" {
		open := strings.Index(rest, "**")
		if open < 0 {
			spans = appendText(spans, rest)
			break
		}
		closing := strings.Index(rest[open+2:], "**")
		if closing < 0 {
			spans = appendText(spans, rest)
			break
		}
		inner := rest[open+2 : open+2+closing]
		if strings.TrimSpace(inner) == "" {
			spans = appendText(spans, rest[:open+4+closing])
			rest = rest[open+4+closing:]
			continue
		}
		spans = appendText(spans, rest[:open])
		spans = append(spans, Span{Kind: SpanBold, Text: inner})
		rest = rest[open+4+closing:]
	}
	return mergeText(spans)
}

func appendText(spans []Span, text string) []Span {
	if text == "" {
		return spans
	}
	last := 0
	for _, loc := range amountPattern.FindAllStringIndex(text, -1) {
		if loc[0] > 0 {
			prev, _ := utf8.DecodeLastRuneInString(text[:loc[0]])
			if unicode.IsLetter(prev) || unicode.IsDigit(prev) {
				continue
			}
		}
		if loc[0] > last {
			spans = append(spans, Span{Kind: SpanText, Text: text[last:loc[0]]})
		}
		spans = append(spans, Span{Kind: SpanAmount, Text: text[loc[0]:loc[1]]})
		last = loc[1]
	}
	if last < len(text) {
		spans = append(spans, Span{Kind: SpanText, Text: text[last:]})
	}
	return spans
}

func mergeText(spans []Span) []Span {
	out := spans[:0]
	for _, span := range spans {
		if n := len(out); n > 0 && span.Kind == SpanText && out[n-1].Kind == SpanText {
			out[n-1].Text += span.Text
			continue
		}
		out = append(out, span)
	}
	return out
}
