package bot

import (
	"regexp"
	"strings"

	"github.com/Xractz/whatsapp-assistant/internal/domain"
)

// Parser extracts prefixed commands from message text.
type Parser struct {
	prefix  string
	pattern *regexp.Regexp
}

// NewParser builds a parser for a single prefix character such as ".".
func NewParser(prefix string) *Parser {
	return &Parser{
		prefix:  prefix,
		pattern: regexp.MustCompile(`(?s)^` + regexp.QuoteMeta(prefix) + `(\w+)\s*(.*)`),
	}
}

// Parse lowercases text and returns the keyword and argument text, or nil when
// text is not a command. Argument text keeps its inner line breaks.
func (p *Parser) Parse(text string) *domain.ParsedCommand {
	if text == "" {
		return nil
	}
	text = strings.ToLower(text)
	if !strings.HasPrefix(text, p.prefix) {
		return nil
	}
	m := p.pattern.FindStringSubmatch(text)
	if m == nil {
		return nil
	}
	return &domain.ParsedCommand{Keyword: m[1], Args: m[2]}
}

// ParseCommand is a one-shot helper around NewParser(prefix).Parse(text).
func ParseCommand(prefix, text string) *domain.ParsedCommand {
	return NewParser(prefix).Parse(text)
}
