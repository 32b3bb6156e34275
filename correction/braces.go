package correction

import "strings"

type lexState int

const (
	stateCode lexState = iota
	stateLineComment
	stateBlockComment
	stateString
	stateTextBlock
)

// BraceScanner tracks structural brace depth across incrementally fed text,
// ignoring braces inside comments and string, character or text-block
// literals.
type BraceScanner struct {
	g        *Grammar
	state    lexState
	quote    byte
	depth    int
	opened   bool
	negative bool
}

// NewBraceScanner returns a scanner in code state.
func (g *Grammar) NewBraceScanner() *BraceScanner {
	return &BraceScanner{g: g}
}

// Feed advances the scanner over text.
func (s *BraceScanner) Feed(text string) {
	g := s.g
	for i := 0; i < len(text); i++ {
		rest := text[i:]
		c := text[i]
		switch s.state {
		case stateLineComment:
			if c == '\n' {
				s.state = stateCode
			}
		case stateBlockComment:
			if strings.HasPrefix(rest, g.BlockCommentEnd) {
				s.state = stateCode
				i += len(g.BlockCommentEnd) - 1
			}
		case stateTextBlock:
			if c == g.Escape {
				i++
				continue
			}
			if strings.HasPrefix(rest, g.TextBlock) {
				s.state = stateCode
				i += len(g.TextBlock) - 1
			}
		case stateString:
			switch {
			case c == g.Escape:
				i++
			case c == s.quote:
				s.state = stateCode
			case c == '\n':
				// Unterminated literals end at the line break.
				s.state = stateCode
			}
		default:
			switch {
			case g.TextBlock != "" && strings.HasPrefix(rest, g.TextBlock):
				s.state = stateTextBlock
				i += len(g.TextBlock) - 1
			case g.LineComment != "" && strings.HasPrefix(rest, g.LineComment):
				s.state = stateLineComment
				i += len(g.LineComment) - 1
			case g.BlockCommentStart != "" && strings.HasPrefix(rest, g.BlockCommentStart):
				s.state = stateBlockComment
				i += len(g.BlockCommentStart) - 1
			case strings.IndexByte(g.Quotes, c) >= 0:
				s.state = stateString
				s.quote = c
			case c == '{':
				s.depth++
				s.opened = true
			case c == '}':
				s.depth--
				if s.depth < 0 {
					s.negative = true
				}
			}
		}
	}
}

// Depth is the current structural nesting level.
func (s *BraceScanner) Depth() int { return s.depth }

// Opened reports whether any structural brace has been seen.
func (s *BraceScanner) Opened() bool { return s.opened }

// Balanced reports whether every structural brace was closed in order and
// the scanner is not inside a comment or literal.
func (s *BraceScanner) Balanced() bool {
	return s.depth == 0 && !s.negative && (s.state == stateCode || s.state == stateLineComment)
}

// BraceBalance returns the structural brace depth of code under grammar g.
// Zero means balanced.
func BraceBalance(g *Grammar, code string) int {
	s := g.NewBraceScanner()
	s.Feed(code)
	return s.Depth()
}
