// Package format renders the Markdown subset Inkwell entries use into
// Telegram message entities. Telegram measures entity offsets in UTF-16
// code units, so every position is computed in that encoding.
package format

import (
	"regexp"
	"strings"
	"unicode/utf16"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Message is plain text plus the entities Telegram needs to style it.
type Message struct {
	Text     string
	Entities []tgbotapi.MessageEntity
}

var (
	headerRe = regexp.MustCompile(`(?m)^#{1,6}\s+(.+)$`)

	// Alternation order decides precedence at a shared start position:
	// ** must win over *, and _italic_ only fires on word boundaries so
	// snake_case identifiers pass through untouched.
	markerRe = regexp.MustCompile("\\*\\*(.+?)\\*\\*|__(.+?)__|`([^`\n]+)`|\\*([^*\n]+)\\*|\\b_([^_\n]+)_\\b")

	markerKinds = []string{"bold", "bold", "code", "italic", "italic"}
)

// Render strips Markdown markers from text and returns the plain text
// with matching Telegram entities. Headers become bold lines. Nested
// markers are not supported; the outermost one wins.
func Render(text string) Message {
	text = headerRe.ReplaceAllString(text, "**$1**")

	var entities []tgbotapi.MessageEntity
	for {
		loc := markerRe.FindStringSubmatchIndex(text)
		if loc == nil {
			break
		}

		var kind, inner string
		for g := 1; g*2 < len(loc); g++ {
			if loc[g*2] != -1 {
				kind = markerKinds[g-1]
				inner = text[loc[g*2]:loc[g*2+1]]
				break
			}
		}

		// Stripping always happens at the leftmost remaining match, so
		// offsets recorded earlier stay valid.
		entities = append(entities, tgbotapi.MessageEntity{
			Type:   kind,
			Offset: utf16Len(text[:loc[0]]),
			Length: utf16Len(inner),
		})
		text = text[:loc[0]] + inner + text[loc[1]:]
	}

	return Message{Text: strings.TrimRight(text, " \n"), Entities: entities}
}

// utf16Len returns the length of s in UTF-16 code units.
func utf16Len(s string) int {
	return len(utf16.Encode([]rune(s)))
}
