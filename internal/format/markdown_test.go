package format

import (
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
)

func entity(kind string, offset, length int) tgbotapi.MessageEntity {
	return tgbotapi.MessageEntity{Type: kind, Offset: offset, Length: length}
}

func TestRenderPlainText(t *testing.T) {
	res := Render("water the plants")

	assert.Equal(t, "water the plants", res.Text)
	assert.Empty(t, res.Entities)
}

func TestRenderBold(t *testing.T) {
	res := Render("take **two** pills")

	assert.Equal(t, "take two pills", res.Text)
	assert.Equal(t, []tgbotapi.MessageEntity{entity("bold", 5, 3)}, res.Entities)

	res = Render("take __two__ pills")
	assert.Equal(t, "take two pills", res.Text)
	assert.Equal(t, []tgbotapi.MessageEntity{entity("bold", 5, 3)}, res.Entities)
}

func TestRenderCode(t *testing.T) {
	res := Render("refill `rx-2231` today")

	assert.Equal(t, "refill rx-2231 today", res.Text)
	assert.Equal(t, []tgbotapi.MessageEntity{entity("code", 7, 7)}, res.Entities)
}

func TestRenderItalic(t *testing.T) {
	res := Render("feeling *calm* today")

	assert.Equal(t, "feeling calm today", res.Text)
	assert.Equal(t, []tgbotapi.MessageEntity{entity("italic", 8, 4)}, res.Entities)

	res = Render("_gently_ remind me")
	assert.Equal(t, "gently remind me", res.Text)
	assert.Equal(t, []tgbotapi.MessageEntity{entity("italic", 0, 6)}, res.Entities)
}

func TestRenderLeavesSnakeCaseAlone(t *testing.T) {
	res := Render("see journal/2025_06_16 for context")

	assert.Equal(t, "see journal/2025_06_16 for context", res.Text)
	assert.Empty(t, res.Entities)
}

func TestRenderHeaderBecomesBold(t *testing.T) {
	res := Render("# Evening pages\nwrite three pages")

	assert.Equal(t, "Evening pages\nwrite three pages", res.Text)
	assert.Equal(t, []tgbotapi.MessageEntity{entity("bold", 0, 13)}, res.Entities)
}

func TestRenderOffsetsAreUTF16(t *testing.T) {
	// 📓 is outside the BMP and counts as two UTF-16 code units.
	res := Render("📓 **journal**")

	assert.Equal(t, "📓 journal", res.Text)
	assert.Equal(t, []tgbotapi.MessageEntity{entity("bold", 3, 7)}, res.Entities)
}

func TestRenderMixedMarkersKeepOffsetsStable(t *testing.T) {
	res := Render("`a` then **b**")

	assert.Equal(t, "a then b", res.Text)
	assert.Equal(t, []tgbotapi.MessageEntity{
		entity("code", 0, 1),
		entity("bold", 7, 1),
	}, res.Entities)
}
