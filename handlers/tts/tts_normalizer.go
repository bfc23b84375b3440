package tts

import (
	"regexp"
	"strings"
)

// normalizeTextForTTS strips what should not be spoken: markdown markers,
// emojis and redundant whitespace.
func normalizeTextForTTS(text string) string {
	text = markdownReplacer.Replace(text)
	text = removeEmojiRegex.ReplaceAllString(text, "")
	text = multipleSpacesRegex.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}

// Words splits text the same way subtitles highlight it. The word index
// published during playback refers to this slice.
func Words(text string) []string {
	return strings.Fields(text)
}

var markdownReplacer = strings.NewReplacer(
	"**", "", // bold
	"__", "", // underline
	"~~", "", // strikethrough
	"`", "", // inline code
	"*", "", // italic
	"#", "",
)

var (
	removeEmojiRegex    = regexp.MustCompile(`[^\p{L}\p{N}\p{P}\p{Z}\p{Sc}\s]`)
	multipleSpacesRegex = regexp.MustCompile(`\s+`)
)
