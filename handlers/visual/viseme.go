package visual

import "strings"

// Viseme morph targets, in the order avatars usually declare them.
var Visemes = []string{"sil", "PP", "FF", "TH", "DD", "kk", "CH", "SS", "nn", "RR", "aa", "E", "I", "O", "U"}

var charVisemes = map[rune]string{
	'a': "aa",
	'e': "E",
	'i': "I", 'y': "I",
	'o': "O",
	'u': "U", 'w': "U",
	'm': "PP", 'b': "PP", 'p': "PP",
	'f': "FF", 'v': "FF",
	't': "DD", 'd': "DD", 'l': "DD",
	'k': "kk", 'g': "kk", 'q': "kk", 'c': "kk", 'x': "kk",
	'j': "CH",
	's': "SS", 'z': "SS",
	'n': "nn",
	'r': "RR",
	'h': "sil",
}

// visemeAt returns the mouth shape for character i of word. Digraphs th, ch
// and sh take precedence over their first letter.
func visemeAt(word string, i int) string {
	runes := []rune(strings.ToLower(word))
	if i < 0 || i >= len(runes) {
		return "sil"
	}
	if i+1 < len(runes) && runes[i+1] == 'h' {
		switch runes[i] {
		case 't':
			return "TH"
		case 'c', 's':
			return "CH"
		}
	}
	if v, ok := charVisemes[runes[i]]; ok {
		return v
	}
	return "sil"
}
