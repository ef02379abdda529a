package telegram

import "strings"

// maxMessageRunes stays under the Bot API's 4096 character cap.
const maxMessageRunes = 4000

// chunkText cuts s into pieces of at most limit runes. A cut lands after the
// last newline in the window when that keeps the piece at least a third full;
// with HTML parse mode it never lands inside an unclosed tag.
func chunkText(s string, limit int, parseMode string) []string {
	if limit <= 0 {
		limit = maxMessageRunes
	}
	html := strings.EqualFold(parseMode, "HTML")
	rest := []rune(s)
	var out []string
	for len(rest) > limit {
		win := rest[:limit]
		cut, skip := limit, 0
		if nl := lastRune(win, '\n'); nl >= limit/3 {
			cut, skip = nl, 1
		} else if html {
			if lt := lastRune(win, '<'); lt > 0 && lt > lastRune(win, '>') {
				cut = lt
			}
		}
		out = append(out, strings.TrimRight(string(rest[:cut]), "\n"))
		rest = trimLeadingNewlines(rest[cut+skip:])
	}
	if len(rest) > 0 || len(out) == 0 {
		out = append(out, string(rest))
	}
	return out
}

func lastRune(rs []rune, r rune) int {
	for i := len(rs) - 1; i >= 0; i-- {
		if rs[i] == r {
			return i
		}
	}
	return -1
}

func trimLeadingNewlines(rs []rune) []rune {
	for len(rs) > 0 && rs[0] == '\n' {
		rs = rs[1:]
	}
	return rs
}
