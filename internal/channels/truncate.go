package channels

// TruncateAtLimit trims s to at most limit runes, respecting multi-byte
// boundaries (spec.md §4.5 step 7: edits must truncate "respecting
// multi-byte boundaries"). A negative or zero limit returns s unchanged.
func TruncateAtLimit(s string, limit int) string {
	if limit <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}

// SplitAtLimit splits s into chunks of at most limit runes each, for final
// responses that exceed a single transport message's limit. Within each
// non-final chunk's window it prefers breaking at the last newline over a
// hard rune cut, so a message isn't severed mid-paragraph when it doesn't
// have to be.
func SplitAtLimit(s string, limit int) []string {
	if limit <= 0 {
		return []string{s}
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return []string{s}
	}
	var chunks []string
	for len(runes) > 0 {
		end := limit
		if end > len(runes) {
			end = len(runes)
		}
		splitAt := end
		if end < len(runes) {
			if nl := lastNewline(runes[:end]); nl >= 0 {
				splitAt = nl + 1
			}
		}
		chunks = append(chunks, string(runes[:splitAt]))
		runes = runes[splitAt:]
	}
	return chunks
}

// lastNewline returns the index of the last '\n' in runes, or -1 if none.
func lastNewline(runes []rune) int {
	for i := len(runes) - 1; i >= 0; i-- {
		if runes[i] == '\n' {
			return i
		}
	}
	return -1
}
