package injection

import (
	"regexp"
	"strings"
	"unicode"
)

// Signal is one structural heuristic that fired, with its weight
// contribution toward the total score.
type Signal struct {
	Name   string
	Weight float64
}

// HeuristicResult is the aggregate Layer 2 score, capped at 1.0, plus
// which signals fired.
type HeuristicResult struct {
	Score   float64
	Signals []Signal
}

var (
	base64Re = regexp.MustCompile(`[A-Za-z0-9+/=]{40,}`)
	hexRe    = regexp.MustCompile(`(?:0x)?[0-9a-fA-F]{40,}`)
)

var imperativePrefixes = []string{
	"always ", "never ", "you must ", "you should ", "ignore ", "do not ",
	"don't ", "make sure ", "ensure ", "remember ", "forget ", "override ",
}

var roleAssignmentPatterns = []string{
	"you are now", "act as", "your purpose is", "your new role",
	"from now on you", "you will act as", "you will behave as",
	"your goal is to", "pretend to be", "roleplay as",
}

var boundaryMarkers = []string{
	"</system>", "[/inst]", "[inst]", "<<sys>>", "<</sys>>",
	"### instruction", "### system", "### human:", "### assistant:",
	"```system", "end_turn", "<|im_start|>", "<|im_end|>",
}

var languageMixingKeywords = []string{
	"ignore", "override", "system prompt", "instructions", "jailbreak", "bypass",
}

var promptStructureMarkers = []string{
	"<system_prompt>", "</system_prompt>", "<instructions>", "</instructions>",
	"<system_message>", `"role": "system"`, `"role":"system"`, `'role': 'system'`,
	"role: system", "system_prompt:", "instructions:", "<|system|>",
}

var encodedInstructionWords = []string{"ignore", "override", "system", "prompt", "instruction"}

// AnalyzeHeuristics scores a message's structural injection signals,
// ported from the half-life-style weighted-signal scorer: imperative
// commands, role-assignment language, boundary markers, encoded content,
// suspicious language mixing, and prompt-like structure, each
// contributing a fixed weight, summed and capped at 1.0.
func AnalyzeHeuristics(text string) HeuristicResult {
	lower := strings.ToLower(text)
	var signals []Signal

	if s, ok := imperativeLines(lower); ok {
		signals = append(signals, s)
	}
	if s, ok := roleAssignment(lower); ok {
		signals = append(signals, s)
	}
	if s, ok := boundaryMarkerSignal(lower); ok {
		signals = append(signals, s)
	}
	if s, ok := encodedContent(text); ok {
		signals = append(signals, s)
	}
	if s, ok := suspiciousLanguageMixing(text); ok {
		signals = append(signals, s)
	}
	if s, ok := promptLikeStructure(lower); ok {
		signals = append(signals, s)
	}

	var score float64
	for _, s := range signals {
		score += s.Weight
	}
	if score > 1.0 {
		score = 1.0
	}
	return HeuristicResult{Score: score, Signals: signals}
}

// imperativeLines flags ≥3 lines starting with an imperative keyword.
func imperativeLines(lower string) (Signal, bool) {
	count := 0
	for _, line := range strings.Split(lower, "\n") {
		trimmed := strings.TrimSpace(line)
		for _, p := range imperativePrefixes {
			if strings.HasPrefix(trimmed, p) {
				count++
				break
			}
		}
	}
	if count >= 3 {
		return Signal{Name: "imperative_lines", Weight: 0.25}, true
	}
	return Signal{}, false
}

// roleAssignment flags ≥2 role-reassignment phrases.
func roleAssignment(lower string) (Signal, bool) {
	count := 0
	for _, p := range roleAssignmentPatterns {
		if strings.Contains(lower, p) {
			count++
		}
	}
	if count >= 2 {
		return Signal{Name: "role_assignment", Weight: 0.3}, true
	}
	return Signal{}, false
}

// boundaryMarkerSignal flags any system-prompt boundary marker.
func boundaryMarkerSignal(lower string) (Signal, bool) {
	for _, m := range boundaryMarkers {
		if strings.Contains(lower, m) {
			return Signal{Name: "boundary_markers", Weight: 0.4}, true
		}
	}
	return Signal{}, false
}

// encodedContent flags base64/hex blobs, or mixed Cyrillic+Latin text
// paired with instruction-like words.
func encodedContent(text string) (Signal, bool) {
	if base64Re.MatchString(text) || hexRe.MatchString(text) {
		return Signal{Name: "encoded_content", Weight: 0.2}, true
	}

	hasCyrillic, hasLatin := false, false
	for _, r := range text {
		if r >= 0x0400 && r <= 0x04FF {
			hasCyrillic = true
		}
		if unicode.IsLetter(r) && r < 128 {
			hasLatin = true
		}
	}
	if hasCyrillic && hasLatin {
		lower := strings.ToLower(text)
		for _, w := range encodedInstructionWords {
			if strings.Contains(lower, w) {
				return Signal{Name: "encoded_content", Weight: 0.2}, true
			}
		}
	}
	return Signal{}, false
}

// suspiciousLanguageMixing flags English instruction keywords embedded in
// predominantly non-ASCII text.
func suspiciousLanguageMixing(text string) (Signal, bool) {
	total := len([]rune(text))
	if total < 20 {
		return Signal{}, false
	}
	nonASCII := 0
	for _, r := range text {
		if r > 127 {
			nonASCII++
		}
	}
	ratio := float64(nonASCII) / float64(total)
	if ratio <= 0.4 {
		return Signal{}, false
	}
	lower := strings.ToLower(text)
	for _, kw := range languageMixingKeywords {
		if strings.Contains(lower, kw) {
			return Signal{Name: "language_mixing", Weight: 0.15}, true
		}
	}
	return Signal{}, false
}

// promptLikeStructure flags XML/JSON/YAML instruction-block markers.
func promptLikeStructure(lower string) (Signal, bool) {
	for _, m := range promptStructureMarkers {
		if strings.Contains(lower, m) {
			return Signal{Name: "prompt_structure", Weight: 0.2}, true
		}
	}
	return Signal{}, false
}
