// Package extractor pulls runnable Python source out of free-form model replies.
//
// CONFIDENCE HIERARCHY:
// Models are asked to answer with a fenced code block, but they do not always
// comply. Extract tries the most trustworthy shape first and degrades:
//
//  1. fenced blocks (```python … ``` or bare ``` … ```), longest wins
//  2. <code> … </code> blocks, longest wins
//  3. a line classifier that keeps code-looking lines and drops narration
//  4. the whole reply, trimmed
//
// Explicit fencing is trusted fully. The line classifier is lossy and only
// runs when the model ignored the formatting instructions.
package extractor

import (
	"regexp"
	"strings"
)

// minClassifiedLength is the shortest line-classifier result worth returning.
const minClassifiedLength = 20

var codeTagPattern = regexp.MustCompile(`(?s)<code>(.*?)</code>`)

// narrativePrefixes mark lines that read like prose addressed to the user.
var narrativePrefixes = []string{
	"Here", "This", "The", "I", "You", "Let", "Now", "First", "Note:",
}

var statementPrefixes = []string{
	"import ", "from ", "def ", "class ", "if ", "for ", "while ", "@", "#",
}

var callPrefixes = []string{
	"print(", "return ", "yield ", "raise ", "try:", "except",
}

// pythonTags are the fence info strings treated as "this is our language".
var pythonTags = map[string]bool{
	"python":  true,
	"python3": true,
	"py":      true,
}

// Extract returns the best guess at the program contained in raw.
func Extract(raw string) string {
	if block, ok := longestFencedBlock(raw); ok {
		return block
	}

	if block, ok := longestCodeTag(raw); ok {
		return block
	}

	if code, ok := classifyLines(raw); ok {
		return code
	}

	return strings.TrimSpace(raw)
}

// fence is one closed ``` block found in the reply.
type fence struct {
	tagged bool
	body   string
}

// longestFencedBlock scans for fenced blocks opened by ``` (optionally tagged
// with a Python info string) and closed by a bare ``` line. Blocks tagged
// with another language are skipped. Python-tagged and bare blocks compete on
// length; a tie goes to the tagged block.
func longestFencedBlock(text string) (string, bool) {
	lines := strings.Split(text, "\n")

	var best *fence
	for i := 0; i < len(lines); i++ {
		opener := strings.TrimSpace(lines[i])
		if !strings.HasPrefix(opener, "```") {
			continue
		}

		tag := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(opener, "```")))

		closeAt := -1
		for j := i + 1; j < len(lines); j++ {
			if strings.TrimSpace(lines[j]) == "```" {
				closeAt = j
				break
			}
		}
		if closeAt < 0 {
			// Unclosed fence: nothing after it can be a complete block.
			break
		}

		if tag == "" || pythonTags[tag] {
			candidate := fence{
				tagged: tag != "",
				body:   strings.TrimSpace(strings.Join(lines[i+1:closeAt], "\n")),
			}
			if best == nil || longer(candidate, *best) {
				best = &candidate
			}
		}

		i = closeAt
	}

	if best == nil {
		return "", false
	}
	return best.body, true
}

func longer(a, b fence) bool {
	if len(a.body) != len(b.body) {
		return len(a.body) > len(b.body)
	}
	return a.tagged && !b.tagged
}

func longestCodeTag(text string) (string, bool) {
	matches := codeTagPattern.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return "", false
	}

	best := matches[0][1]
	for _, m := range matches[1:] {
		if len(m[1]) > len(best) {
			best = m[1]
		}
	}
	return strings.TrimSpace(best), true
}

// classifyLines walks the reply line by line, keeping anything that looks like
// Python. Once a code run has started, every non-narrative line is kept,
// including blank ones, so function bodies survive intact.
func classifyLines(text string) (string, bool) {
	var kept []string
	inCode := false

	for _, line := range strings.Split(text, "\n") {
		stripped := strings.TrimSpace(line)

		if hasAnyPrefix(stripped, narrativePrefixes) {
			continue
		}

		switch {
		case stripped != "" && (inCode || looksLikeCode(stripped)):
			kept = append(kept, line)
			inCode = true
		case inCode && stripped == "":
			kept = append(kept, line)
		}
	}

	if len(kept) == 0 {
		return "", false
	}

	extracted := strings.TrimSpace(strings.Join(kept, "\n"))
	if len(extracted) <= minClassifiedLength {
		return "", false
	}
	return extracted, true
}

func looksLikeCode(stripped string) bool {
	return hasAnyPrefix(stripped, statementPrefixes) ||
		strings.Contains(stripped, "=") ||
		hasAnyPrefix(stripped, callPrefixes)
}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}
