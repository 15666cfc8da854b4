package extractor

import (
	"context"
	"fmt"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"
)

// Reason classifies why a candidate was rejected.
type Reason string

const (
	ReasonNone    Reason = ""
	ReasonEmpty   Reason = "empty"
	ReasonNotCode Reason = "not_code"
	ReasonSyntax  Reason = "syntax"
)

// Validation is the outcome of the syntax gate.
type Validation struct {
	Valid   bool   `json:"valid"`
	Reason  Reason `json:"reason,omitempty"`
	Message string `json:"message,omitempty"`
}

var definitionKeywords = []string{"import ", "from ", "def ", "class "}

// Validate checks that code is plausibly a complete Python program.
//
// It never runs the code. The program is parsed with the tree-sitter Python
// grammar and any ERROR or MISSING node in the tree rejects it.
func Validate(ctx context.Context, code string) Validation {
	if strings.TrimSpace(code) == "" {
		return Validation{Reason: ReasonEmpty, Message: "empty code"}
	}

	hasDefinition := false
	for _, kw := range definitionKeywords {
		if strings.Contains(code, kw) {
			hasDefinition = true
			break
		}
	}
	hasSyntax := strings.ContainsAny(code, "()=")
	if !hasDefinition && !hasSyntax {
		return Validation{Reason: ReasonNotCode, Message: "does not look like code"}
	}

	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(python.GetLanguage())

	source := []byte(code)
	tree, err := parser.ParseCtx(ctx, nil, source)
	if err != nil {
		return Validation{Reason: ReasonSyntax, Message: fmt.Sprintf("validation error: %v", err)}
	}
	defer tree.Close()

	root := tree.RootNode()
	if !root.HasError() {
		return Validation{Valid: true}
	}

	return Validation{Reason: ReasonSyntax, Message: describeSyntaxError(root, source)}
}

// maxDepth bounds the error search on pathologically nested input.
const maxDepth = 1000

// describeSyntaxError reports the first ERROR or MISSING node in document order.
func describeSyntaxError(root *sitter.Node, source []byte) string {
	node := firstErrorNode(root, 0)
	if node == nil {
		return "syntax error"
	}

	point := node.StartPoint()
	line, col := int(point.Row)+1, int(point.Column)

	if node.IsMissing() {
		return fmt.Sprintf("syntax error: line %d, column %d: missing %q", line, col, node.Type())
	}

	snippet := node.Content(source)
	if i := strings.IndexByte(snippet, '\n'); i >= 0 {
		snippet = snippet[:i]
	}
	if len(snippet) > 40 {
		snippet = snippet[:40] + "..."
	}
	if snippet == "" {
		return fmt.Sprintf("syntax error: line %d, column %d", line, col)
	}
	return fmt.Sprintf("syntax error: line %d, column %d: unexpected %q", line, col, snippet)
}

func firstErrorNode(node *sitter.Node, depth int) *sitter.Node {
	if node == nil || depth > maxDepth {
		return nil
	}
	if node.IsError() || node.IsMissing() {
		return node
	}
	if !node.HasError() {
		return nil
	}
	for i := 0; i < int(node.ChildCount()); i++ {
		if found := firstErrorNode(node.Child(i), depth+1); found != nil {
			return found
		}
	}
	return nil
}
