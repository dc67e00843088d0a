// Package validator decides whether generated Strudel code is safe to
// evaluate on the displays.
package validator

import (
	"context"
	"fmt"
	"regexp"
	"unicode/utf8"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/javascript"

	"vibepie/pkg/types"
)

// DefaultMaxLength caps generated code, in characters.
const DefaultMaxLength = 5000

var dangerousPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\bimport\s*\(`),
	regexp.MustCompile(`\brequire\s*\(`),
	regexp.MustCompile(`\beval\s*\(`),
	regexp.MustCompile(`\bnew\s+Function\s*\(`),
	regexp.MustCompile(`\bfetch\s*\(`),
	regexp.MustCompile(`\bwindow\b`),
	regexp.MustCompile(`\bdocument\b`),
	regexp.MustCompile(`\bglobalThis\b`),
	regexp.MustCompile(`\bprocess\b`),
	regexp.MustCompile(`\b__proto__\b`),
	regexp.MustCompile(`\bconstructor\s*\[`),
}

var bannedIdentifiers = map[string]bool{
	"fetch": true, "XMLHttpRequest": true, "import": true, "require": true, "eval": true,
	"Function": true, "window": true, "document": true, "globalThis": true, "self": true,
	"localStorage": true, "sessionStorage": true, "indexedDB": true,
	"WebSocket": true, "Worker": true, "SharedWorker": true, "ServiceWorker": true,
	"process": true, "child_process": true, "fs": true, "path": true, "os": true, "net": true, "http": true,
	"__dirname": true, "__filename": true,
	"alert": true, "confirm": true, "prompt": true,
	"setTimeout": true, "setInterval": true, "clearTimeout": true, "clearInterval": true,
	"location": true, "history": true, "navigator": true,
	"crypto": true, "Crypto": true,
}

// CodeValidator runs a regex fast path, then parses the code with
// tree-sitter and rejects banned constructs.
// Thread Safety: a parser is created per call.
type CodeValidator struct {
	maxLength int
}

func New(maxLength int) *CodeValidator {
	if maxLength <= 0 {
		maxLength = DefaultMaxLength
	}
	return &CodeValidator{maxLength: maxLength}
}

// Validate implements interfaces.Validator.
func (v *CodeValidator) Validate(ctx context.Context, code string) types.ValidationResult {
	if code == "" {
		return invalid("Empty or invalid code")
	}
	if utf8.RuneCountInString(code) > v.maxLength {
		return invalid(fmt.Sprintf("Code too long (max %d chars)", v.maxLength))
	}

	for _, pattern := range dangerousPatterns {
		if pattern.MatchString(code) {
			return invalid(fmt.Sprintf("Dangerous pattern detected: %s", pattern))
		}
	}

	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(javascript.GetLanguage())

	source := []byte(code)
	tree, err := parser.ParseCtx(ctx, nil, source)
	if err != nil {
		return invalid(fmt.Sprintf("Syntax error: %v", err))
	}
	defer tree.Close()

	root := tree.RootNode()
	if root.HasError() {
		return invalid(syntaxError(root))
	}

	if violation := walk(root, source); violation != "" {
		return invalid(violation)
	}
	return types.ValidationResult{Valid: true}
}

// walk returns the first violation found in a depth-first pass.
func walk(node *sitter.Node, source []byte) string {
	if node == nil {
		return ""
	}
	if violation := check(node, source); violation != "" {
		return violation
	}
	for i := uint32(0); i < node.ChildCount(); i++ {
		if violation := walk(node.Child(int(i)), source); violation != "" {
			return violation
		}
	}
	return ""
}

func check(node *sitter.Node, source []byte) string {
	switch node.Type() {
	case "import_statement":
		return "Import declarations not allowed"
	case "call_expression":
		fn := node.ChildByFieldName("function")
		if fn == nil {
			return ""
		}
		if fn.Type() == "import" {
			return "Dynamic imports not allowed"
		}
		if name, ok := bannedIdentifier(fn, source); ok {
			return fmt.Sprintf("Call to '%s' not allowed", name)
		}
	case "new_expression":
		if name, ok := bannedIdentifier(node.ChildByFieldName("constructor"), source); ok {
			return fmt.Sprintf("Instantiation of '%s' not allowed", name)
		}
	case "member_expression":
		if name, ok := bannedIdentifier(node.ChildByFieldName("object"), source); ok {
			return fmt.Sprintf("Access to '%s' not allowed", name)
		}
	case "assignment_expression":
		if name, ok := bannedIdentifier(node.ChildByFieldName("left"), source); ok {
			return fmt.Sprintf("Assignment to '%s' not allowed", name)
		}
	}
	return ""
}

func bannedIdentifier(node *sitter.Node, source []byte) (string, bool) {
	if node == nil || node.Type() != "identifier" {
		return "", false
	}
	name := string(source[node.StartByte():node.EndByte()])
	return name, bannedIdentifiers[name]
}

// syntaxError locates the first ERROR or MISSING node for the reason text.
func syntaxError(root *sitter.Node) string {
	var find func(n *sitter.Node) *sitter.Node
	find = func(n *sitter.Node) *sitter.Node {
		if n.IsError() || n.IsMissing() {
			return n
		}
		for i := uint32(0); i < n.ChildCount(); i++ {
			if found := find(n.Child(int(i))); found != nil {
				return found
			}
		}
		return nil
	}
	if bad := find(root); bad != nil {
		p := bad.StartPoint()
		return fmt.Sprintf("Syntax error at line %d column %d", p.Row+1, p.Column+1)
	}
	return "Syntax error"
}

func invalid(reason string) types.ValidationResult {
	return types.ValidationResult{Valid: false, Reason: reason}
}
