package correction

import (
	"context"
	"fmt"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/java"
)

// TreeSitterChecker rejects code containing ERROR or MISSING nodes.
type TreeSitterChecker struct {
	language *sitter.Language
}

// NewJavaSyntaxChecker returns a checker backed by the tree-sitter Java
// grammar.
func NewJavaSyntaxChecker() *TreeSitterChecker {
	return &TreeSitterChecker{language: java.GetLanguage()}
}

// Check parses code and reports the first syntax error found.
func (c *TreeSitterChecker) Check(ctx context.Context, code string) error {
	parser := sitter.NewParser()
	parser.SetLanguage(c.language)
	tree, err := parser.ParseCtx(ctx, nil, []byte(code))
	if err != nil {
		return fmt.Errorf("parse: %w", err)
	}
	defer tree.Close()
	if node := firstErrorNode(tree.RootNode()); node != nil {
		point := node.StartPoint()
		kind := "syntax error"
		if node.IsMissing() {
			kind = "missing " + node.Type()
		}
		return fmt.Errorf("%s at line %d column %d", kind, point.Row+1, point.Column+1)
	}
	return nil
}

func firstErrorNode(node *sitter.Node) *sitter.Node {
	if node == nil {
		return nil
	}
	if node.IsError() || node.IsMissing() {
		return node
	}
	for i := 0; i < int(node.ChildCount()); i++ {
		if found := firstErrorNode(node.Child(i)); found != nil {
			return found
		}
	}
	return nil
}
