package jsparser

import (
	sitter "github.com/tree-sitter/go-tree-sitter"
	tree_sitter_javascript "github.com/tree-sitter/tree-sitter-javascript/bindings/go"
)

// diagnosePosition recovers a 1-based line/column for an unparseable source
// by re-parsing it with tree-sitter, which always produces a tree and marks
// the broken regions with ERROR nodes.
func diagnosePosition(src string) (line, column int, ok bool) {
	parser := sitter.NewParser()
	defer parser.Close()

	if err := parser.SetLanguage(sitter.NewLanguage(tree_sitter_javascript.Language())); err != nil {
		return 0, 0, false
	}

	tree := parser.Parse([]byte(src), nil)
	if tree == nil {
		return 0, 0, false
	}
	defer tree.Close()

	errNode := firstErrorNode(tree.RootNode())
	if errNode == nil {
		return 0, 0, false
	}

	pos := errNode.StartPosition()
	// Tree-sitter uses 0-based lines and columns
	return int(pos.Row) + 1, int(pos.Column) + 1, true
}

func firstErrorNode(node *sitter.Node) *sitter.Node {
	if node == nil {
		return nil
	}
	if node.IsError() || node.IsMissing() {
		return node
	}
	for i := uint(0); i < node.ChildCount(); i++ {
		if found := firstErrorNode(node.Child(i)); found != nil {
			return found
		}
	}
	return nil
}
