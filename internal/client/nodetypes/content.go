package nodetypes

import (
	"encoding/base64"
	"fmt"

	"github.com/automerge/automerge-go"
	"github.com/dmitrijs2005/nodesync/internal/common"
)

const textPath = "text"

func loadContent(encoded string) (*automerge.Doc, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode content: %w", err)
	}
	doc, err := automerge.Load(raw)
	if err != nil {
		return nil, fmt.Errorf("load content: %w", err)
	}
	return doc, nil
}

func saveContent(doc *automerge.Doc) string {
	return base64.StdEncoding.EncodeToString(doc.Save())
}

// NewContent returns an encoded document holding text.
func NewContent(text string) (string, error) {
	return EditContent(saveContent(automerge.New()), text)
}

// EditContent records text as a new change on top of encoded, so the result
// still merges with concurrent edits of the same document.
func EditContent(encoded, text string) (string, error) {
	doc, err := loadContent(encoded)
	if err != nil {
		return "", err
	}
	if err := doc.Path(textPath).Set(text); err != nil {
		return "", fmt.Errorf("set content text: %w", err)
	}
	if _, err := doc.Commit("edit", automerge.CommitOptions{AllowEmpty: true}); err != nil {
		return "", fmt.Errorf("commit content: %w", err)
	}
	return saveContent(doc), nil
}

// ContentText returns the text stored in an encoded document.
func ContentText(encoded string) (string, error) {
	doc, err := loadContent(encoded)
	if err != nil {
		return "", err
	}
	text, err := automerge.As[string](doc.Path(textPath).Get())
	if err != nil {
		return "", fmt.Errorf("read content text: %w", err)
	}
	return text, nil
}

// MergeContent merges two encoded documents. The result holds the changes of
// both and does not depend on argument order.
func MergeContent(a, b string) (string, error) {
	left, err := loadContent(a)
	if err != nil {
		return "", err
	}
	right, err := loadContent(b)
	if err != nil {
		return "", err
	}
	if _, err := left.Merge(right); err != nil {
		return "", fmt.Errorf("merge content: %w", err)
	}
	return saveContent(left), nil
}

func mergeContentValues(server, local any) (any, error) {
	s, ok1 := server.(string)
	l, ok2 := local.(string)
	if !ok1 || !ok2 {
		return nil, fmt.Errorf("%w: content removed on one side", common.ErrMergeConflict)
	}
	merged, err := MergeContent(s, l)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrMergeConflict, err)
	}
	return merged, nil
}
