// Package nodetypes holds the per-type attribute rules: what a node of each
// type must carry, where it may live in the tree, and how concurrent values of
// one attribute are merged.
//
// Dispatch is a switch over models.NodeType; there is no registry.
package nodetypes

import (
	"fmt"
	"math"
	"strings"

	"github.com/dmitrijs2005/nodesync/internal/common"
	"github.com/dmitrijs2005/nodesync/internal/models"
)

// ContentKey holds an automerge document for pages and records.
const ContentKey = "content"

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", common.ErrValidation, fmt.Sprintf(format, args...))
}

// Create validates the attributes of a new node of type t under parent
// (nil for a root) and returns the normalized attributes.
func Create(t models.NodeType, parent *models.Node, attrs models.Attributes) (models.Attributes, error) {
	if err := checkParent(t, parent); err != nil {
		return nil, err
	}
	return normalize(t, attrs.Clone())
}

// Update applies patch to old and returns the normalized result.
func Update(t models.NodeType, old, patch models.Attributes) (models.Attributes, error) {
	if len(patch) == 0 {
		return nil, invalid("empty update")
	}
	return normalize(t, models.ApplyDiff(old, patch))
}

func checkParent(t models.NodeType, parent *models.Node) error {
	if t == models.NodeTypeSpace {
		if parent != nil {
			return invalid("a space cannot have a parent")
		}
		return nil
	}
	if parent == nil {
		return invalid("%s requires a parent", t)
	}
	if parent.Deleted {
		return fmt.Errorf("parent %s: %w", parent.ID, common.ErrNodeDeleted)
	}

	var allowed []models.NodeType
	switch t {
	case models.NodeTypePage, models.NodeTypeDatabase:
		allowed = []models.NodeType{models.NodeTypeSpace, models.NodeTypePage}
	case models.NodeTypeRecord:
		allowed = []models.NodeType{models.NodeTypeDatabase}
	case models.NodeTypeMessage:
		allowed = []models.NodeType{models.NodeTypeSpace, models.NodeTypePage, models.NodeTypeRecord}
	case models.NodeTypeFile:
		allowed = []models.NodeType{models.NodeTypeSpace, models.NodeTypePage, models.NodeTypeRecord, models.NodeTypeMessage}
	default:
		return invalid("unknown node type %q", t)
	}
	for _, a := range allowed {
		if parent.Type == a {
			return nil
		}
	}
	return invalid("%s cannot be placed under %s", t, parent.Type)
}

func normalize(t models.NodeType, attrs models.Attributes) (models.Attributes, error) {
	switch t {
	case models.NodeTypeSpace, models.NodeTypeDatabase:
		if err := requireString(attrs, "name"); err != nil {
			return nil, err
		}
	case models.NodeTypePage:
		if err := requireString(attrs, "title"); err != nil {
			return nil, err
		}
		if err := optionalContent(attrs); err != nil {
			return nil, err
		}
	case models.NodeTypeRecord:
		if v, ok := attrs["fields"]; ok {
			if _, isMap := v.(map[string]any); !isMap {
				return nil, invalid("record fields must be an object")
			}
		}
		if err := optionalContent(attrs); err != nil {
			return nil, err
		}
	case models.NodeTypeMessage:
		if err := requireString(attrs, "text"); err != nil {
			return nil, err
		}
	case models.NodeTypeFile:
		if err := requireString(attrs, "name"); err != nil {
			return nil, err
		}
		if err := requireString(attrs, "mimeType"); err != nil {
			return nil, err
		}
		size, ok := number(attrs["size"])
		if !ok || size < 0 || size != math.Trunc(size) {
			return nil, invalid("file size must be a non-negative integer")
		}
		attrs["size"] = size
	default:
		return nil, invalid("unknown node type %q", t)
	}
	return attrs, nil
}

func requireString(attrs models.Attributes, key string) error {
	s, ok := attrs[key].(string)
	s = strings.TrimSpace(s)
	if !ok || s == "" {
		return invalid("%s is required", key)
	}
	attrs[key] = s
	return nil
}

func optionalContent(attrs models.Attributes) error {
	v, ok := attrs[ContentKey]
	if !ok {
		return nil
	}
	s, isString := v.(string)
	if !isString {
		return invalid("content must be an encoded document")
	}
	if _, err := loadContent(s); err != nil {
		return invalid("content: %v", err)
	}
	return nil
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

// Merge reconciles two concurrent values of one attribute key. It returns
// common.ErrMergeConflict when the type has no way to combine them.
func Merge(t models.NodeType, key string, server, local any) (any, error) {
	if models.Equal(server, local) {
		return local, nil
	}

	switch t {
	case models.NodeTypePage, models.NodeTypeRecord:
		if key == ContentKey {
			return mergeContentValues(server, local)
		}
	case models.NodeTypeSpace, models.NodeTypeDatabase, models.NodeTypeMessage, models.NodeTypeFile:
	}
	return nil, fmt.Errorf("%w: %s.%s", common.ErrMergeConflict, t, key)
}
