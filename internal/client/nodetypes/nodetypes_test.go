package nodetypes

import (
	"testing"

	"github.com/dmitrijs2005/nodesync/internal/common"
	"github.com/dmitrijs2005/nodesync/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func node(t models.NodeType) *models.Node {
	return &models.Node{ID: string(t) + "-1", Type: t}
}

func TestCreate_ParentRules(t *testing.T) {
	tests := []struct {
		name    string
		typ     models.NodeType
		parent  *models.Node
		attrs   models.Attributes
		wantErr error
	}{
		{"space at root", models.NodeTypeSpace, nil, models.Attributes{"name": "Team"}, nil},
		{"space with parent", models.NodeTypeSpace, node(models.NodeTypeSpace), models.Attributes{"name": "x"}, common.ErrValidation},
		{"page under space", models.NodeTypePage, node(models.NodeTypeSpace), models.Attributes{"title": "Doc"}, nil},
		{"page without parent", models.NodeTypePage, nil, models.Attributes{"title": "Doc"}, common.ErrValidation},
		{"record under database", models.NodeTypeRecord, node(models.NodeTypeDatabase), models.Attributes{}, nil},
		{"record under page", models.NodeTypeRecord, node(models.NodeTypePage), models.Attributes{}, common.ErrValidation},
		{"message under record", models.NodeTypeMessage, node(models.NodeTypeRecord), models.Attributes{"text": "hi"}, nil},
		{"message under database", models.NodeTypeMessage, node(models.NodeTypeDatabase), models.Attributes{"text": "hi"}, common.ErrValidation},
		{"file under message", models.NodeTypeFile, node(models.NodeTypeMessage),
			models.Attributes{"name": "a.png", "mimeType": "image/png", "size": 10.0}, nil},
		{"unknown type", models.NodeType("folder"), node(models.NodeTypeSpace), models.Attributes{}, common.ErrValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Create(tt.typ, tt.parent, tt.attrs)
			if tt.wantErr == nil {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestCreate_DeletedParent(t *testing.T) {
	parent := node(models.NodeTypeSpace)
	parent.Deleted = true
	_, err := Create(models.NodeTypePage, parent, models.Attributes{"title": "x"})
	require.ErrorIs(t, err, common.ErrNodeDeleted)
}

func TestCreate_Normalizes(t *testing.T) {
	in := models.Attributes{"title": "  Hello  "}
	out, err := Create(models.NodeTypePage, node(models.NodeTypeSpace), in)
	require.NoError(t, err)
	assert.Equal(t, "Hello", out["title"])
	assert.Equal(t, "  Hello  ", in["title"], "input is not modified")
}

func TestCreate_AttributeValidation(t *testing.T) {
	space := node(models.NodeTypeSpace)

	_, err := Create(models.NodeTypeMessage, space, models.Attributes{"text": "   "})
	require.ErrorIs(t, err, common.ErrValidation)

	_, err = Create(models.NodeTypeFile, space, models.Attributes{"name": "a", "mimeType": "x/y", "size": -1.0})
	require.ErrorIs(t, err, common.ErrValidation)

	_, err = Create(models.NodeTypeFile, space, models.Attributes{"name": "a", "mimeType": "x/y", "size": 1.5})
	require.ErrorIs(t, err, common.ErrValidation)

	_, err = Create(models.NodeTypePage, space, models.Attributes{"title": "t", "content": "not a doc"})
	require.ErrorIs(t, err, common.ErrValidation)

	_, err = Create(models.NodeTypeRecord, node(models.NodeTypeDatabase), models.Attributes{"fields": "flat"})
	require.ErrorIs(t, err, common.ErrValidation)
}

func TestUpdate(t *testing.T) {
	old := models.Attributes{"title": "a", "icon": "x"}

	out, err := Update(models.NodeTypePage, old, models.Attributes{"icon": nil, "title": " b "})
	require.NoError(t, err)
	assert.Equal(t, models.Attributes{"title": "b"}, out)

	_, err = Update(models.NodeTypePage, old, models.Attributes{"title": nil})
	require.ErrorIs(t, err, common.ErrValidation, "required key cannot be removed")

	_, err = Update(models.NodeTypePage, old, models.Attributes{})
	require.ErrorIs(t, err, common.ErrValidation)
}

func TestMerge_Scalars(t *testing.T) {
	v, err := Merge(models.NodeTypePage, "title", "same", "same")
	require.NoError(t, err)
	assert.Equal(t, "same", v)

	_, err = Merge(models.NodeTypePage, "title", "a", "b")
	require.ErrorIs(t, err, common.ErrMergeConflict)

	_, err = Merge(models.NodeTypeMessage, ContentKey, "a", "b")
	require.ErrorIs(t, err, common.ErrMergeConflict, "only pages and records merge content")
}

func TestMerge_Content(t *testing.T) {
	base, err := NewContent("hello")
	require.NoError(t, err)

	text, err := ContentText(base)
	require.NoError(t, err)
	assert.Equal(t, "hello", text)

	edited, err := EditContent(base, "hello world")
	require.NoError(t, err)

	merged, err := Merge(models.NodeTypePage, ContentKey, base, edited)
	require.NoError(t, err)
	text, err = ContentText(merged.(string))
	require.NoError(t, err)
	assert.Equal(t, "hello world", text, "a descendant edit wins over its ancestor")

	left, err := EditContent(base, "left")
	require.NoError(t, err)
	right, err := EditContent(base, "right")
	require.NoError(t, err)

	ab, err := MergeContent(left, right)
	require.NoError(t, err)
	ba, err := MergeContent(right, left)
	require.NoError(t, err)

	textAB, err := ContentText(ab)
	require.NoError(t, err)
	textBA, err := ContentText(ba)
	require.NoError(t, err)
	assert.Equal(t, textAB, textBA, "merge is commutative")
	assert.Contains(t, []string{"left", "right"}, textAB)

	_, err = Merge(models.NodeTypeRecord, ContentKey, base, nil)
	require.ErrorIs(t, err, common.ErrMergeConflict)
}
