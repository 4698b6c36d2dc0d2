package parser

import (
	"bytes"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/pdvrieze/ProcessManager-sub007/model"
	errors2 "github.com/pdvrieze/ProcessManager-sub007/server/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseProcessModel(t *testing.T) {
	b, err := os.ReadFile("testdata/testModel.xml")
	require.NoError(t, err)
	pm, err := Parse(bytes.NewBuffer(b))
	require.NoError(t, err)

	assert.Equal(t, "testModel", pm.Name)
	assert.Equal(t, "paul", pm.Owner)
	assert.Equal(t, "0f0a2b3c-4d5e-4f60-8172-839405a6b7c8", pm.UUID.String())
	assert.Len(t, pm.Nodes, 7)

	ac1 := pm.Node("ac1")
	require.NotNil(t, ac1)
	assert.Equal(t, model.KindActivity, ac1.Kind)
	assert.Equal(t, "Ask name", ac1.Label)
	assert.Equal(t, []model.ResultBinding{{Name: "user", Path: "/user"}}, ac1.Results)
	require.NotNil(t, ac1.Message)
	assert.Equal(t, "http://localhost:8080/tasks", ac1.Message.Destination)
	assert.Equal(t, "POST", ac1.Message.Method)
	assert.Equal(t, "application/xml", ac1.Message.ContentType)
	assert.True(t, strings.HasPrefix(ac1.Message.Body, "<umh:postTask"))
	assert.Equal(t, "http://adaptivity.nl/userMessageHandler", ac1.Message.Namespaces["umh"])
	assert.Equal(t, model.Namespace, ac1.Message.Namespaces["pe"])

	ac2 := pm.Node("ac2")
	require.NotNil(t, ac2)
	assert.Equal(t, `name != ""`, ac2.Condition)
	assert.Equal(t, []model.DefineBinding{{Name: "name", RefNode: "ac1", RefName: "user", Path: "/user/fullname/text()"}}, ac2.Defines)

	split := pm.Node("split1")
	assert.Equal(t, 2, split.Min)
	assert.Equal(t, 2, split.Max)
	assert.ElementsMatch(t, []string{"ac2", "ac3"}, split.Successors)

	join := pm.Node("j1")
	assert.Equal(t, []string{"ac2", "ac3"}, join.Predecessors)
	assert.Equal(t, []string{"end"}, join.Successors)
}

func TestParseRejectsInvalidJoin(t *testing.T) {
	b, err := os.ReadFile("testdata/badJoin.xml")
	require.NoError(t, err)
	_, err = Parse(bytes.NewBuffer(b))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors2.ErrInvalidModel))
}

func TestParseRejectsOtherDocuments(t *testing.T) {
	b, err := os.ReadFile("testdata/notAModel.xml")
	require.NoError(t, err)
	_, err = Parse(bytes.NewBuffer(b))
	assert.ErrorIs(t, err, ErrNotProcessModel)
}

func TestParseMissingThreshold(t *testing.T) {
	doc := `<pe:processModel xmlns:pe="http://adaptivity.nl/ProcessEngine/" name="x">
  <pe:start id="start"/>
  <pe:split id="s" predecessor="start" max="2"/>
</pe:processModel>`
	_, err := Parse(strings.NewReader(doc))
	var perr *ParserError
	require.True(t, errors.As(err, &perr))
	assert.ErrorIs(t, err, ErrMissingAttribute)
	assert.Equal(t, "s@min", perr.Context)
}
