package dsl

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/flowport/types"
)

const validWorkflowYAML = `
version: "1.0"
kind: app
app:
  name: 审批流程
  mode: workflow
  icon: "🔧"
  icon_background: "#E4FBCC"
  description: 订单审批
workflow:
  version: "0.3.0"
  graph:
    nodes:
      - id: start
      - id: end
    edges:
      - id: start-end
  features: {}
  environment_variables: []
`

func TestParse(t *testing.T) {
	t.Run("合法文档", func(t *testing.T) {
		doc, err := Parse([]byte(validWorkflowYAML))
		require.NoError(t, err)
		assert.Equal(t, "审批流程", doc.App.Name)
		assert.Equal(t, "workflow", doc.App.Mode)
		require.NotNil(t, doc.Workflow)
		assert.Equal(t, "0.3.0", doc.Workflow.Version)
	})

	t.Run("会话类文档不要求工作流段", func(t *testing.T) {
		doc, err := Parse([]byte("app:\n  name: 客服\n  mode: chat\n"))
		require.NoError(t, err)
		assert.Nil(t, doc.Workflow)
	})

	t.Run("非法 YAML", func(t *testing.T) {
		_, err := Parse([]byte("{not yaml"))
		require.Error(t, err)
		assert.Equal(t, types.ErrValidation, types.GetErrorCode(err))
	})
}

func TestDocument_Validate(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"未知 kind", "kind: pipeline\napp:\n  name: x\n  mode: chat\n"},
		{"缺少应用名称", "app:\n  mode: chat\n"},
		{"缺少应用模式", "app:\n  name: x\n"},
		{"未知应用模式", "app:\n  name: x\n  mode: batch\n"},
		{"工作流模式缺少工作流段", "app:\n  name: x\n  mode: workflow\n"},
		{"工作流段缺少 graph", "app:\n  name: x\n  mode: workflow\nworkflow:\n  version: \"1.0\"\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.Equal(t, types.ErrValidation, types.GetErrorCode(err))
		})
	}
}

func TestDocument_MarshalRoundTrip(t *testing.T) {
	original, err := Parse([]byte(validWorkflowYAML))
	require.NoError(t, err)

	data, err := original.Marshal()
	require.NoError(t, err)

	parsed, err := Parse(data)
	require.NoError(t, err)
	assert.Equal(t, original.App, parsed.App)
	assert.Equal(t, original.Workflow.Version, parsed.Workflow.Version)
	assert.Equal(t, nodeIDs(original.Workflow.Graph), nodeIDs(parsed.Workflow.Graph))
}

func TestDocument_Info(t *testing.T) {
	doc, err := Parse([]byte(validWorkflowYAML))
	require.NoError(t, err)

	info := doc.Info()
	assert.Equal(t, "审批流程", info.Name)
	assert.Equal(t, "workflow", info.Mode)
	assert.Equal(t, "🔧", info.Icon)
	assert.Equal(t, 2, info.NodeCount)
}
