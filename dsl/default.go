package dsl

import (
	"github.com/google/uuid"

	"github.com/BaSui01/flowport/types"
)

// DefaultWorkflow 为没有后端工作流的应用合成一个默认工作流。
// 三节点直线图（start → llm → end），导出对任何已知应用 ID 都必须成功。
func DefaultWorkflow(appID string) *types.Workflow {
	return &types.Workflow{
		ID:      uuid.NewString(),
		AppID:   appID,
		Version: CurrentDSLVersion,
		Graph: map[string]any{
			"nodes": []any{
				map[string]any{
					"id":   "start",
					"type": "start",
					"data": map[string]any{
						"type":      "start",
						"title":     "开始",
						"variables": []any{},
					},
					"position": map[string]any{"x": 100, "y": 100},
				},
				map[string]any{
					"id":   "llm",
					"type": "llm",
					"data": map[string]any{
						"type":  "llm",
						"title": "LLM",
						"model": map[string]any{
							"provider":          "openai",
							"name":              "gpt-3.5-turbo",
							"mode":              "chat",
							"completion_params": map[string]any{},
						},
						"prompt_template": []any{
							map[string]any{"role": "system", "text": "你是一个有用的AI助手。"},
							map[string]any{"role": "user", "text": "{{input}}"},
						},
					},
					"position": map[string]any{"x": 300, "y": 100},
				},
				map[string]any{
					"id":   "end",
					"type": "end",
					"data": map[string]any{
						"type":    "end",
						"title":   "结束",
						"outputs": map[string]any{},
					},
					"position": map[string]any{"x": 500, "y": 100},
				},
			},
			"edges": []any{
				map[string]any{
					"id":            "start-llm",
					"source":        "start",
					"target":        "llm",
					"source_handle": "source",
					"target_handle": "target",
				},
				map[string]any{
					"id":            "llm-end",
					"source":        "llm",
					"target":        "end",
					"source_handle": "source",
					"target_handle": "target",
				},
			},
		},
		Features: map[string]any{
			"file_upload": map[string]any{
				"image": map[string]any{
					"enabled":          false,
					"number_limits":    3,
					"detail":           "high",
					"transfer_methods": []any{"remote_url", "local_file"},
				},
			},
			"opening_statement":   "",
			"suggested_questions": []any{},
			"suggested_questions_after_answer": map[string]any{
				"enabled": false,
			},
			"speech_to_text": map[string]any{"enabled": false},
			"text_to_speech": map[string]any{"enabled": false},
			"citation":       map[string]any{"enabled": false},
			"moderation":     map[string]any{"enabled": false},
		},
		EnvironmentVariables: []types.EnvironmentVariable{
			{Name: "OPENAI_API_KEY", Value: "sk-test-key", ValueType: types.EnvVarTypeSecret},
			{Name: "SYSTEM_PROMPT", Value: "你是一个有用的AI助手", ValueType: types.EnvVarTypeString},
		},
	}
}
