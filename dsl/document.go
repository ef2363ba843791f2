// Package dsl 定义导出文档的结构与编解码。
// 文档是带版本号的 YAML：顶层 version / kind / app，外加 workflow
// （工作流类应用）或 model_config（会话类应用）二选一。
package dsl

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/BaSui01/flowport/types"
)

// 当前 DSL 模式版本
const CurrentDSLVersion = "1.0"

// KindApp 应用类文档的 kind 标记
const KindApp = "app"

// =============================================================================
// 📦 文档结构
// =============================================================================

// Document 导出文档
type Document struct {
	Version      string           `yaml:"version" json:"version"`
	Kind         string           `yaml:"kind" json:"kind"`
	App          AppSection       `yaml:"app" json:"app"`
	Workflow     *WorkflowSection `yaml:"workflow,omitempty" json:"workflow,omitempty"`
	ModelConfig  *ModelConfig     `yaml:"model_config,omitempty" json:"model_config,omitempty"`
	Dependencies *[]string        `yaml:"dependencies,omitempty" json:"dependencies,omitempty"`
}

// AppSection 文档中的应用元数据段
type AppSection struct {
	Name                string `yaml:"name" json:"name"`
	Mode                string `yaml:"mode" json:"mode"`
	Icon                string `yaml:"icon" json:"icon"`
	IconBackground      string `yaml:"icon_background" json:"icon_background"`
	Description         string `yaml:"description" json:"description"`
	UseIconAsAnswerIcon bool   `yaml:"use_icon_as_answer_icon" json:"use_icon_as_answer_icon"`
}

// WorkflowSection 文档中的工作流段
type WorkflowSection struct {
	Version              string                      `yaml:"version" json:"version"`
	Graph                map[string]any              `yaml:"graph" json:"graph"`
	Features             map[string]any              `yaml:"features" json:"features"`
	EnvironmentVariables []types.EnvironmentVariable `yaml:"environment_variables" json:"environment_variables"`
	Metadata             *ExportMetadata             `yaml:"metadata,omitempty" json:"metadata,omitempty"`
}

// ExportMetadata 导出时盖在工作流段上的溯源信息
type ExportMetadata struct {
	AppID      string `yaml:"app_id" json:"app_id"`
	WorkflowID string `yaml:"workflow_id" json:"workflow_id"`
	Version    string `yaml:"version" json:"version"`
	ExportedAt string `yaml:"exported_at" json:"exported_at"`
}

// ModelConfig 会话类应用的占位模型配置段
type ModelConfig struct {
	Provider string         `yaml:"provider" json:"provider"`
	Model    string         `yaml:"model" json:"model"`
	Mode     string         `yaml:"mode" json:"mode"`
	Configs  map[string]any `yaml:"configs" json:"configs"`
}

// =============================================================================
// 🔄 编解码
// =============================================================================

// Marshal 序列化为 YAML
func (d *Document) Marshal() ([]byte, error) {
	data, err := yaml.Marshal(d)
	if err != nil {
		return nil, types.NewError(types.ErrInternalError, "failed to encode document").WithCause(err)
	}
	return data, nil
}

// Parse 解析 YAML 文档并做结构校验
func Parse(data []byte) (*Document, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, types.NewError(types.ErrValidation, "invalid YAML document").WithCause(err)
	}
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	return &doc, nil
}

// Validate 校验文档的必需结构
func (d *Document) Validate() error {
	if d.Kind != "" && d.Kind != KindApp {
		return types.NewError(types.ErrValidation, fmt.Sprintf("unsupported document kind: %q", d.Kind))
	}
	if d.App.Name == "" {
		return types.NewError(types.ErrValidation, "document missing app name")
	}
	if d.App.Mode == "" {
		return types.NewError(types.ErrValidation, "document missing app mode")
	}
	if !types.AppMode(d.App.Mode).Valid() {
		return types.NewError(types.ErrValidation, fmt.Sprintf("unknown app mode: %q", d.App.Mode))
	}
	if types.AppMode(d.App.Mode).IsWorkflowMode() {
		if d.Workflow == nil {
			return types.NewError(types.ErrValidation, "workflow-mode document missing workflow section")
		}
		if d.Workflow.Graph == nil {
			return types.NewError(types.ErrValidation, "workflow section missing graph")
		}
	}
	return nil
}

// AppInfo 文档预览信息（校验端点返回给调用方）
type AppInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Mode        string `json:"mode"`
	Icon        string `json:"icon"`
	NodeCount   int    `json:"node_count"`
}

// Info 提取文档的预览信息
func (d *Document) Info() AppInfo {
	info := AppInfo{
		Name:        d.App.Name,
		Description: d.App.Description,
		Mode:        d.App.Mode,
		Icon:        d.App.Icon,
	}
	if d.Workflow != nil {
		if nodes, ok := d.Workflow.Graph["nodes"].([]any); ok {
			info.NodeCount = len(nodes)
		}
	}
	return info
}
