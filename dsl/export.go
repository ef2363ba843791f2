package dsl

import (
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/flowport/types"
)

// =============================================================================
// 📤 DSL 导出引擎
// =============================================================================

// Exporter 将应用 + 工作流转换为可携带的 DSL 文档。
// 秘密过滤在这里做最终裁决：secret 变量只有在调用方显式要求时才进入输出。
type Exporter struct {
	logger *zap.Logger

	// now 可注入时钟，测试用
	now func() time.Time
}

// NewExporter 创建导出引擎
func NewExporter(logger *zap.Logger) *Exporter {
	return &Exporter{
		logger: logger.With(zap.String("component", "dsl_exporter")),
		now:    time.Now,
	}
}

// Export 导出为 YAML 字节串。
// workflow 为 nil 时合成默认三节点工作流，导出不会因缺工作流而失败。
func (e *Exporter) Export(app *types.App, workflow *types.Workflow, includeSecret bool) ([]byte, error) {
	doc, err := e.BuildDocument(app, workflow, includeSecret)
	if err != nil {
		return nil, err
	}
	return doc.Marshal()
}

// BuildDocument 构造导出文档
func (e *Exporter) BuildDocument(app *types.App, workflow *types.Workflow, includeSecret bool) (*Document, error) {
	if app == nil {
		return nil, types.NewError(types.ErrValidation, "app is required for export")
	}

	doc := &Document{
		Version: CurrentDSLVersion,
		Kind:    KindApp,
		App: AppSection{
			Name:                app.Name,
			Mode:                app.Mode,
			Icon:                app.Icon,
			IconBackground:      app.IconBackground,
			Description:         app.Description,
			UseIconAsAnswerIcon: app.UseIconAsAnswerIcon,
		},
	}

	// 图片图标无法随文档携带，退回固定 emoji
	if app.IconType == "image" {
		doc.App.Icon = types.DefaultIcon
		doc.App.IconBackground = types.DefaultIconBackground
	}

	if types.AppMode(app.Mode).IsWorkflowMode() {
		e.appendWorkflow(doc, app, workflow, includeSecret)
	} else {
		e.appendModelConfig(doc)
	}

	return doc, nil
}

// appendWorkflow 填充工作流段
func (e *Exporter) appendWorkflow(doc *Document, app *types.App, workflow *types.Workflow, includeSecret bool) {
	if workflow == nil {
		workflow = DefaultWorkflow(app.ID)
		e.logger.Info("no workflow found, synthesized default graph",
			zap.String("app_id", app.ID))
	}

	graph := workflow.Graph
	if graph == nil {
		graph = map[string]any{}
	}
	transformKnowledgeRetrievalNodes(graph)

	features := workflow.Features
	if features == nil {
		features = map[string]any{}
	}

	doc.Workflow = &WorkflowSection{
		Version:              workflow.Version,
		Graph:                graph,
		Features:             features,
		EnvironmentVariables: types.FilterEnvironmentVariables(workflow.EnvironmentVariables, includeSecret),
		Metadata: &ExportMetadata{
			AppID:      app.ID,
			WorkflowID: workflow.ID,
			Version:    workflow.Version,
			ExportedAt: e.now().UTC().Format(time.RFC3339),
		},
	}

	deps := []string{}
	doc.Dependencies = &deps
}

// appendModelConfig 填充会话类应用的占位模型配置段
func (e *Exporter) appendModelConfig(doc *Document) {
	doc.ModelConfig = &ModelConfig{
		Provider: "openai",
		Model:    "gpt-3.5-turbo",
		Mode:     "chat",
		Configs:  map[string]any{},
	}
}

// transformKnowledgeRetrievalNodes 知识检索节点的 dataset_ids 转换点。
// 目前原样透传，占位给后续的数据集 ID 重映射。
func transformKnowledgeRetrievalNodes(graph map[string]any) {
	nodes, ok := graph["nodes"].([]any)
	if !ok {
		return
	}
	for _, raw := range nodes {
		node, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		data, ok := node["data"].(map[string]any)
		if !ok {
			continue
		}
		if nodeType, _ := data["type"].(string); nodeType != "knowledge-retrieval" {
			continue
		}
		if datasetIDs, ok := data["dataset_ids"]; ok {
			data["dataset_ids"] = datasetIDs
		}
	}
}
