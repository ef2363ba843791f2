package types

import (
	"github.com/google/uuid"
)

// =============================================================================
// 📦 应用模式
// =============================================================================

// AppMode 应用模式
type AppMode string

const (
	AppModeAdvancedChat AppMode = "advanced-chat"
	AppModeWorkflow     AppMode = "workflow"
	AppModeChat         AppMode = "chat"
	AppModeCompletion   AppMode = "completion"
	AppModeAgentChat    AppMode = "agent-chat"
)

// IsWorkflowMode 判断该模式是否携带完整工作流（graph/features/环境变量）
func (m AppMode) IsWorkflowMode() bool {
	return m == AppModeWorkflow || m == AppModeAdvancedChat
}

// Valid 判断模式是否为已知模式
func (m AppMode) Valid() bool {
	switch m {
	case AppModeAdvancedChat, AppModeWorkflow, AppModeChat, AppModeCompletion, AppModeAgentChat:
		return true
	}
	return false
}

// 默认图标
const (
	DefaultIcon           = "🤖"
	DefaultIconType       = "emoji"
	DefaultIconBackground = "#FFEAD5"
)

// =============================================================================
// 📦 应用
// =============================================================================

// App 应用实体
type App struct {
	ID                  string `json:"id" yaml:"id"`
	Name                string `json:"name" yaml:"name"`
	Mode                string `json:"mode" yaml:"mode"`
	Icon                string `json:"icon" yaml:"icon"`
	IconType            string `json:"icon_type" yaml:"icon_type"`
	IconBackground      string `json:"icon_background" yaml:"icon_background"`
	Description         string `json:"description" yaml:"description"`
	UseIconAsAnswerIcon bool   `json:"use_icon_as_answer_icon" yaml:"use_icon_as_answer_icon"`
	TenantID            string `json:"tenant_id" yaml:"tenant_id"`
}

// NewDefaultApp 为没有后端记录的应用 ID 合成一个默认应用。
// 导出流程对任何已知 ID 都必须成功，因此缺失的应用以默认值补齐。
func NewDefaultApp(appID string) *App {
	return &App{
		ID:                  appID,
		Name:                "工作流应用 " + ShortID(appID),
		Mode:                string(AppModeWorkflow),
		Icon:                "🚀",
		IconType:            DefaultIconType,
		IconBackground:      "#E4FBCC",
		Description:         "这是一个示例工作流应用",
		UseIconAsAnswerIcon: false,
		TenantID:            uuid.NewString(),
	}
}

// ShortID 返回 ID 的前 8 位，用于展示名称
func ShortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// =============================================================================
// 📦 环境变量
// =============================================================================

// 环境变量值类型
const (
	EnvVarTypeString = "string"
	EnvVarTypeSecret = "secret"
)

// EnvironmentVariable 工作流环境变量。
// 名称在单个工作流内唯一；secret 类型的变量默认不出现在导出文档中。
type EnvironmentVariable struct {
	Name      string `json:"name" yaml:"name"`
	Value     string `json:"value" yaml:"value"`
	ValueType string `json:"value_type" yaml:"value_type"`
}

// IsSecret 判断是否为 secret 类型变量
func (v EnvironmentVariable) IsSecret() bool {
	return v.ValueType == EnvVarTypeSecret
}

// FilterEnvironmentVariables 按秘密策略过滤环境变量。
// includeSecret 为 false 时，secret 类型变量被剔除。
func FilterEnvironmentVariables(vars []EnvironmentVariable, includeSecret bool) []EnvironmentVariable {
	filtered := make([]EnvironmentVariable, 0, len(vars))
	for _, v := range vars {
		if v.IsSecret() && !includeSecret {
			continue
		}
		filtered = append(filtered, v)
	}
	return filtered
}

// =============================================================================
// 📦 工作流
// =============================================================================

// Workflow 工作流实体。
// graph 与 features 是不透明的结构化数据，原样透传（仅知识检索节点
// 在导出时经过一个占位转换点）。
type Workflow struct {
	ID                   string                `json:"id" yaml:"id"`
	AppID                string                `json:"app_id" yaml:"app_id"`
	Version              string                `json:"version" yaml:"version"`
	Graph                map[string]any        `json:"graph" yaml:"graph"`
	Features             map[string]any        `json:"features" yaml:"features"`
	EnvironmentVariables []EnvironmentVariable `json:"environment_variables" yaml:"environment_variables"`

	// 冗余的应用元数据，仅用于列表展示
	AppName        string `json:"app_name,omitempty" yaml:"app_name,omitempty"`
	AppDescription string `json:"app_description,omitempty" yaml:"app_description,omitempty"`
	AppMode        string `json:"app_mode,omitempty" yaml:"app_mode,omitempty"`

	// IsWorkflow 标记该应用是否为工作流类应用（列表展示用）
	IsWorkflow bool `json:"is_workflow,omitempty" yaml:"is_workflow,omitempty"`
}

// NodeCount 返回图中的节点数量
func (w *Workflow) NodeCount() int {
	nodes, ok := w.Graph["nodes"].([]any)
	if !ok {
		return 0
	}
	return len(nodes)
}

// HasSecretVariables 判断是否含有 secret 类型环境变量
func (w *Workflow) HasSecretVariables() bool {
	for _, v := range w.EnvironmentVariables {
		if v.IsSecret() {
			return true
		}
	}
	return false
}

// =============================================================================
// 📦 目标实例
// =============================================================================

// TargetInstance 远端导入目标实例（只读配置，不由本系统创建或修改）
type TargetInstance struct {
	ID        string       `json:"id" yaml:"id"`
	Name      string       `json:"name" yaml:"name"`
	URL       string       `json:"url" yaml:"url"`
	Auth      InstanceAuth `json:"auth" yaml:"auth"`
	IsDefault bool         `json:"is_default" yaml:"is_default"`
}

// InstanceAuth 目标实例认证配置
type InstanceAuth struct {
	// Type: bearer | api_key | basic
	Type string `json:"type" yaml:"type"`
	// Token bearer 认证令牌
	Token string `json:"token,omitempty" yaml:"token,omitempty"`
	// APIKey / APIKeyHeader api_key 认证
	APIKey       string `json:"api_key,omitempty" yaml:"api_key,omitempty"`
	APIKeyHeader string `json:"api_key_header,omitempty" yaml:"api_key_header,omitempty"`
	// Username / Password basic 认证
	Username string `json:"username,omitempty" yaml:"username,omitempty"`
	Password string `json:"password,omitempty" yaml:"password,omitempty"`
}

// =============================================================================
// 📦 导入结果
// =============================================================================

// ImportStatus 导入状态
type ImportStatus string

const (
	ImportStatusCompleted             ImportStatus = "completed"
	ImportStatusCompletedWithWarnings ImportStatus = "completed-with-warnings"
	ImportStatusPending               ImportStatus = "pending"
	ImportStatusFailed                ImportStatus = "failed"
)

// ImportResult 单次导入尝试的瞬态记录（仅存在于请求周期内，不落库）
type ImportResult struct {
	Success              bool         `json:"success"`
	ImportID             string       `json:"import_id,omitempty"`
	Status               ImportStatus `json:"status,omitempty"`
	AppID                string       `json:"app_id,omitempty"`
	AppMode              string       `json:"app_mode,omitempty"`
	CurrentDSLVersion    string       `json:"current_dsl_version,omitempty"`
	ImportedDSLVersion   string       `json:"imported_dsl_version,omitempty"`
	Warnings             []string     `json:"warnings,omitempty"`
	RequiresConfirmation bool         `json:"requires_confirmation,omitempty"`
	Error                string       `json:"error,omitempty"`
}

// FileImportResult 批量导入中单个文件的结果
type FileImportResult struct {
	Filename string       `json:"filename"`
	Success  bool         `json:"success"`
	AppID    string       `json:"app_id,omitempty"`
	AppName  string       `json:"app_name,omitempty"`
	ImportID string       `json:"import_id,omitempty"`
	Status   ImportStatus `json:"status,omitempty"`
	Error    string       `json:"error,omitempty"`
	Warnings []string     `json:"warnings,omitempty"`
}

// BatchImportResult 批量导入汇总。
// 部分文件失败时批次本身仍视为成功返回（PartialBatchFailure 语义）。
type BatchImportResult struct {
	Results      []FileImportResult `json:"results"`
	SuccessCount int                `json:"success_count"`
	FailedCount  int                `json:"failed_count"`
	WarningCount int                `json:"warning_count"`
	TotalCount   int                `json:"total_count"`
}
