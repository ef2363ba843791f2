package connector

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/BaSui01/flowport/config"
	"github.com/BaSui01/flowport/types"
)

// 文件查找按固定顺序尝试扩展名，返回第一个命中
var manualFormats = []string{"json", "yaml", "yml"}

// 备份文件名里的时间戳格式
const backupTimestampLayout = "20060102_150405"

// =============================================================================
// 📁 手工文件连接器
// =============================================================================

// ManualConnector 以本地文件为后端的连接器。
// 每个应用对应数据目录下一个以应用 ID 命名的文档文件
// （<app_id>.json / .yaml / .yml）。覆盖写入前自动备份旧文件。
type ManualConnector struct {
	dataDir    string
	backupDir  string
	autoBackup bool
	logger     *zap.Logger
}

// NewManualConnector 创建手工文件连接器并初始化目录
func NewManualConnector(cfg config.ManualConfig, logger *zap.Logger) (*ManualConnector, error) {
	if cfg.DataDir == "" {
		return nil, types.NewError(types.ErrConfiguration, "manual.data_dir is required")
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, types.NewError(types.ErrConfiguration, "failed to create data dir").WithCause(err)
	}

	backupDir := cfg.BackupDir
	if backupDir == "" {
		backupDir = filepath.Join(cfg.DataDir, "backups")
	}
	if cfg.AutoBackup {
		if err := os.MkdirAll(backupDir, 0o755); err != nil {
			return nil, types.NewError(types.ErrConfiguration, "failed to create backup dir").WithCause(err)
		}
	}

	logger = logger.With(zap.String("component", "manual_connector"))
	logger.Info("manual connector initialized", zap.String("data_dir", cfg.DataDir))

	return &ManualConnector{
		dataDir:    cfg.DataDir,
		backupDir:  backupDir,
		autoBackup: cfg.AutoBackup,
		logger:     logger,
	}, nil
}

// Name 实现 Connector.Name
func (c *ManualConnector) Name() string { return config.DataSourceManual }

// =============================================================================
// 🎯 能力集实现
// =============================================================================

// GetApp 实现 Connector.GetApp
func (c *ManualConnector) GetApp(ctx context.Context, appID string) (*types.App, error) {
	doc, err := c.loadDocument(appID)
	if err != nil || doc == nil {
		return nil, err
	}

	appData, _ := doc["app"].(map[string]any)
	if appData == nil {
		c.logger.Warn("document missing app section", zap.String("app_id", appID))
		return nil, nil
	}

	app := &types.App{
		ID:             appID,
		Name:           "工作流应用 " + types.ShortID(appID),
		Mode:           string(types.AppModeWorkflow),
		Icon:           types.DefaultIcon,
		IconType:       types.DefaultIconType,
		IconBackground: types.DefaultIconBackground,
	}
	if name, ok := appData["name"].(string); ok && name != "" {
		app.Name = name
	}
	if mode, ok := appData["mode"].(string); ok && mode != "" {
		app.Mode = mode
	}
	if icon, ok := appData["icon"].(string); ok && icon != "" {
		app.Icon = icon
	}
	if iconType, ok := appData["icon_type"].(string); ok && iconType != "" {
		app.IconType = iconType
	}
	if bg, ok := appData["icon_background"].(string); ok && bg != "" {
		app.IconBackground = bg
	}
	if desc, ok := appData["description"].(string); ok {
		app.Description = desc
	}
	if use, ok := appData["use_icon_as_answer_icon"].(bool); ok {
		app.UseIconAsAnswerIcon = use
	}
	if tenant, ok := appData["tenant_id"].(string); ok {
		app.TenantID = tenant
	}

	return app, nil
}

// GetWorkflow 实现 Connector.GetWorkflow
func (c *ManualConnector) GetWorkflow(ctx context.Context, appID string) (*types.Workflow, error) {
	doc, err := c.loadDocument(appID)
	if err != nil || doc == nil {
		return nil, err
	}

	wfData, _ := doc["workflow"].(map[string]any)
	if wfData == nil {
		c.logger.Warn("document missing workflow section", zap.String("app_id", appID))
		return nil, nil
	}

	wf := &types.Workflow{
		ID:                   appID,
		AppID:                appID,
		Version:              "1.0",
		Graph:                map[string]any{},
		Features:             map[string]any{},
		EnvironmentVariables: parseEnvVarList(wfData["environment_variables"]),
	}
	if id, ok := wfData["id"].(string); ok && id != "" {
		wf.ID = id
	}
	if version, ok := wfData["version"].(string); ok && version != "" {
		wf.Version = version
	}
	if graph, ok := wfData["graph"].(map[string]any); ok {
		wf.Graph = graph
	}
	if features, ok := wfData["features"].(map[string]any); ok {
		wf.Features = features
	}

	if appData, ok := doc["app"].(map[string]any); ok {
		if name, ok := appData["name"].(string); ok {
			wf.AppName = name
		}
		if desc, ok := appData["description"].(string); ok {
			wf.AppDescription = desc
		}
		if mode, ok := appData["mode"].(string); ok {
			wf.AppMode = mode
		}
	}
	if wf.AppName == "" {
		wf.AppName = "工作流 " + types.ShortID(appID)
	}
	if wf.AppMode == "" {
		wf.AppMode = string(types.AppModeWorkflow)
	}
	wf.IsWorkflow = types.AppMode(wf.AppMode).IsWorkflowMode()

	return wf, nil
}

// ListWorkflows 实现 Connector.ListWorkflows
func (c *ManualConnector) ListWorkflows(ctx context.Context) ([]*types.Workflow, error) {
	appIDs, err := c.AvailableApps()
	if err != nil {
		return nil, err
	}

	workflows := make([]*types.Workflow, 0, len(appIDs))
	for _, appID := range appIDs {
		wf, err := c.GetWorkflow(ctx, appID)
		if err != nil {
			c.logger.Warn("failed to load workflow document, skipping",
				zap.String("app_id", appID), zap.Error(err))
			continue
		}
		if wf != nil {
			workflows = append(workflows, wf)
		}
	}
	return workflows, nil
}

// GetEnvironmentVariables 实现 Connector.GetEnvironmentVariables
func (c *ManualConnector) GetEnvironmentVariables(ctx context.Context, appID string) ([]types.EnvironmentVariable, error) {
	wf, err := c.GetWorkflow(ctx, appID)
	if err != nil {
		return nil, err
	}
	if wf == nil {
		return []types.EnvironmentVariable{}, nil
	}
	return wf.EnvironmentVariables, nil
}

// ListWorkflowsPaginated 实现 Connector.ListWorkflowsPaginated
func (c *ManualConnector) ListWorkflowsPaginated(ctx context.Context, page, pageSize int, search string) (*PageResult, error) {
	all, err := c.ListWorkflows(ctx)
	if err != nil {
		return nil, err
	}

	if search != "" {
		needle := strings.ToLower(search)
		filtered := make([]*types.Workflow, 0, len(all))
		for _, wf := range all {
			if strings.Contains(strings.ToLower(wf.AppName), needle) ||
				strings.Contains(strings.ToLower(wf.AppID), needle) ||
				strings.Contains(strings.ToLower(wf.AppDescription), needle) {
				filtered = append(filtered, wf)
			}
		}
		all = filtered
	}

	total := len(all)
	start := (page - 1) * pageSize
	if start > total {
		start = total
	}
	end := start + pageSize
	if end > total {
		end = total
	}

	return &PageResult{Workflows: all[start:end], Total: total}, nil
}

// TestConnection 实现 Connector.TestConnection
func (c *ManualConnector) TestConnection(ctx context.Context) error {
	if _, err := os.Stat(c.dataDir); err != nil {
		return types.NewError(types.ErrUpstreamUnavailable, "data dir not accessible").WithCause(err)
	}
	return nil
}

// Close 实现 Connector.Close
func (c *ManualConnector) Close() error { return nil }

// =============================================================================
// 📝 文档存储操作
// =============================================================================

// SaveDocument 校验并写入应用文档。
// 已存在同名文件时先做时间戳备份；备份失败只告警，不阻塞写入。
func (c *ManualConnector) SaveDocument(appID string, doc map[string]any, format string) error {
	if format != "json" && format != "yaml" {
		return types.NewError(types.ErrValidation, fmt.Sprintf("unsupported format: %s", format))
	}
	if err := validateDocument(doc); err != nil {
		return err
	}

	target := filepath.Join(c.dataDir, appID+"."+format)
	if _, err := os.Stat(target); err == nil {
		c.backupFile(appID, format)
	}

	var data []byte
	var err error
	if format == "yaml" {
		data, err = yaml.Marshal(doc)
	} else {
		data, err = json.MarshalIndent(doc, "", "  ")
	}
	if err != nil {
		return types.NewError(types.ErrInternalError, "failed to encode document").WithCause(err)
	}

	if err := os.WriteFile(target, data, 0o644); err != nil {
		return types.NewError(types.ErrInternalError, "failed to write document").WithCause(err)
	}

	c.logger.Info("document saved", zap.String("app_id", appID), zap.String("format", format))
	return nil
}

// DeleteApp 删除应用文档（删除前逐格式备份），返回是否实际删除了文件
func (c *ManualConnector) DeleteApp(appID string) (bool, error) {
	deleted := false
	for _, format := range manualFormats {
		path := filepath.Join(c.dataDir, appID+"."+format)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		c.backupFile(appID, format)
		if err := os.Remove(path); err != nil {
			return deleted, types.NewError(types.ErrInternalError, "failed to delete document").WithCause(err)
		}
		deleted = true
		c.logger.Info("document deleted", zap.String("path", path))
	}
	return deleted, nil
}

// AvailableApps 扫描数据目录返回可用的应用 ID 列表（按字典序）
func (c *ManualConnector) AvailableApps() ([]string, error) {
	entries, err := os.ReadDir(c.dataDir)
	if err != nil {
		return nil, types.NewError(types.ErrUpstreamUnavailable, "failed to scan data dir").WithCause(err)
	}

	seen := make(map[string]bool)
	var appIDs []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(entry.Name())), ".")
		if ext != "json" && ext != "yaml" && ext != "yml" {
			continue
		}
		stem := strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name()))
		if stem != "" && !seen[stem] {
			seen[stem] = true
			appIDs = append(appIDs, stem)
		}
	}

	sort.Strings(appIDs)
	return appIDs, nil
}

// StoreStats 文件存储统计
type StoreStats struct {
	TotalApps   int            `json:"total_apps"`
	TotalSize   int64          `json:"total_size"`
	LastUpdated *time.Time     `json:"last_updated,omitempty"`
	Formats     map[string]int `json:"formats"`
}

// Stats 返回文件存储统计信息
func (c *ManualConnector) Stats() (*StoreStats, error) {
	entries, err := os.ReadDir(c.dataDir)
	if err != nil {
		return nil, types.NewError(types.ErrUpstreamUnavailable, "failed to scan data dir").WithCause(err)
	}

	stats := &StoreStats{Formats: map[string]int{"json": 0, "yaml": 0, "yml": 0}}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(entry.Name())), ".")
		if _, ok := stats.Formats[ext]; !ok {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		stats.TotalApps++
		stats.TotalSize += info.Size()
		stats.Formats[ext]++
		mod := info.ModTime()
		if stats.LastUpdated == nil || mod.After(*stats.LastUpdated) {
			stats.LastUpdated = &mod
		}
	}
	return stats, nil
}

// =============================================================================
// 🔧 内部方法
// =============================================================================

// loadDocument 按扩展名固定顺序加载应用文档；全部缺失时返回 (nil, nil)
func (c *ManualConnector) loadDocument(appID string) (map[string]any, error) {
	for _, format := range manualFormats {
		path := filepath.Join(c.dataDir, appID+"."+format)
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, types.NewError(types.ErrUpstreamUnavailable, "failed to read document").WithCause(err)
		}

		var doc map[string]any
		if format == "json" {
			err = json.Unmarshal(data, &doc)
		} else {
			err = yaml.Unmarshal(data, &doc)
		}
		if err != nil {
			c.logger.Error("failed to parse document, trying next format",
				zap.String("path", path), zap.Error(err))
			continue
		}
		return doc, nil
	}
	return nil, nil
}

// backupFile 为既有文件生成时间戳备份副本；失败只记日志
func (c *ManualConnector) backupFile(appID, format string) {
	if !c.autoBackup {
		return
	}

	src := filepath.Join(c.dataDir, appID+"."+format)
	data, err := os.ReadFile(src)
	if err != nil {
		return
	}

	timestamp := time.Now().Format(backupTimestampLayout)
	dst := filepath.Join(c.backupDir, fmt.Sprintf("%s_%s.%s", appID, timestamp, format))

	if err := os.MkdirAll(c.backupDir, 0o755); err != nil {
		c.logger.Warn("backup dir unavailable, skipping backup", zap.Error(err))
		return
	}
	if err := os.WriteFile(dst, data, 0o644); err != nil {
		c.logger.Warn("backup failed, continuing without backup",
			zap.String("path", dst), zap.Error(err))
		return
	}
	c.logger.Info("existing document backed up", zap.String("path", dst))
}

// validateDocument 校验文档的必需结构
func validateDocument(doc map[string]any) error {
	appData, ok := doc["app"].(map[string]any)
	if !ok {
		return types.NewError(types.ErrValidation, "document missing required field: app")
	}
	wfData, ok := doc["workflow"].(map[string]any)
	if !ok {
		return types.NewError(types.ErrValidation, "document missing required field: workflow")
	}

	if name, ok := appData["name"].(string); !ok || name == "" {
		return types.NewError(types.ErrValidation, "app section missing name")
	}
	if mode, ok := appData["mode"].(string); !ok || mode == "" {
		return types.NewError(types.ErrValidation, "app section missing mode")
	}

	graph, ok := wfData["graph"].(map[string]any)
	if !ok {
		return types.NewError(types.ErrValidation, "workflow section missing graph")
	}
	if _, ok := graph["nodes"]; !ok {
		return types.NewError(types.ErrValidation, "workflow graph missing nodes")
	}
	if _, ok := graph["edges"]; !ok {
		return types.NewError(types.ErrValidation, "workflow graph missing edges")
	}
	return nil
}

// parseEnvVarList 解析文档中的环境变量列表
func parseEnvVarList(raw any) []types.EnvironmentVariable {
	entries, ok := raw.([]any)
	if !ok {
		return []types.EnvironmentVariable{}
	}

	vars := make([]types.EnvironmentVariable, 0, len(entries))
	for _, entry := range entries {
		m, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		v := types.EnvironmentVariable{ValueType: types.EnvVarTypeString}
		if name, ok := m["name"].(string); ok {
			v.Name = name
		}
		if value, ok := m["value"].(string); ok {
			v.Value = value
		}
		if vt, ok := m["value_type"].(string); ok && vt != "" {
			v.ValueType = vt
		}
		vars = append(vars, v)
	}
	return vars
}
