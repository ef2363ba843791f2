package connector

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/flowport/config"
	"github.com/BaSui01/flowport/internal/database"
	"github.com/BaSui01/flowport/types"
)

// =============================================================================
// 🗄️ 数据库连接器
// =============================================================================

// DatabaseConnector 直连 Dify 数据库的连接器。
// 每次读取都是一条参数化查询；JSON 列防御性解码，单行解码失败
// 降级为空结构而不是让整个读取失败。
type DatabaseConnector struct {
	pool           *database.PoolManager
	appsTable      string
	workflowsTable string
	logger         *zap.Logger
}

// NewDatabaseConnector 创建数据库连接器
func NewDatabaseConnector(pool *database.PoolManager, cfg config.DatabaseConfig, logger *zap.Logger) *DatabaseConnector {
	appsTable := cfg.AppsTable
	if appsTable == "" {
		appsTable = "apps"
	}
	workflowsTable := cfg.WorkflowsTable
	if workflowsTable == "" {
		workflowsTable = "workflows"
	}

	return &DatabaseConnector{
		pool:           pool,
		appsTable:      appsTable,
		workflowsTable: workflowsTable,
		logger:         logger.With(zap.String("component", "database_connector")),
	}
}

// Name 实现 Connector.Name
func (c *DatabaseConnector) Name() string { return config.DataSourceDatabase }

// appRow 应用表行
type appRow struct {
	ID                  string         `gorm:"column:id"`
	Name                string         `gorm:"column:name"`
	Mode                string         `gorm:"column:mode"`
	Icon                sql.NullString `gorm:"column:icon"`
	IconType            sql.NullString `gorm:"column:icon_type"`
	IconBackground      sql.NullString `gorm:"column:icon_background"`
	Description         sql.NullString `gorm:"column:description"`
	UseIconAsAnswerIcon sql.NullBool   `gorm:"column:use_icon_as_answer_icon"`
	TenantID            sql.NullString `gorm:"column:tenant_id"`
}

// workflowRow 工作流表行（含 LEFT JOIN 出来的应用元数据）
type workflowRow struct {
	ID                   string         `gorm:"column:id"`
	AppID                string         `gorm:"column:app_id"`
	Version              string         `gorm:"column:version"`
	Graph                []byte         `gorm:"column:graph"`
	Features             []byte         `gorm:"column:features"`
	EnvironmentVariables []byte         `gorm:"column:environment_variables"`
	AppName              sql.NullString `gorm:"column:app_name"`
	AppDescription       sql.NullString `gorm:"column:app_description"`
	AppMode              sql.NullString `gorm:"column:app_mode"`
}

// GetApp 实现 Connector.GetApp
func (c *DatabaseConnector) GetApp(ctx context.Context, appID string) (*types.App, error) {
	query := fmt.Sprintf(`SELECT id, name, mode, icon, icon_type, icon_background,
		description, use_icon_as_answer_icon, tenant_id
		FROM %s WHERE id = ?`, c.appsTable)

	var row appRow
	result := c.pool.DB().WithContext(ctx).Raw(query, appID).Scan(&row)
	if result.Error != nil {
		return nil, types.NewError(types.ErrUpstreamUnavailable, "failed to query app").WithCause(result.Error)
	}
	if result.RowsAffected == 0 {
		c.logger.Debug("app not found", zap.String("app_id", appID))
		return nil, nil
	}

	app := &types.App{
		ID:                  row.ID,
		Name:                row.Name,
		Mode:                row.Mode,
		Icon:                types.DefaultIcon,
		IconType:            types.DefaultIconType,
		IconBackground:      types.DefaultIconBackground,
		Description:         row.Description.String,
		UseIconAsAnswerIcon: row.UseIconAsAnswerIcon.Bool,
		TenantID:            row.TenantID.String,
	}
	if row.Icon.Valid && row.Icon.String != "" {
		app.Icon = row.Icon.String
	}
	if row.IconType.Valid && row.IconType.String != "" {
		app.IconType = row.IconType.String
	}
	if row.IconBackground.Valid && row.IconBackground.String != "" {
		app.IconBackground = row.IconBackground.String
	}

	return app, nil
}

// GetWorkflow 实现 Connector.GetWorkflow。
// 同一应用存在多条记录时取最近更新的一条。
func (c *DatabaseConnector) GetWorkflow(ctx context.Context, appID string) (*types.Workflow, error) {
	query := fmt.Sprintf(`SELECT id, app_id, version, graph, features, environment_variables
		FROM %s WHERE app_id = ? ORDER BY updated_at DESC LIMIT 1`, c.workflowsTable)

	var row workflowRow
	result := c.pool.DB().WithContext(ctx).Raw(query, appID).Scan(&row)
	if result.Error != nil {
		return nil, types.NewError(types.ErrUpstreamUnavailable, "failed to query workflow").WithCause(result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, nil
	}

	return c.rowToWorkflow(&row), nil
}

// ListWorkflows 实现 Connector.ListWorkflows。
// 每个应用只返回最近更新的一条工作流，与分页查询保持同一口径。
func (c *DatabaseConnector) ListWorkflows(ctx context.Context) ([]*types.Workflow, error) {
	query := c.latestPerAppQuery("") + " ORDER BY wf.updated_at DESC"

	var rows []workflowRow
	result := c.pool.DB().WithContext(ctx).Raw(query).Scan(&rows)
	if result.Error != nil {
		return nil, types.NewError(types.ErrUpstreamUnavailable, "failed to list workflows").WithCause(result.Error)
	}

	workflows := make([]*types.Workflow, 0, len(rows))
	for i := range rows {
		workflows = append(workflows, c.rowToWorkflow(&rows[i]))
	}
	return workflows, nil
}

// GetEnvironmentVariables 实现 Connector.GetEnvironmentVariables
func (c *DatabaseConnector) GetEnvironmentVariables(ctx context.Context, appID string) ([]types.EnvironmentVariable, error) {
	query := fmt.Sprintf(`SELECT environment_variables FROM %s
		WHERE app_id = ? ORDER BY updated_at DESC LIMIT 1`, c.workflowsTable)

	var row struct {
		EnvironmentVariables []byte `gorm:"column:environment_variables"`
	}
	result := c.pool.DB().WithContext(ctx).Raw(query, appID).Scan(&row)
	if result.Error != nil {
		return nil, types.NewError(types.ErrUpstreamUnavailable, "failed to query environment variables").WithCause(result.Error)
	}
	if result.RowsAffected == 0 {
		return []types.EnvironmentVariable{}, nil
	}

	return c.parseEnvVars(row.EnvironmentVariables), nil
}

// ListWorkflowsPaginated 实现 Connector.ListWorkflowsPaginated
func (c *DatabaseConnector) ListWorkflowsPaginated(ctx context.Context, page, pageSize int, search string) (*PageResult, error) {
	offset := (page - 1) * pageSize

	searchCond := ""
	var searchParams []any
	if search != "" {
		searchCond = ` WHERE (LOWER(a.name) LIKE ? OR LOWER(wf.app_id) LIKE ? OR LOWER(a.description) LIKE ?)`
		pattern := "%" + strings.ToLower(search) + "%"
		searchParams = []any{pattern, pattern, pattern}
	}

	countQuery := fmt.Sprintf(`SELECT COUNT(DISTINCT wf.app_id) FROM %s wf
		LEFT JOIN %s a ON wf.app_id = a.id`, c.workflowsTable, c.appsTable) + searchCond

	var total int64
	if err := c.pool.DB().WithContext(ctx).Raw(countQuery, searchParams...).Scan(&total).Error; err != nil {
		return nil, types.NewError(types.ErrUpstreamUnavailable, "failed to count workflows").WithCause(err)
	}

	dataQuery := c.latestPerAppQuery(searchCond) + " ORDER BY wf.updated_at DESC LIMIT ? OFFSET ?"
	dataParams := append(append([]any{}, searchParams...), pageSize, offset)

	var rows []workflowRow
	if err := c.pool.DB().WithContext(ctx).Raw(dataQuery, dataParams...).Scan(&rows).Error; err != nil {
		return nil, types.NewError(types.ErrUpstreamUnavailable, "failed to query workflows page").WithCause(err)
	}

	workflows := make([]*types.Workflow, 0, len(rows))
	for i := range rows {
		workflows = append(workflows, c.rowToWorkflow(&rows[i]))
	}

	return &PageResult{Workflows: workflows, Total: int(total)}, nil
}

// TestConnection 实现 Connector.TestConnection
func (c *DatabaseConnector) TestConnection(ctx context.Context) error {
	if err := c.pool.Ping(ctx); err != nil {
		return types.NewError(types.ErrUpstreamUnavailable, "database ping failed").WithCause(err)
	}
	return nil
}

// Close 实现 Connector.Close
func (c *DatabaseConnector) Close() error {
	return c.pool.Close()
}

// =============================================================================
// 🔧 内部方法
// =============================================================================

// latestPerAppQuery 构造“每个应用取最近更新的一条工作流”的查询主体。
// 可移植写法（postgres/mysql/sqlite 通吃），不依赖 DISTINCT ON。
func (c *DatabaseConnector) latestPerAppQuery(searchCond string) string {
	return fmt.Sprintf(`SELECT wf.id, wf.app_id, wf.version, wf.graph, wf.features,
		wf.environment_variables,
		a.name AS app_name, a.description AS app_description, a.mode AS app_mode
		FROM %s wf
		INNER JOIN (SELECT app_id, MAX(updated_at) AS max_updated_at FROM %s GROUP BY app_id) latest
			ON wf.app_id = latest.app_id AND wf.updated_at = latest.max_updated_at
		LEFT JOIN %s a ON wf.app_id = a.id`,
		c.workflowsTable, c.workflowsTable, c.appsTable) + searchCond
}

// rowToWorkflow 将行数据转换为工作流实体
func (c *DatabaseConnector) rowToWorkflow(row *workflowRow) *types.Workflow {
	wf := &types.Workflow{
		ID:                   row.ID,
		AppID:                row.AppID,
		Version:              row.Version,
		Graph:                c.parseJSONMap(row.Graph, row.ID, "graph"),
		Features:             c.parseJSONMap(row.Features, row.ID, "features"),
		EnvironmentVariables: c.parseEnvVars(row.EnvironmentVariables),
	}

	wf.AppName = row.AppName.String
	if wf.AppName == "" {
		wf.AppName = "工作流 " + types.ShortID(row.AppID)
	}
	wf.AppDescription = row.AppDescription.String
	wf.AppMode = row.AppMode.String
	if wf.AppMode == "" {
		wf.AppMode = string(types.AppModeWorkflow)
	}
	wf.IsWorkflow = types.AppMode(wf.AppMode).IsWorkflowMode()

	return wf
}

// parseJSONMap 防御性解析 JSON 对象列；畸形值降级为空对象
func (c *DatabaseConnector) parseJSONMap(raw []byte, workflowID, column string) map[string]any {
	if len(raw) == 0 {
		return map[string]any{}
	}

	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		c.logger.Warn("malformed JSON column, using empty object",
			zap.String("workflow_id", workflowID),
			zap.String("column", column),
			zap.Error(err),
		)
		return map[string]any{}
	}
	if m == nil {
		return map[string]any{}
	}
	return m
}

// parseEnvVars 防御性解析环境变量列；畸形值或非对象元素被跳过
func (c *DatabaseConnector) parseEnvVars(raw []byte) []types.EnvironmentVariable {
	if len(raw) == 0 {
		return []types.EnvironmentVariable{}
	}

	var entries []map[string]any
	if err := json.Unmarshal(raw, &entries); err != nil {
		c.logger.Warn("malformed environment_variables column, using empty list", zap.Error(err))
		return []types.EnvironmentVariable{}
	}

	vars := make([]types.EnvironmentVariable, 0, len(entries))
	for _, entry := range entries {
		v := types.EnvironmentVariable{ValueType: types.EnvVarTypeString}
		if name, ok := entry["name"].(string); ok {
			v.Name = name
		}
		if value, ok := entry["value"].(string); ok {
			v.Value = value
		}
		if vt, ok := entry["value_type"].(string); ok && vt != "" {
			v.ValueType = vt
		}
		vars = append(vars, v)
	}
	return vars
}
