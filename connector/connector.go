// Package connector 实现三种可互换的数据源连接器：
// 数据库（直连 Dify 库）、远端 API（Dify 控制台接口）与手工文件（本地文档目录）。
//
// 三者实现同一能力集；记录不存在时返回空结果而不是错误。
// 每个进程通过配置 data_source 恰好选择一个连接器，所有上层读操作
// 都经由这一个连接器，不存在同一逻辑读跨两个后端的情况。
package connector

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/BaSui01/flowport/config"
	"github.com/BaSui01/flowport/internal/database"
	"github.com/BaSui01/flowport/types"
)

// =============================================================================
// 📦 连接器接口
// =============================================================================

// PageResult 分页查询结果
type PageResult struct {
	Workflows []*types.Workflow `json:"workflows"`
	Total     int               `json:"total"`
}

// Connector 数据源连接器的公共能力集。
// 所有实现约定：后端可达但记录不存在时返回 (nil, nil) 或空切片，
// 后端不可达或响应畸形时返回结构化错误。
type Connector interface {
	// Name 返回连接器类型名（database / api / manual）
	Name() string

	// GetApp 按应用 ID 获取应用
	GetApp(ctx context.Context, appID string) (*types.App, error)

	// GetWorkflow 按应用 ID 获取工作流；同一应用存在多条工作流记录时取最近更新的一条
	GetWorkflow(ctx context.Context, appID string) (*types.Workflow, error)

	// ListWorkflows 获取全部工作流
	ListWorkflows(ctx context.Context) ([]*types.Workflow, error)

	// GetEnvironmentVariables 按应用 ID 获取环境变量
	GetEnvironmentVariables(ctx context.Context, appID string) ([]types.EnvironmentVariable, error)

	// ListWorkflowsPaginated 分页获取工作流。
	// page 从 1 开始；search 对名称、ID、描述做大小写不敏感匹配。
	ListWorkflowsPaginated(ctx context.Context, page, pageSize int, search string) (*PageResult, error)

	// TestConnection 探测后端可用性
	TestConnection(ctx context.Context) error

	// Close 释放连接器持有的资源
	Close() error
}

// CacheInvalidator 可显式清除内部缓存的连接器实现此接口
type CacheInvalidator interface {
	ClearCache()
}

// =============================================================================
// 🎯 数据源选择
// =============================================================================

// Select 按配置解析出本进程唯一的活动连接器。
// 进程生命周期内只调用一次，结果显式注入到需要数据访问的组件。
func Select(cfg *config.Config, logger *zap.Logger) (Connector, error) {
	switch cfg.DataSource {
	case config.DataSourceDatabase:
		pool, err := database.Open(cfg.Database, logger)
		if err != nil {
			return nil, types.NewError(types.ErrConfiguration, "failed to open database").WithCause(err)
		}
		return NewDatabaseConnector(pool, cfg.Database, logger), nil

	case config.DataSourceAPI:
		return NewAPIConnector(cfg.API, logger)

	case config.DataSourceManual:
		return NewManualConnector(cfg.Manual, logger)

	default:
		return nil, types.NewError(types.ErrConfiguration,
			fmt.Sprintf("unknown data_source: %s", cfg.DataSource))
	}
}

// ClearCacheIfSupported 在连接器支持缓存时清除其缓存，返回是否执行了清除
func ClearCacheIfSupported(c Connector) bool {
	if ci, ok := c.(CacheInvalidator); ok {
		ci.ClearCache()
		return true
	}
	return false
}
