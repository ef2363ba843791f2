// Package workflow 提供工作流读取与导出的编排层。
// 分页参数在这里统一夹取，连接器保持原样透传。
package workflow

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"
	"unicode"

	"go.uber.org/zap"

	"github.com/BaSui01/flowport/connector"
	"github.com/BaSui01/flowport/dsl"
	"github.com/BaSui01/flowport/internal/cache"
	"github.com/BaSui01/flowport/internal/metrics"
	"github.com/BaSui01/flowport/types"
)

// 分页参数边界
const (
	MinPageSize     = 5
	MaxPageSize     = 100
	DefaultPageSize = 20
)

// 模式统计的 redis 缓存键与 TTL
const (
	statsCacheKey = "flowport:workflow:stats"
	statsCacheTTL = 5 * time.Minute
)

// =============================================================================
// 🧩 工作流服务
// =============================================================================

// Service 工作流编排服务
type Service struct {
	conn     connector.Connector
	exporter *dsl.Exporter
	cache    *cache.Manager
	metrics  *metrics.Collector
	logger   *zap.Logger

	// now 可注入时钟，测试用
	now func() time.Time
}

// Option 服务可选依赖
type Option func(*Service)

// WithCache 启用跨请求的 redis 统计缓存
func WithCache(c *cache.Manager) Option {
	return func(s *Service) { s.cache = c }
}

// WithMetrics 启用指标采集
func WithMetrics(m *metrics.Collector) Option {
	return func(s *Service) { s.metrics = m }
}

// NewService 创建工作流服务
func NewService(conn connector.Connector, exporter *dsl.Exporter, logger *zap.Logger, opts ...Option) *Service {
	s := &Service{
		conn:     conn,
		exporter: exporter,
		logger:   logger.With(zap.String("component", "workflow_service")),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// =============================================================================
// 📄 分页列表
// =============================================================================

// ClampPage 页码下限为 1
func ClampPage(page int) int {
	if page < 1 {
		return 1
	}
	return page
}

// ClampPageSize 每页条数夹取到 [5, 100]
func ClampPageSize(pageSize int) int {
	if pageSize < MinPageSize {
		return MinPageSize
	}
	if pageSize > MaxPageSize {
		return MaxPageSize
	}
	return pageSize
}

// WorkflowSummary 列表里的一条工作流摘要
type WorkflowSummary struct {
	ID                 string `json:"id"`
	AppID              string `json:"app_id"`
	AppName            string `json:"app_name"`
	Name               string `json:"name"`
	Version            string `json:"version"`
	NodeCount          int    `json:"node_count"`
	HasSecretVariables bool   `json:"has_secret_variables"`
	LastModified       string `json:"last_modified"`
	Description        string `json:"description"`
	AppMode            string `json:"app_mode"`
	IsWorkflow         bool   `json:"is_workflow"`
}

// Pagination 分页元信息
type Pagination struct {
	Page       int  `json:"page"`
	PageSize   int  `json:"page_size"`
	Total      int  `json:"total"`
	TotalPages int  `json:"total_pages"`
	HasNext    bool `json:"has_next"`
	HasPrev    bool `json:"has_prev"`
}

// ListResult 分页列表响应
type ListResult struct {
	Workflows  []WorkflowSummary `json:"workflows"`
	Pagination Pagination        `json:"pagination"`
	Stats      map[string]int    `json:"stats"`
}

// ListWorkflows 返回分页工作流列表 + 全量模式统计。
// page/page_size 先夹取再下推；搜索词为空时统计可走 redis 缓存。
func (s *Service) ListWorkflows(ctx context.Context, page, pageSize int, search string) (*ListResult, error) {
	page = ClampPage(page)
	pageSize = ClampPageSize(pageSize)
	search = strings.TrimSpace(search)

	start := s.now()
	result, err := s.conn.ListWorkflowsPaginated(ctx, page, pageSize, search)
	s.recordQuery("list_paginated", start, err)
	if err != nil {
		return nil, err
	}

	summaries := make([]WorkflowSummary, 0, len(result.Workflows))
	for _, wf := range result.Workflows {
		summaries = append(summaries, WorkflowSummary{
			ID:                 wf.ID,
			AppID:              wf.AppID,
			AppName:            wf.AppName,
			Name:               wf.AppName,
			Version:            wf.Version,
			NodeCount:          wf.NodeCount(),
			HasSecretVariables: wf.HasSecretVariables(),
			LastModified:       s.now().Format(time.RFC3339),
			Description:        wf.AppDescription,
			AppMode:            wf.AppMode,
			IsWorkflow:         wf.IsWorkflow,
		})
	}

	stats, err := s.modeStats(ctx, search, result.Total)
	if err != nil {
		// 统计失败不影响列表主体
		s.logger.Warn("failed to compute mode stats", zap.Error(err))
		stats = map[string]int{}
	}

	totalPages := (result.Total + pageSize - 1) / pageSize

	return &ListResult{
		Workflows: summaries,
		Pagination: Pagination{
			Page:       page,
			PageSize:   pageSize,
			Total:      result.Total,
			TotalPages: totalPages,
			HasNext:    page < totalPages,
			HasPrev:    page > 1,
		},
		Stats: stats,
	}, nil
}

// modeStats 统计匹配结果的应用模式分布
func (s *Service) modeStats(ctx context.Context, search string, total int) (map[string]int, error) {
	cacheable := search == "" && s.cache != nil
	if cacheable {
		var cached map[string]int
		if err := s.cache.GetJSON(ctx, statsCacheKey, &cached); err == nil {
			s.recordCache("stats", true)
			return cached, nil
		}
		s.recordCache("stats", false)
	}

	if total <= 0 {
		return map[string]int{}, nil
	}

	full, err := s.conn.ListWorkflowsPaginated(ctx, 1, total, search)
	if err != nil {
		return nil, err
	}

	stats := make(map[string]int)
	for _, wf := range full.Workflows {
		mode := wf.AppMode
		if mode == "" {
			mode = string(types.AppModeWorkflow)
		}
		stats[mode]++
	}

	if cacheable {
		if err := s.cache.SetJSON(ctx, statsCacheKey, stats, statsCacheTTL); err != nil {
			s.logger.Debug("failed to cache mode stats", zap.Error(err))
		}
	}

	return stats, nil
}

// =============================================================================
// 📄 单条读取
// =============================================================================

// GetDraftWorkflow 获取应用的草稿工作流；不存在时合成默认工作流
func (s *Service) GetDraftWorkflow(ctx context.Context, appID string) (*types.Workflow, error) {
	start := s.now()
	wf, err := s.conn.GetWorkflow(ctx, appID)
	s.recordQuery("get_workflow", start, err)
	if err != nil {
		return nil, err
	}
	if wf == nil {
		s.logger.Info("workflow not found, synthesizing default", zap.String("app_id", appID))
		wf = dsl.DefaultWorkflow(appID)
	}
	return wf, nil
}

// GetOrCreateApp 获取应用；没有后端记录时合成默认应用
func (s *Service) GetOrCreateApp(ctx context.Context, appID string) (*types.App, error) {
	start := s.now()
	app, err := s.conn.GetApp(ctx, appID)
	s.recordQuery("get_app", start, err)
	if err != nil {
		return nil, err
	}
	if app == nil {
		app = types.NewDefaultApp(appID)
	}
	return app, nil
}

// TestConnection 探测当前激活数据源的连通性
func (s *Service) TestConnection(ctx context.Context) error {
	return s.conn.TestConnection(ctx)
}

// SourceName 返回当前激活的数据源名称
func (s *Service) SourceName() string {
	return s.conn.Name()
}

// RefreshCache 清除数据源缓存与 redis 统计缓存
func (s *Service) RefreshCache(ctx context.Context) {
	connector.ClearCacheIfSupported(s.conn)
	if s.cache != nil {
		if err := s.cache.Delete(ctx, statsCacheKey); err != nil {
			s.logger.Debug("failed to drop stats cache", zap.Error(err))
		}
	}
	s.logger.Info("caches cleared")
}

// =============================================================================
// 📤 导出编排
// =============================================================================

// ExportResult 单个应用的导出结果
type ExportResult struct {
	AppID        string `json:"app_id"`
	Success      bool   `json:"success"`
	Data         string `json:"data,omitempty"`
	Filename     string `json:"filename,omitempty"`
	WorkflowName string `json:"workflow_name"`
	Error        string `json:"error,omitempty"`
}

// ExportApp 导出单个应用的 DSL 文档。
// 应用或工作流缺失都不阻塞导出：缺失的部分用默认值合成。
func (s *Service) ExportApp(ctx context.Context, appID string, includeSecret bool) (*ExportResult, error) {
	start := s.now()

	app, err := s.GetOrCreateApp(ctx, appID)
	if err != nil {
		s.recordExport("unknown", "error", start)
		return nil, err
	}

	wf, err := s.conn.GetWorkflow(ctx, appID)
	if err != nil {
		s.recordExport(app.Mode, "error", start)
		return nil, err
	}

	data, err := s.exporter.Export(app, wf, includeSecret)
	if err != nil {
		s.recordExport(app.Mode, "error", start)
		return nil, err
	}

	workflowName := app.Name
	if wf != nil && wf.AppName != "" {
		workflowName = wf.AppName
	}

	s.recordExport(app.Mode, "success", start)
	s.logger.Info("exported app",
		zap.String("app_id", appID),
		zap.String("workflow_name", workflowName),
		zap.Bool("include_secret", includeSecret),
	)

	return &ExportResult{
		AppID:        appID,
		Success:      true,
		Data:         string(data),
		Filename:     SanitizeFilename(workflowName, appID) + ".yml",
		WorkflowName: workflowName,
	}, nil
}

// 批量导出格式
const (
	ExportFormatZip        = "zip"
	ExportFormatIndividual = "individual"
)

// BatchExportResult 批量导出响应
type BatchExportResult struct {
	ExportFormat string         `json:"export_format"`
	Filename     string         `json:"filename,omitempty"`
	Data         string         `json:"data,omitempty"`
	Results      []ExportResult `json:"results"`
	SuccessCount int            `json:"success_count"`
	TotalCount   int            `json:"total_count"`
}

// BatchExport 批量导出多个应用。
// 应用之间互相隔离：单个应用的失败记入其结果条目，不影响其余应用；
// zip 格式下失败的应用在压缩包里留一个 ERROR-<app_id>.txt 说明文件。
func (s *Service) BatchExport(ctx context.Context, appIDs []string, includeSecret bool, format string) (*BatchExportResult, error) {
	if format != ExportFormatZip && format != ExportFormatIndividual {
		return nil, types.NewError(types.ErrValidation, fmt.Sprintf("unknown export format: %q", format))
	}

	batch := &BatchExportResult{
		ExportFormat: format,
		Results:      make([]ExportResult, 0, len(appIDs)),
		TotalCount:   len(appIDs),
	}

	for _, appID := range appIDs {
		result, err := s.ExportApp(ctx, appID, includeSecret)
		if err != nil {
			batch.Results = append(batch.Results, ExportResult{
				AppID:        appID,
				Success:      false,
				Error:        err.Error(),
				WorkflowName: "工作流 " + types.ShortID(appID),
			})
			continue
		}
		batch.Results = append(batch.Results, *result)
		batch.SuccessCount++
	}

	if format == ExportFormatZip {
		data, err := buildExportZip(batch.Results)
		if err != nil {
			return nil, err
		}
		batch.Data = base64.StdEncoding.EncodeToString(data)
		batch.Filename = fmt.Sprintf("workflows-export-%s.zip", s.now().Format("20060102_150405"))

		// zip 模式下文档内容只进压缩包，不在条目里重复携带
		for i := range batch.Results {
			batch.Results[i].Data = ""
		}
	}

	return batch, nil
}

// buildExportZip 把导出结果打进 zip；失败条目写成错误说明文件
func buildExportZip(results []ExportResult) ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	for _, result := range results {
		var name, content string
		if result.Success {
			name, content = result.Filename, result.Data
		} else {
			name = fmt.Sprintf("ERROR-%s.txt", result.AppID)
			content = "导出失败: " + result.Error
		}

		w, err := zw.Create(name)
		if err != nil {
			return nil, types.NewError(types.ErrInternalError, "failed to build export archive").WithCause(err)
		}
		if _, err := w.Write([]byte(content)); err != nil {
			return nil, types.NewError(types.ErrInternalError, "failed to build export archive").WithCause(err)
		}
	}

	if err := zw.Close(); err != nil {
		return nil, types.NewError(types.ErrInternalError, "failed to finalize export archive").WithCause(err)
	}
	return buf.Bytes(), nil
}

// SanitizeFilename 清理文件名：保留字母、数字、空格、连字符、下划线，
// 空格替换为下划线；清理后为空时回落到 workflow-<id8>
func SanitizeFilename(name, appID string) string {
	var b strings.Builder
	for _, r := range name {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == ' ' || r == '-' || r == '_' {
			b.WriteRune(r)
		}
	}

	safe := strings.TrimSpace(b.String())
	safe = strings.ReplaceAll(safe, " ", "_")
	if safe == "" {
		safe = "workflow-" + types.ShortID(appID)
	}
	return safe
}

// =============================================================================
// 🔧 内部方法
// =============================================================================

func (s *Service) recordQuery(operation string, start time.Time, err error) {
	if s.metrics == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	s.metrics.RecordDatasourceQuery(s.conn.Name(), operation, status, s.now().Sub(start))
}

func (s *Service) recordExport(appMode, status string, start time.Time) {
	if s.metrics == nil {
		return
	}
	s.metrics.RecordExport(appMode, status, s.now().Sub(start))
}

func (s *Service) recordCache(cacheType string, hit bool) {
	if s.metrics == nil {
		return
	}
	if hit {
		s.metrics.RecordCacheHit(cacheType)
	} else {
		s.metrics.RecordCacheMiss(cacheType)
	}
}
