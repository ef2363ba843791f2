// Package importer 实现远端导入引擎。
//
// 单次导入的状态机：提交 → {completed | completed-with-warnings | pending | failed}；
// pending 状态通过显式的确认调用转移到 completed 或 failed。
// 网络级异常按固定策略有界重试，格式良好的非 2xx 响应不重试。
package importer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/flowport/config"
	"github.com/BaSui01/flowport/internal/retry"
	"github.com/BaSui01/flowport/types"
)

// 目标实例上的控制台端点
const (
	importPath          = "/console/api/apps/imports"
	confirmPathTemplate = "/console/api/apps/imports/%s/confirm"
	appsListPath        = "/console/api/apps"
)

// 导入模式
const (
	ModeYAMLContent = "yaml-content"
	ModeYAMLURL     = "yaml-url"
)

// =============================================================================
// 📥 远端导入引擎
// =============================================================================

// Engine 远端导入引擎
type Engine struct {
	cfg       config.ImportConfig
	instances []types.TargetInstance
	client    *http.Client
	retryer   retry.Retryer
	logger    *zap.Logger
}

// NewEngine 创建导入引擎
func NewEngine(cfg config.ImportConfig, instances []types.TargetInstance, logger *zap.Logger) *Engine {
	if cfg.Timeout <= 0 {
		cfg.Timeout = config.DefaultImportConfig().Timeout
	}
	if cfg.RetryAttempts < 1 {
		cfg.RetryAttempts = config.DefaultImportConfig().RetryAttempts
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = config.DefaultImportConfig().RetryDelay
	}

	logger = logger.With(zap.String("component", "import_engine"))

	return &Engine{
		cfg:       cfg,
		instances: instances,
		client:    &http.Client{Timeout: cfg.Timeout},
		retryer: retry.New(&retry.Policy{
			Attempts: cfg.RetryAttempts,
			Delay:    cfg.RetryDelay,
		}, logger),
		logger: logger,
	}
}

// Payload 单次导入请求体
type Payload struct {
	Mode           string `json:"mode"`
	YAMLContent    string `json:"yaml_content,omitempty"`
	YAMLURL        string `json:"yaml_url,omitempty"`
	Name           string `json:"name,omitempty"`
	Description    string `json:"description,omitempty"`
	IconType       string `json:"icon_type,omitempty"`
	Icon           string `json:"icon,omitempty"`
	IconBackground string `json:"icon_background,omitempty"`
	AppID          string `json:"app_id,omitempty"`
}

// Validate 在任何网络调用之前校验请求体
func (p *Payload) Validate() error {
	switch p.Mode {
	case ModeYAMLContent:
		if p.YAMLContent == "" {
			return types.NewError(types.ErrValidation, "yaml_content is required for yaml-content mode")
		}
	case ModeYAMLURL:
		if p.YAMLURL == "" {
			return types.NewError(types.ErrValidation, "yaml_url is required for yaml-url mode")
		}
	default:
		return types.NewError(types.ErrValidation, fmt.Sprintf("unknown import mode: %q", p.Mode))
	}
	return nil
}

// =============================================================================
// 🎯 导入操作
// =============================================================================

// ImportSingle 向目标实例导入单个 DSL 文档。
// 实例与请求体在发起网络调用前校验；上游失败体现在返回结果里而非 error。
func (e *Engine) ImportSingle(ctx context.Context, targetInstanceID string, payload Payload) (*types.ImportResult, error) {
	instance, err := e.findInstance(targetInstanceID)
	if err != nil {
		return nil, err
	}
	if err := payload.Validate(); err != nil {
		return nil, err
	}

	resp, err := e.doRequest(ctx, http.MethodPost, instance.URL+importPath, instance.Auth, payload)
	if err != nil {
		e.logger.Warn("import request failed",
			zap.String("instance", targetInstanceID), zap.Error(err))
		return &types.ImportResult{
			Success: false,
			Status:  types.ImportStatusFailed,
			Error:   err.Error(),
		}, nil
	}

	switch resp.status {
	case http.StatusOK:
		result := e.parseImportResponse(resp.body)
		result.Success = true
		if result.Status == "" {
			result.Status = types.ImportStatusCompleted
		}
		e.logger.Info("import completed",
			zap.String("instance", targetInstanceID),
			zap.String("import_id", result.ImportID),
			zap.String("status", string(result.Status)),
		)
		return result, nil

	case http.StatusAccepted:
		result := e.parseImportResponse(resp.body)
		result.Success = true
		result.Status = types.ImportStatusPending
		result.RequiresConfirmation = true
		e.logger.Info("import pending confirmation",
			zap.String("instance", targetInstanceID),
			zap.String("import_id", result.ImportID),
		)
		return result, nil

	default:
		errMsg := extractErrorMessage(resp.body, fmt.Sprintf("导入失败: HTTP %d", resp.status))
		e.logger.Warn("import rejected by target",
			zap.String("instance", targetInstanceID),
			zap.Int("status_code", resp.status),
			zap.String("error", errMsg),
		)
		return &types.ImportResult{
			Success: false,
			Status:  types.ImportStatusFailed,
			Error:   errMsg,
		}, nil
	}
}

// ConfirmImport 确认一个 pending 状态的导入
func (e *Engine) ConfirmImport(ctx context.Context, targetInstanceID, importID string) (*types.ImportResult, error) {
	instance, err := e.findInstance(targetInstanceID)
	if err != nil {
		return nil, err
	}
	if importID == "" {
		return nil, types.NewError(types.ErrValidation, "import_id is required")
	}

	confirmURL := instance.URL + fmt.Sprintf(confirmPathTemplate, url.PathEscape(importID))

	resp, err := e.doRequest(ctx, http.MethodPost, confirmURL, instance.Auth, nil)
	if err != nil {
		return &types.ImportResult{
			Success:  false,
			ImportID: importID,
			Status:   types.ImportStatusFailed,
			Error:    err.Error(),
		}, nil
	}

	if resp.status != http.StatusOK {
		errMsg := extractErrorMessage(resp.body, fmt.Sprintf("确认导入失败: HTTP %d", resp.status))
		return &types.ImportResult{
			Success:  false,
			ImportID: importID,
			Status:   types.ImportStatusFailed,
			Error:    errMsg,
		}, nil
	}

	result := e.parseImportResponse(resp.body)
	result.Success = true
	result.ImportID = importID
	if result.Status == "" {
		result.Status = types.ImportStatusCompleted
	}
	e.logger.Info("import confirmed",
		zap.String("instance", targetInstanceID),
		zap.String("import_id", importID),
		zap.String("status", string(result.Status)),
	)
	return result, nil
}

// =============================================================================
// 🎯 目标实例
// =============================================================================

// InstanceSummary 目标实例摘要（不含凭据）
type InstanceSummary struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	URL       string `json:"url"`
	IsDefault bool   `json:"is_default"`
	AuthType  string `json:"auth_type"`
}

// ListTargetInstances 返回所有已配置的目标实例摘要。
// 不在这里探测连接状态，连接测试由调用方单独触发。
func (e *Engine) ListTargetInstances() []InstanceSummary {
	summaries := make([]InstanceSummary, 0, len(e.instances))
	for _, inst := range e.instances {
		authType := inst.Auth.Type
		if authType == "" {
			authType = "unknown"
		}
		summaries = append(summaries, InstanceSummary{
			ID:        inst.ID,
			Name:      inst.Name,
			URL:       inst.URL,
			IsDefault: inst.IsDefault,
			AuthType:  authType,
		})
	}
	return summaries
}

// 连接测试结果
const (
	ConnStatusConnected   = "connected"
	ConnStatusAuthFailed  = "authentication_failed"
	ConnStatusConnFailed  = "connection_failed"
	ConnStatusTimeout     = "timeout"
	ConnStatusUnknownErr  = "unknown_error"
	ConnStatusNotFoundErr = "instance_not_found"
)

// TestInstanceConnection 探测目标实例的连通性。
// 探测不走重试，结果只是瞬时快照。
func (e *Engine) TestInstanceConnection(ctx context.Context, targetInstanceID string) string {
	instance, err := e.findInstance(targetInstanceID)
	if err != nil {
		return ConnStatusNotFoundErr
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, instance.URL+appsListPath, nil)
	if err != nil {
		return ConnStatusUnknownErr
	}
	applyInstanceAuth(req, instance.Auth)

	resp, err := e.client.Do(req)
	if err != nil {
		var netErr net.Error
		switch {
		case errors.As(err, &netErr) && netErr.Timeout():
			return ConnStatusTimeout
		case errors.Is(err, context.DeadlineExceeded):
			return ConnStatusTimeout
		case isConnectionError(err):
			return ConnStatusConnFailed
		default:
			return ConnStatusUnknownErr
		}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode == http.StatusOK {
		return ConnStatusConnected
	}
	return ConnStatusAuthFailed
}

// =============================================================================
// 🔧 内部方法
// =============================================================================

// findInstance 解析目标实例配置
func (e *Engine) findInstance(id string) (*types.TargetInstance, error) {
	for i := range e.instances {
		if e.instances[i].ID == id {
			inst := e.instances[i]
			inst.URL = strings.TrimRight(inst.URL, "/")
			return &inst, nil
		}
	}
	return nil, types.NewError(types.ErrValidation, fmt.Sprintf("目标实例 %s 不存在", id))
}

type upstreamResponse struct {
	status int
	body   []byte
}

// doRequest 发送带重试的 HTTP 请求。
// 网络级异常可重试；格式良好的非 2xx 响应原样返回，由调用方裁决。
func (e *Engine) doRequest(ctx context.Context, method, fullURL string, auth types.InstanceAuth, payload any) (*upstreamResponse, error) {
	var body []byte
	if payload != nil {
		var err error
		body, err = json.Marshal(payload)
		if err != nil {
			return nil, types.NewError(types.ErrInternalError, "failed to encode request body").WithCause(err)
		}
	}

	var resp *upstreamResponse
	err := e.retryer.Do(ctx, func() error {
		var reqBody io.Reader
		if body != nil {
			reqBody = bytes.NewReader(body)
		}

		req, err := http.NewRequestWithContext(ctx, method, fullURL, reqBody)
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		applyInstanceAuth(req, auth)

		r, err := e.client.Do(req)
		if err != nil {
			return retry.WrapRetryable(err)
		}
		defer r.Body.Close()

		respBody, err := io.ReadAll(r.Body)
		if err != nil {
			return retry.WrapRetryable(err)
		}

		resp = &upstreamResponse{status: r.StatusCode, body: respBody}
		return nil
	})
	if err != nil {
		return nil, types.NewError(types.ErrUpstreamUnavailable, "目标实例请求失败").WithCause(err)
	}

	return resp, nil
}

// applyInstanceAuth 按实例认证配置设置请求头
func applyInstanceAuth(req *http.Request, auth types.InstanceAuth) {
	switch auth.Type {
	case "bearer":
		req.Header.Set("Authorization", "Bearer "+auth.Token)
	case "api_key":
		header := auth.APIKeyHeader
		if header == "" {
			header = "X-API-Key"
		}
		req.Header.Set(header, auth.APIKey)
	case "basic":
		req.SetBasicAuth(auth.Username, auth.Password)
	}
}

// parseImportResponse 解析上游导入响应体
func (e *Engine) parseImportResponse(body []byte) *types.ImportResult {
	var raw struct {
		ID                 string   `json:"id"`
		Status             string   `json:"status"`
		AppID              string   `json:"app_id"`
		AppMode            string   `json:"app_mode"`
		CurrentDSLVersion  string   `json:"current_dsl_version"`
		ImportedDSLVersion string   `json:"imported_dsl_version"`
		Warnings           []string `json:"warnings"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		e.logger.Warn("malformed import response body", zap.Error(err))
		return &types.ImportResult{}
	}

	return &types.ImportResult{
		ImportID:           raw.ID,
		Status:             types.ImportStatus(raw.Status),
		AppID:              raw.AppID,
		AppMode:            raw.AppMode,
		CurrentDSLVersion:  raw.CurrentDSLVersion,
		ImportedDSLVersion: raw.ImportedDSLVersion,
		Warnings:           raw.Warnings,
	}
}

// extractErrorMessage 从响应体提取错误消息，失败时用兜底消息
func extractErrorMessage(body []byte, fallback string) string {
	var raw struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &raw); err == nil {
		if raw.Error != "" {
			return raw.Error
		}
		if raw.Message != "" {
			return raw.Message
		}
	}
	return fallback
}

// isConnectionError 判断是否为连接级错误
func isConnectionError(err error) bool {
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return true
	}
	return false
}
