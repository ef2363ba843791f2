package connector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/flowport/config"
	"github.com/BaSui01/flowport/types"
)

// 上游列表分页遍历的安全上限
const maxUpstreamPages = 20

// =============================================================================
// 🌐 远端 API 连接器
// =============================================================================

// APIConnector 通过 Dify 控制台 API 读取数据的连接器。
// basic 认证模式下用账号密码换取短期访问令牌并在到期前透明刷新；
// 全量应用列表在内存中缓存固定 TTL，带搜索条件的列表绕过缓存。
type APIConnector struct {
	cfg     config.APIConfig
	baseURL string
	client  *http.Client
	token   *tokenState
	cache   *appListCache
	logger  *zap.Logger

	// now 可注入时钟，测试用
	now func() time.Time
}

// NewAPIConnector 创建远端 API 连接器
func NewAPIConnector(cfg config.APIConfig, logger *zap.Logger) (*APIConnector, error) {
	if cfg.BaseURL == "" {
		return nil, types.NewError(types.ErrConfiguration, "api.base_url is required")
	}

	switch cfg.Auth.Type {
	case "bearer", "api_key", "basic":
	default:
		return nil, types.NewError(types.ErrConfiguration,
			fmt.Sprintf("unknown api auth type: %q", cfg.Auth.Type))
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 50
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 5 * time.Minute
	}
	defaults := config.DefaultAPIConfig().Endpoints
	if cfg.Endpoints.AppsList == "" {
		cfg.Endpoints.AppsList = defaults.AppsList
	}
	if cfg.Endpoints.AppDetail == "" {
		cfg.Endpoints.AppDetail = defaults.AppDetail
	}
	if cfg.Endpoints.WorkflowDraft == "" {
		cfg.Endpoints.WorkflowDraft = defaults.WorkflowDraft
	}
	if cfg.Endpoints.Login == "" {
		cfg.Endpoints.Login = defaults.Login
	}
	if cfg.Endpoints.RefreshToken == "" {
		cfg.Endpoints.RefreshToken = defaults.RefreshToken
	}

	return &APIConnector{
		cfg:     cfg,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		client:  &http.Client{Timeout: cfg.Timeout},
		token:   &tokenState{},
		cache:   newAppListCache(cfg.CacheTTL),
		logger:  logger.With(zap.String("component", "api_connector")),
		now:     time.Now,
	}, nil
}

// Name 实现 Connector.Name
func (c *APIConnector) Name() string { return config.DataSourceAPI }

// =============================================================================
// 🔑 认证
// =============================================================================

// ensureValidToken 确保请求可携带有效凭据。
// basic 模式下：令牌仍有效则直接放行；否则先试刷新、失败再重新登录，
// 一次调用最多触发一轮 refresh-or-relogin。
func (c *APIConnector) ensureValidToken(ctx context.Context) error {
	if c.cfg.Auth.Type != "basic" {
		return nil
	}

	if c.token.isValid(c.now()) {
		return nil
	}

	if _, refreshToken := c.token.tokens(); refreshToken != "" {
		if err := c.refreshAccessToken(ctx); err == nil {
			return nil
		}
		c.logger.Warn("token refresh failed, falling back to login")
	}

	return c.login(ctx)
}

// login 用账号密码换取访问令牌
func (c *APIConnector) login(ctx context.Context) error {
	if c.cfg.Auth.Username == "" || c.cfg.Auth.Password == "" {
		return types.NewError(types.ErrConfiguration, "api basic auth requires username and password")
	}

	payload := map[string]any{
		"email":       c.cfg.Auth.Username,
		"password":    c.cfg.Auth.Password,
		"language":    "zh-Hans",
		"remember_me": true,
	}

	body, err := c.postJSON(ctx, c.baseURL+c.cfg.Endpoints.Login, payload, "")
	if err != nil {
		return err
	}

	var result struct {
		Result string `json:"result"`
		Data   struct {
			AccessToken  string `json:"access_token"`
			RefreshToken string `json:"refresh_token"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return types.NewError(types.ErrUpstreamError, "malformed login response").WithCause(err)
	}
	if result.Result != "success" || result.Data.AccessToken == "" {
		return types.NewError(types.ErrUpstreamError, "login rejected by upstream")
	}

	c.token.set(result.Data.AccessToken, result.Data.RefreshToken, c.now())
	c.logger.Info("login succeeded, access token acquired")
	return nil
}

// refreshAccessToken 用刷新令牌换取新的访问令牌
func (c *APIConnector) refreshAccessToken(ctx context.Context) error {
	_, refreshToken := c.token.tokens()
	if refreshToken == "" {
		return types.NewError(types.ErrUpstreamError, "no refresh token available")
	}

	body, err := c.postJSON(ctx, c.baseURL+c.cfg.Endpoints.RefreshToken, nil, refreshToken)
	if err != nil {
		return err
	}

	var result struct {
		Result string `json:"result"`
		Data   struct {
			AccessToken  string `json:"access_token"`
			RefreshToken string `json:"refresh_token"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return types.NewError(types.ErrUpstreamError, "malformed refresh response").WithCause(err)
	}
	if result.Result != "success" || result.Data.AccessToken == "" {
		return types.NewError(types.ErrUpstreamError, "token refresh rejected by upstream")
	}

	c.token.set(result.Data.AccessToken, result.Data.RefreshToken, c.now())
	c.logger.Info("access token refreshed")
	return nil
}

// postJSON 发送认证流程用的 POST 请求
func (c *APIConnector) postJSON(ctx context.Context, fullURL string, payload any, bearer string) ([]byte, error) {
	var reqBody io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, types.NewError(types.ErrInternalError, "failed to encode request body").WithCause(err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fullURL, reqBody)
	if err != nil {
		return nil, types.NewError(types.ErrInternalError, "failed to build request").WithCause(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, types.NewError(types.ErrUpstreamUnavailable, "upstream request failed").WithCause(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, types.NewError(types.ErrUpstreamUnavailable, "failed to read upstream response").WithCause(err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, types.NewError(types.ErrUpstreamError,
			fmt.Sprintf("upstream returned HTTP %d", resp.StatusCode)).WithHTTPStatus(resp.StatusCode)
	}

	return body, nil
}

// doGet 发送带认证头的 GET 请求。
// 返回 (nil, nil) 表示上游明确 404。
func (c *APIConnector) doGet(ctx context.Context, path string) ([]byte, error) {
	if err := c.ensureValidToken(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, types.NewError(types.ErrInternalError, "failed to build request").WithCause(err)
	}

	switch c.cfg.Auth.Type {
	case "bearer":
		req.Header.Set("Authorization", "Bearer "+c.cfg.Auth.Token)
	case "api_key":
		header := c.cfg.Auth.APIKeyHeader
		if header == "" {
			header = "X-API-Key"
		}
		req.Header.Set(header, c.cfg.Auth.APIKey)
	case "basic":
		accessToken, _ := c.token.tokens()
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, types.NewError(types.ErrUpstreamUnavailable, "upstream request failed").WithCause(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, types.NewError(types.ErrUpstreamUnavailable, "failed to read upstream response").WithCause(err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, types.NewError(types.ErrUpstreamError,
			fmt.Sprintf("upstream returned HTTP %d", resp.StatusCode)).WithHTTPStatus(resp.StatusCode)
	}

	return body, nil
}

// =============================================================================
// 🎯 能力集实现
// =============================================================================

// GetApp 实现 Connector.GetApp
func (c *APIConnector) GetApp(ctx context.Context, appID string) (*types.App, error) {
	path := c.endpoint(c.cfg.Endpoints.AppDetail, appID)

	body, err := c.doGet(ctx, path)
	if err != nil {
		return nil, err
	}
	if body == nil {
		c.logger.Debug("app not found", zap.String("app_id", appID))
		return nil, nil
	}

	data := unwrapData(body)

	app := &types.App{
		ID:             appID,
		Name:           "工作流应用 " + types.ShortID(appID),
		Mode:           string(types.AppModeWorkflow),
		Icon:           types.DefaultIcon,
		IconType:       types.DefaultIconType,
		IconBackground: types.DefaultIconBackground,
	}
	if id, ok := data["id"].(string); ok && id != "" {
		app.ID = id
	}
	if name, ok := data["name"].(string); ok && name != "" {
		app.Name = name
	}
	if mode, ok := data["mode"].(string); ok && mode != "" {
		app.Mode = mode
	}
	if icon, ok := data["icon"].(string); ok && icon != "" {
		app.Icon = icon
	}
	if iconType, ok := data["icon_type"].(string); ok && iconType != "" {
		app.IconType = iconType
	}
	if bg, ok := data["icon_background"].(string); ok && bg != "" {
		app.IconBackground = bg
	}
	if desc, ok := data["description"].(string); ok {
		app.Description = desc
	}
	if use, ok := data["use_icon_as_answer_icon"].(bool); ok {
		app.UseIconAsAnswerIcon = use
	}
	if tenant, ok := data["tenant_id"].(string); ok {
		app.TenantID = tenant
	}

	return app, nil
}

// GetWorkflow 实现 Connector.GetWorkflow
func (c *APIConnector) GetWorkflow(ctx context.Context, appID string) (*types.Workflow, error) {
	path := c.endpoint(c.cfg.Endpoints.WorkflowDraft, appID)

	body, err := c.doGet(ctx, path)
	if err != nil {
		return nil, err
	}
	if body == nil {
		c.logger.Debug("draft workflow not found", zap.String("app_id", appID))
		return nil, nil
	}

	data := unwrapData(body)

	wf := &types.Workflow{
		AppID:                appID,
		Version:              "1.0",
		Graph:                map[string]any{},
		Features:             map[string]any{},
		EnvironmentVariables: []types.EnvironmentVariable{},
	}
	if id, ok := data["id"].(string); ok {
		wf.ID = id
	}
	if version, ok := data["version"].(string); ok && version != "" {
		wf.Version = version
	}
	if graph, ok := data["graph"].(map[string]any); ok {
		wf.Graph = graph
	}
	if features, ok := data["features"].(map[string]any); ok {
		wf.Features = features
	}

	// 补充应用元数据
	if app, err := c.GetApp(ctx, appID); err == nil && app != nil {
		wf.AppName = app.Name
		wf.AppDescription = app.Description
		wf.AppMode = app.Mode
	} else {
		wf.AppName = "工作流 " + types.ShortID(appID)
		wf.AppMode = string(types.AppModeWorkflow)
	}
	wf.IsWorkflow = types.AppMode(wf.AppMode).IsWorkflowMode()

	envVars, err := c.GetEnvironmentVariables(ctx, appID)
	if err == nil {
		wf.EnvironmentVariables = envVars
	}

	return wf, nil
}

// ListWorkflows 实现 Connector.ListWorkflows
func (c *APIConnector) ListWorkflows(ctx context.Context) ([]*types.Workflow, error) {
	apps, err := c.listApps(ctx, "")
	if err != nil {
		return nil, err
	}

	workflows := make([]*types.Workflow, 0, len(apps))
	for _, app := range apps {
		wf, err := c.GetWorkflow(ctx, app.ID)
		if err != nil {
			c.logger.Warn("failed to fetch workflow, skipping",
				zap.String("app_id", app.ID),
				zap.String("app_name", app.Name),
				zap.Error(err),
			)
			continue
		}
		if wf == nil {
			continue
		}
		wf.AppName = app.Name
		wf.AppDescription = app.Description
		wf.AppMode = app.Mode
		wf.IsWorkflow = isWorkflowApp(app)
		workflows = append(workflows, wf)
	}

	return workflows, nil
}

// GetEnvironmentVariables 实现 Connector.GetEnvironmentVariables。
// 控制台未提供稳定的环境变量读取端点，这里恒返回空列表。
func (c *APIConnector) GetEnvironmentVariables(ctx context.Context, appID string) ([]types.EnvironmentVariable, error) {
	c.logger.Debug("environment variable fetch skipped for api source", zap.String("app_id", appID))
	return []types.EnvironmentVariable{}, nil
}

// ListWorkflowsPaginated 实现 Connector.ListWorkflowsPaginated
func (c *APIConnector) ListWorkflowsPaginated(ctx context.Context, page, pageSize int, search string) (*PageResult, error) {
	apps, err := c.listApps(ctx, search)
	if err != nil {
		return nil, err
	}

	// 上游按名称过滤，这里再做一遍本地过滤覆盖 ID 与描述
	if search != "" {
		needle := strings.ToLower(search)
		filtered := make([]appSummary, 0, len(apps))
		for _, app := range apps {
			if strings.Contains(strings.ToLower(app.Name), needle) ||
				strings.Contains(strings.ToLower(app.ID), needle) ||
				strings.Contains(strings.ToLower(app.Description), needle) {
				filtered = append(filtered, app)
			}
		}
		apps = filtered
	}

	total := len(apps)
	start := (page - 1) * pageSize
	if start > total {
		start = total
	}
	end := start + pageSize
	if end > total {
		end = total
	}

	workflows := make([]*types.Workflow, 0, end-start)
	for _, app := range apps[start:end] {
		workflows = append(workflows, &types.Workflow{
			ID:                   app.ID,
			AppID:                app.ID,
			Version:              "draft",
			Graph:                map[string]any{},
			Features:             map[string]any{},
			EnvironmentVariables: []types.EnvironmentVariable{},
			AppName:              app.Name,
			AppDescription:       app.Description,
			AppMode:              app.Mode,
			IsWorkflow:           isWorkflowApp(app),
		})
	}

	return &PageResult{Workflows: workflows, Total: total}, nil
}

// TestConnection 实现 Connector.TestConnection
func (c *APIConnector) TestConnection(ctx context.Context) error {
	path := fmt.Sprintf("%s?page=1&limit=1&name=&is_created_by_me=false", c.cfg.Endpoints.AppsList)
	body, err := c.doGet(ctx, path)
	if err != nil {
		return err
	}
	if body == nil {
		return types.NewError(types.ErrUpstreamError, "apps listing endpoint not found")
	}
	return nil
}

// ClearCache 实现 CacheInvalidator
func (c *APIConnector) ClearCache() {
	c.cache.invalidate()
	c.logger.Info("app list cache cleared")
}

// Close 实现 Connector.Close
func (c *APIConnector) Close() error {
	c.cache.invalidate()
	c.token.invalidate()
	c.client.CloseIdleConnections()
	return nil
}

// =============================================================================
// 🔧 内部方法
// =============================================================================

// listApps 遍历上游分页端点取回应用摘要列表。
// 无搜索条件时结果缓存固定 TTL；带搜索条件的调用绕过缓存。
func (c *APIConnector) listApps(ctx context.Context, search string) ([]appSummary, error) {
	if search == "" {
		if apps, ok := c.cache.get(c.now()); ok {
			c.logger.Debug("using cached app list", zap.Int("count", len(apps)))
			return apps, nil
		}
	}

	var all []appSummary
	for page := 1; page <= maxUpstreamPages; page++ {
		path := fmt.Sprintf("%s?page=%d&limit=%d&name=%s&is_created_by_me=false",
			c.cfg.Endpoints.AppsList, page, c.cfg.PageSize, url.QueryEscape(search))

		body, err := c.doGet(ctx, path)
		if err != nil {
			return nil, err
		}
		if body == nil {
			break
		}

		var resp struct {
			Data []struct {
				ID          string          `json:"id"`
				Name        string          `json:"name"`
				Description string          `json:"description"`
				Mode        string          `json:"mode"`
				Workflow    json.RawMessage `json:"workflow"`
			} `json:"data"`
			HasMore bool `json:"has_more"`
		}
		if err := json.Unmarshal(body, &resp); err != nil {
			return nil, types.NewError(types.ErrUpstreamError, "malformed apps listing response").WithCause(err)
		}

		if len(resp.Data) == 0 {
			break
		}

		for _, item := range resp.Data {
			if item.ID == "" {
				continue
			}
			summary := appSummary{
				ID:               item.ID,
				Name:             item.Name,
				Description:      item.Description,
				Mode:             item.Mode,
				HasWorkflowField: len(item.Workflow) > 0 && string(item.Workflow) != "null",
			}
			if summary.Name == "" {
				summary.Name = "应用 " + types.ShortID(item.ID)
			}
			if summary.Mode == "" {
				summary.Mode = string(types.AppModeChat)
			}
			all = append(all, summary)
		}

		if !resp.HasMore {
			break
		}
	}

	c.logger.Info("fetched app list from upstream", zap.Int("count", len(all)), zap.String("search", search))

	if search == "" {
		c.cache.set(all, c.now())
	}

	return all, nil
}

// endpoint 替换端点模板中的 {app_id} 占位符
func (c *APIConnector) endpoint(template, appID string) string {
	return strings.ReplaceAll(template, "{app_id}", url.PathEscape(appID))
}

// unwrapData 取出响应中的 data 对象；不存在时用响应本体
func unwrapData(body []byte) map[string]any {
	var m map[string]any
	if err := json.Unmarshal(body, &m); err != nil {
		return map[string]any{}
	}
	if data, ok := m["data"].(map[string]any); ok {
		return data
	}
	return m
}

// isWorkflowApp 判断应用摘要是否为工作流类应用
func isWorkflowApp(app appSummary) bool {
	if app.Mode == string(types.AppModeWorkflow) {
		return true
	}
	return app.Mode == string(types.AppModeAdvancedChat) && app.HasWorkflowField
}
