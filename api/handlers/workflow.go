package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/BaSui01/flowport/dsl"
	"github.com/BaSui01/flowport/types"
	"github.com/BaSui01/flowport/workflow"
)

// =============================================================================
// 📄 工作流 Handler
// =============================================================================

// WorkflowHandler 工作流列表与读取处理器
type WorkflowHandler struct {
	service *workflow.Service
	logger  *zap.Logger
}

// NewWorkflowHandler 创建工作流处理器
func NewWorkflowHandler(service *workflow.Service, logger *zap.Logger) *WorkflowHandler {
	return &WorkflowHandler{
		service: service,
		logger:  logger.With(zap.String("component", "workflow_handler")),
	}
}

// HandleList 处理 GET /api/workflows
// 返回分页工作流列表、分页元信息与全量模式统计
func (h *WorkflowHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	page := QueryInt(r, "page", 1)
	pageSize := QueryInt(r, "page_size", workflow.DefaultPageSize)
	search := r.URL.Query().Get("search")

	result, err := h.service.ListWorkflows(r.Context(), page, pageSize, search)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}

	WriteJSON(w, http.StatusOK, result)
}

// HandleDraft 处理 GET /api/workflows/{app_id}/draft
// 获取应用的草稿工作流；不存在时返回合成的默认工作流
func (h *WorkflowHandler) HandleDraft(w http.ResponseWriter, r *http.Request) {
	appID := r.PathValue("app_id")
	if appID == "" {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrValidation, "app_id is required", h.logger)
		return
	}

	wf, err := h.service.GetDraftWorkflow(r.Context(), appID)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]any{
		"id":                    wf.ID,
		"app_id":                wf.AppID,
		"version":               wf.Version,
		"graph":                 wf.Graph,
		"features":              wf.Features,
		"environment_variables": wf.EnvironmentVariables,
	})
}

// HandleRefresh 处理 POST /api/workflows/refresh
// 清除数据源缓存，数据在下次请求时重新拉取
func (h *WorkflowHandler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	h.service.RefreshCache(r.Context())

	WriteJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "缓存已清除，数据将在下次请求时刷新",
	})
}

// HandleValidate 处理 POST /api/workflows/validate
// 校验 DSL 文档并返回应用信息预览
func (h *WorkflowHandler) HandleValidate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Content string `json:"content"`
	}
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	if req.Content == "" {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrValidation, "content is required", h.logger)
		return
	}

	doc, err := dsl.Parse([]byte(req.Content))
	if err != nil {
		// 校验失败是正常业务结果，返回 200 + valid=false
		WriteJSON(w, http.StatusOK, map[string]any{
			"valid": false,
			"error": err.Error(),
		})
		return
	}

	WriteJSON(w, http.StatusOK, map[string]any{
		"valid":    true,
		"app_info": doc.Info(),
	})
}

// HandleSourceTest 处理 GET /api/source/test
// 探测当前激活数据源的连通性
func (h *WorkflowHandler) HandleSourceTest(w http.ResponseWriter, r *http.Request) {
	if err := h.service.TestConnection(r.Context()); err != nil {
		WriteJSON(w, http.StatusServiceUnavailable, map[string]any{
			"success": false,
			"source":  h.service.SourceName(),
			"error":   err.Error(),
		})
		return
	}

	WriteJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"source":  h.service.SourceName(),
	})
}
