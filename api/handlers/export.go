package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/BaSui01/flowport/types"
	"github.com/BaSui01/flowport/workflow"
)

// =============================================================================
// 📤 导出 Handler
// =============================================================================

// ExportHandler DSL 导出处理器
type ExportHandler struct {
	service *workflow.Service
	logger  *zap.Logger
}

// NewExportHandler 创建导出处理器
func NewExportHandler(service *workflow.Service, logger *zap.Logger) *ExportHandler {
	return &ExportHandler{
		service: service,
		logger:  logger.With(zap.String("component", "export_handler")),
	}
}

// HandleExport 处理 GET /api/apps/{app_id}/export
// 导出单个应用的 DSL 文档，include_secret 控制密钥变量值是否保留
func (h *ExportHandler) HandleExport(w http.ResponseWriter, r *http.Request) {
	appID := r.PathValue("app_id")
	if appID == "" {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrValidation, "app_id is required", h.logger)
		return
	}

	includeSecret := QueryBool(r, "include_secret")

	result, err := h.service.ExportApp(r.Context(), appID, includeSecret)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]any{
		"data":          result.Data,
		"filename":      result.Filename,
		"workflow_name": result.WorkflowName,
		"app_id":        result.AppID,
	})
}

// BatchExportRequest 批量导出请求体
type BatchExportRequest struct {
	AppIDs        []string `json:"app_ids"`
	IncludeSecret bool     `json:"include_secret"`
	ExportFormat  string   `json:"export_format"`
}

// HandleBatchExport 处理 POST /api/workflows/batch-export
// zip 格式返回 base64 压缩包，individual 格式逐个返回 DSL 内容
func (h *ExportHandler) HandleBatchExport(w http.ResponseWriter, r *http.Request) {
	var req BatchExportRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	if len(req.AppIDs) == 0 {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrValidation, "app_ids is required", h.logger)
		return
	}
	if req.ExportFormat == "" {
		req.ExportFormat = workflow.ExportFormatZip
	}

	result, err := h.service.BatchExport(r.Context(), req.AppIDs, req.IncludeSecret, req.ExportFormat)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}

	WriteJSON(w, http.StatusOK, result)
}
