package handlers

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/flowport/importer"
	"github.com/BaSui01/flowport/internal/metrics"
	"github.com/BaSui01/flowport/types"
)

// =============================================================================
// 📥 导入 Handler
// =============================================================================

// ImportHandler 远程实例导入处理器
type ImportHandler struct {
	engine  *importer.Engine
	metrics *metrics.Collector
	logger  *zap.Logger
}

// NewImportHandler 创建导入处理器；collector 可为 nil
func NewImportHandler(engine *importer.Engine, collector *metrics.Collector, logger *zap.Logger) *ImportHandler {
	return &ImportHandler{
		engine:  engine,
		metrics: collector,
		logger:  logger.With(zap.String("component", "import_handler")),
	}
}

// ImportRequest 单次导入请求体
type ImportRequest struct {
	TargetInstanceID string `json:"target_instance_id"`
	Mode             string `json:"mode"`
	YAMLContent      string `json:"yaml_content,omitempty"`
	YAMLURL          string `json:"yaml_url,omitempty"`
	Name             string `json:"name,omitempty"`
	Description      string `json:"description,omitempty"`
	IconType         string `json:"icon_type,omitempty"`
	Icon             string `json:"icon,omitempty"`
	IconBackground   string `json:"icon_background,omitempty"`
	AppID            string `json:"app_id,omitempty"`
}

// HandleImport 处理 POST /api/workflows/import
// 将 DSL 推送到目标实例；pending 状态通过 requires_confirmation 透出
func (h *ImportHandler) HandleImport(w http.ResponseWriter, r *http.Request) {
	var req ImportRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	if req.TargetInstanceID == "" {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrValidation, "target_instance_id is required", h.logger)
		return
	}

	payload := importer.Payload{
		Mode:           req.Mode,
		YAMLContent:    req.YAMLContent,
		YAMLURL:        req.YAMLURL,
		Name:           req.Name,
		Description:    req.Description,
		IconType:       req.IconType,
		Icon:           req.Icon,
		IconBackground: req.IconBackground,
		AppID:          req.AppID,
	}

	start := time.Now()
	result, err := h.engine.ImportSingle(r.Context(), req.TargetInstanceID, payload)
	if err != nil {
		h.recordImport(req.TargetInstanceID, "error", start)
		WriteError(w, err, h.logger)
		return
	}

	status := "success"
	if !result.Success {
		status = "failed"
	}
	h.recordImport(req.TargetInstanceID, status, start)

	WriteJSON(w, http.StatusOK, result)
}

// ConfirmRequest 导入确认请求体
type ConfirmRequest struct {
	TargetInstanceID string `json:"target_instance_id"`
	ImportID         string `json:"import_id"`
}

// HandleConfirm 处理 POST /api/workflows/import/confirm
func (h *ImportHandler) HandleConfirm(w http.ResponseWriter, r *http.Request) {
	var req ConfirmRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	if req.TargetInstanceID == "" || req.ImportID == "" {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrValidation,
			"target_instance_id and import_id are required", h.logger)
		return
	}

	result, err := h.engine.ConfirmImport(r.Context(), req.TargetInstanceID, req.ImportID)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}

	WriteJSON(w, http.StatusOK, result)
}

// BatchImportRequest 批量导入请求体
type BatchImportRequest struct {
	TargetInstanceID string                  `json:"target_instance_id"`
	Files            []importer.WorkflowFile `json:"files"`
	ImportOptions    importer.Options        `json:"import_options"`
}

// HandleBatchImport 处理 POST /api/workflows/batch-import
// 文件之间互相隔离，单个文件失败默认终止后续文件
func (h *ImportHandler) HandleBatchImport(w http.ResponseWriter, r *http.Request) {
	var req BatchImportRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	if req.TargetInstanceID == "" {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrValidation, "target_instance_id is required", h.logger)
		return
	}
	if len(req.Files) == 0 {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrValidation, "files is required", h.logger)
		return
	}

	batch, err := h.engine.BatchImport(r.Context(), req.TargetInstanceID, req.Files, req.ImportOptions)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}

	if h.metrics != nil {
		for _, entry := range batch.Results {
			result := "success"
			if !entry.Success {
				result = "failed"
			}
			h.metrics.RecordBatchImportFile(req.TargetInstanceID, result)
		}
	}

	WriteJSON(w, http.StatusOK, batch)
}

// HandleListInstances 处理 GET /api/instances
func (h *ImportHandler) HandleListInstances(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]any{
		"instances": h.engine.ListTargetInstances(),
	})
}

// HandleTestInstance 处理 POST /api/instances/{instance_id}/test
// 返回连接状态分类而不是裸错误，前端据此提示用户
func (h *ImportHandler) HandleTestInstance(w http.ResponseWriter, r *http.Request) {
	instanceID := r.PathValue("instance_id")
	if instanceID == "" {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrValidation, "instance_id is required", h.logger)
		return
	}

	status := h.engine.TestInstanceConnection(r.Context(), instanceID)

	httpStatus := http.StatusOK
	if status == importer.ConnStatusNotFoundErr {
		httpStatus = http.StatusNotFound
	}

	WriteJSON(w, httpStatus, map[string]any{
		"instance_id": instanceID,
		"status":      status,
		"connected":   status == importer.ConnStatusConnected,
	})
}

func (h *ImportHandler) recordImport(instance, status string, start time.Time) {
	if h.metrics == nil {
		return
	}
	h.metrics.RecordImport(instance, status, time.Since(start))
}
