package handlers

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/flowport/dsl"
	"github.com/BaSui01/flowport/types"
	"github.com/BaSui01/flowport/workflow"
)

func newExportRouter(conn *stubConnector) *http.ServeMux {
	logger := zap.NewNop()
	svc := workflow.NewService(conn, dsl.NewExporter(logger), logger)
	h := NewExportHandler(svc, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/apps/{app_id}/export", h.HandleExport)
	mux.HandleFunc("POST /api/workflows/batch-export", h.HandleBatchExport)
	return mux
}

func TestExportHandler_Export(t *testing.T) {
	conn := &stubConnector{
		apps: map[string]*types.App{
			"app-1": {ID: "app-1", Name: "审批流程", Mode: "workflow", Icon: "🚀", IconType: "emoji"},
		},
		workflows: []*types.Workflow{stubWorkflow("app-1", "审批流程")},
	}
	mux := newExportRouter(conn)

	rec := doRequest(t, mux, http.MethodGet, "/api/apps/app-1/export", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Data         string `json:"data"`
		Filename     string `json:"filename"`
		WorkflowName string `json:"workflow_name"`
		AppID        string `json:"app_id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "app-1", body.AppID)
	assert.Equal(t, "审批流程.yml", body.Filename)
	assert.Contains(t, body.Data, "kind: app")

	doc, err := dsl.Parse([]byte(body.Data))
	require.NoError(t, err)
	assert.Equal(t, "审批流程", doc.App.Name)
}

func TestExportHandler_ExportGhostApp(t *testing.T) {
	// 不存在的应用用默认值合成后照常导出
	mux := newExportRouter(&stubConnector{})

	rec := doRequest(t, mux, http.MethodGet, "/api/apps/ghost-app/export", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Data  string `json:"data"`
		AppID string `json:"app_id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ghost-app", body.AppID)

	doc, err := dsl.Parse([]byte(body.Data))
	require.NoError(t, err)
	require.NotNil(t, doc.Workflow)
}

func TestExportHandler_BatchExportZip(t *testing.T) {
	conn := &stubConnector{
		workflows: []*types.Workflow{
			stubWorkflow("app-1", "流程一"),
			stubWorkflow("app-2", "流程二"),
		},
	}
	mux := newExportRouter(conn)

	payload := `{"app_ids":["app-1","app-2"],"export_format":"zip"}`
	rec := doRequest(t, mux, http.MethodPost, "/api/workflows/batch-export", payload)
	require.Equal(t, http.StatusOK, rec.Code)

	var result workflow.BatchExportResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, 2, result.SuccessCount)
	assert.Equal(t, 2, result.TotalCount)
	assert.True(t, strings.HasPrefix(result.Filename, "workflows-export-"))

	_, err := base64.StdEncoding.DecodeString(result.Data)
	require.NoError(t, err)
}

func TestExportHandler_BatchExportDefaultsToZip(t *testing.T) {
	conn := &stubConnector{workflows: []*types.Workflow{stubWorkflow("app-1", "流程一")}}
	mux := newExportRouter(conn)

	payload := `{"app_ids":["app-1"]}`
	rec := doRequest(t, mux, http.MethodPost, "/api/workflows/batch-export", payload)
	require.Equal(t, http.StatusOK, rec.Code)

	var result workflow.BatchExportResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, workflow.ExportFormatZip, result.ExportFormat)
}

func TestExportHandler_BatchExportValidation(t *testing.T) {
	mux := newExportRouter(&stubConnector{})

	t.Run("空 app_ids", func(t *testing.T) {
		rec := doRequest(t, mux, http.MethodPost, "/api/workflows/batch-export", `{"app_ids":[]}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("未知格式", func(t *testing.T) {
		rec := doRequest(t, mux, http.MethodPost, "/api/workflows/batch-export",
			`{"app_ids":["app-1"],"export_format":"tar"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("非法 JSON", func(t *testing.T) {
		rec := doRequest(t, mux, http.MethodPost, "/api/workflows/batch-export", "{broken")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}
