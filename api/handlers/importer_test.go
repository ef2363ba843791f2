package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/flowport/config"
	"github.com/BaSui01/flowport/importer"
	"github.com/BaSui01/flowport/types"
)

func newImportRouter(t *testing.T, upstreamURL string) *http.ServeMux {
	t.Helper()

	logger := zap.NewNop()
	engine := importer.NewEngine(config.ImportConfig{
		Timeout:       5 * time.Second,
		RetryAttempts: 2,
		RetryDelay:    time.Millisecond,
	}, []types.TargetInstance{
		{
			ID:        "prod",
			Name:      "生产实例",
			URL:       upstreamURL,
			IsDefault: true,
			Auth:      types.InstanceAuth{Type: "bearer", Token: "prod-token"},
		},
	}, logger)

	h := NewImportHandler(engine, nil, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/workflows/import", h.HandleImport)
	mux.HandleFunc("POST /api/workflows/import/confirm", h.HandleConfirm)
	mux.HandleFunc("POST /api/workflows/batch-import", h.HandleBatchImport)
	mux.HandleFunc("GET /api/instances", h.HandleListInstances)
	mux.HandleFunc("POST /api/instances/{instance_id}/test", h.HandleTestInstance)
	return mux
}

// newUpstreamDify 模拟目标 Dify 实例的导入端点
func newUpstreamDify(t *testing.T) *httptest.Server {
	t.Helper()

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/console/api/apps/imports":
			assert.Equal(t, "Bearer prod-token", r.Header.Get("Authorization"))
			_ = json.NewEncoder(w).Encode(map[string]any{
				"id":     "imp-1",
				"status": "completed",
				"app_id": "app-new",
			})
		case strings.HasSuffix(r.URL.Path, "/confirm"):
			_ = json.NewEncoder(w).Encode(map[string]any{
				"status": "completed",
				"app_id": "app-confirmed",
			})
		case r.URL.Path == "/console/api/apps":
			_ = json.NewEncoder(w).Encode(map[string]any{"data": []any{}})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
}

func TestImportHandler_Import(t *testing.T) {
	server := newUpstreamDify(t)
	defer server.Close()

	mux := newImportRouter(t, server.URL)

	payload := `{
		"target_instance_id": "prod",
		"mode": "yaml-content",
		"yaml_content": "app:\n  name: 测试\n  mode: workflow\n"
	}`
	rec := doRequest(t, mux, http.MethodPost, "/api/workflows/import", payload)
	require.Equal(t, http.StatusOK, rec.Code)

	var result types.ImportResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.True(t, result.Success)
	assert.Equal(t, types.ImportStatusCompleted, result.Status)
	assert.Equal(t, "app-new", result.AppID)
}

func TestImportHandler_ImportValidation(t *testing.T) {
	server := newUpstreamDify(t)
	defer server.Close()

	mux := newImportRouter(t, server.URL)

	t.Run("缺少 target_instance_id", func(t *testing.T) {
		rec := doRequest(t, mux, http.MethodPost, "/api/workflows/import",
			`{"mode":"yaml-content","yaml_content":"app: {}"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("未知实例", func(t *testing.T) {
		rec := doRequest(t, mux, http.MethodPost, "/api/workflows/import",
			`{"target_instance_id":"ghost","mode":"yaml-content","yaml_content":"app: {}"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)

		var body Response
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		require.NotNil(t, body.Error)
		assert.Equal(t, string(types.ErrValidation), body.Error.Code)
	})

	t.Run("缺少 yaml_content", func(t *testing.T) {
		rec := doRequest(t, mux, http.MethodPost, "/api/workflows/import",
			`{"target_instance_id":"prod","mode":"yaml-content"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestImportHandler_Confirm(t *testing.T) {
	server := newUpstreamDify(t)
	defer server.Close()

	mux := newImportRouter(t, server.URL)

	rec := doRequest(t, mux, http.MethodPost, "/api/workflows/import/confirm",
		`{"target_instance_id":"prod","import_id":"imp-1"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var result types.ImportResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.True(t, result.Success)
	assert.Equal(t, "app-confirmed", result.AppID)
}

func TestImportHandler_ConfirmValidation(t *testing.T) {
	mux := newImportRouter(t, "http://127.0.0.1:1")

	rec := doRequest(t, mux, http.MethodPost, "/api/workflows/import/confirm",
		`{"target_instance_id":"prod"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestImportHandler_BatchImport(t *testing.T) {
	server := newUpstreamDify(t)
	defer server.Close()

	mux := newImportRouter(t, server.URL)

	payload := `{
		"target_instance_id": "prod",
		"files": [
			{"filename": "a.yml", "content": "app:\n  name: 流程A\n  mode: workflow\n"},
			{"filename": "b.yml", "content": "app:\n  name: 流程B\n  mode: workflow\n"}
		],
		"import_options": {"ignore_errors": false}
	}`
	rec := doRequest(t, mux, http.MethodPost, "/api/workflows/batch-import", payload)
	require.Equal(t, http.StatusOK, rec.Code)

	var batch types.BatchImportResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &batch))
	assert.Equal(t, 2, batch.SuccessCount)
	assert.Equal(t, 0, batch.FailedCount)
	assert.Equal(t, 2, batch.TotalCount)
}

func TestImportHandler_BatchImportValidation(t *testing.T) {
	mux := newImportRouter(t, "http://127.0.0.1:1")

	t.Run("空文件列表", func(t *testing.T) {
		rec := doRequest(t, mux, http.MethodPost, "/api/workflows/batch-import",
			`{"target_instance_id":"prod","files":[]}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("缺少实例 ID", func(t *testing.T) {
		rec := doRequest(t, mux, http.MethodPost, "/api/workflows/batch-import",
			`{"files":[{"filename":"a.yml","content":"app: {}"}]}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestImportHandler_ListInstances(t *testing.T) {
	mux := newImportRouter(t, "http://dify.example.com")

	rec := doRequest(t, mux, http.MethodGet, "/api/instances", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Instances []importer.InstanceSummary `json:"instances"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Instances, 1)
	assert.Equal(t, "prod", body.Instances[0].ID)
	assert.Equal(t, "bearer", body.Instances[0].AuthType)
	assert.True(t, body.Instances[0].IsDefault)
}

func TestImportHandler_TestInstance(t *testing.T) {
	server := newUpstreamDify(t)
	defer server.Close()

	mux := newImportRouter(t, server.URL)

	t.Run("可连接", func(t *testing.T) {
		rec := doRequest(t, mux, http.MethodPost, "/api/instances/prod/test", "")
		require.Equal(t, http.StatusOK, rec.Code)

		var body map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, importer.ConnStatusConnected, body["status"])
		assert.Equal(t, true, body["connected"])
	})

	t.Run("未知实例返回 404", func(t *testing.T) {
		rec := doRequest(t, mux, http.MethodPost, "/api/instances/ghost/test", "")
		assert.Equal(t, http.StatusNotFound, rec.Code)

		var body map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, importer.ConnStatusNotFoundErr, body["status"])
	})
}
