package importer

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/flowport/types"
)

func batchFile(name string) WorkflowFile {
	return WorkflowFile{
		Filename: name + ".yml",
		Content:  fmt.Sprintf("app:\n  name: %s\n  mode: workflow\n", name),
	}
}

// newBatchServer 模拟目标实例：按请求体中的应用名决定导入结果
func newBatchServer(t *testing.T, failNames ...string) (*httptest.Server, *[]Payload) {
	t.Helper()

	var received []Payload
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != importPath {
			w.WriteHeader(http.StatusNotFound)
			return
		}

		var payload Payload
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		received = append(received, payload)

		for _, failName := range failNames {
			if payload.Name == failName {
				w.WriteHeader(http.StatusBadRequest)
				_ = json.NewEncoder(w).Encode(map[string]any{"error": "格式不受支持"})
				return
			}
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":     "imp-" + payload.Name,
			"status": "completed",
			"app_id": "app-" + payload.Name,
		})
	}))

	return server, &received
}

func TestEngine_BatchImport_StopsAtFirstFailure(t *testing.T) {
	server, _ := newBatchServer(t, "file-2")
	defer server.Close()

	e := newTestEngine(t, server.URL)
	files := []WorkflowFile{
		batchFile("file-1"), batchFile("file-2"), batchFile("file-3"),
		batchFile("file-4"), batchFile("file-5"),
	}

	batch, err := e.BatchImport(context.Background(), "prod", files, Options{IgnoreErrors: false})
	require.NoError(t, err)

	// 第二个文件失败后批次停止，3-5 号文件不再尝试
	require.Len(t, batch.Results, 2)
	assert.True(t, batch.Results[0].Success)
	assert.False(t, batch.Results[1].Success)
	assert.Equal(t, "格式不受支持", batch.Results[1].Error)
	assert.Equal(t, 1, batch.SuccessCount)
	assert.Equal(t, 1, batch.FailedCount)
	assert.Equal(t, 5, batch.TotalCount)
}

func TestEngine_BatchImport_IgnoreErrorsProcessesAll(t *testing.T) {
	server, _ := newBatchServer(t, "file-2")
	defer server.Close()

	e := newTestEngine(t, server.URL)
	files := []WorkflowFile{
		batchFile("file-1"), batchFile("file-2"), batchFile("file-3"),
		batchFile("file-4"), batchFile("file-5"),
	}

	batch, err := e.BatchImport(context.Background(), "prod", files, Options{IgnoreErrors: true})
	require.NoError(t, err)

	require.Len(t, batch.Results, 5)
	assert.Equal(t, 4, batch.SuccessCount)
	assert.Equal(t, 1, batch.FailedCount)
	assert.Equal(t, 5, batch.TotalCount)
	assert.False(t, batch.Results[1].Success)
	assert.True(t, batch.Results[4].Success)
}

func TestEngine_BatchImport_DefaultsFromDocument(t *testing.T) {
	server, received := newBatchServer(t)
	defer server.Close()

	e := newTestEngine(t, server.URL)
	files := []WorkflowFile{
		{
			Filename: "full.yml",
			Content:  "app:\n  name: 文档内名称\n  description: 文档内描述\n  icon: \"🔥\"\n  icon_type: emoji\n  icon_background: \"#123456\"\n",
		},
		{
			Filename: "bare.yml",
			Content:  "app:\n  name: 裸文档\n",
			Name:     "调用方指定名称",
		},
	}

	batch, err := e.BatchImport(context.Background(), "prod", files, Options{})
	require.NoError(t, err)
	require.Equal(t, 2, batch.SuccessCount)
	require.Len(t, *received, 2)

	first := (*received)[0]
	assert.Equal(t, "文档内名称", first.Name)
	assert.Equal(t, "文档内描述", first.Description)
	assert.Equal(t, "🔥", first.Icon)
	assert.Equal(t, "#123456", first.IconBackground)

	// 调用方指定的名称优先于文档内名称，缺省图标回落到默认值
	second := (*received)[1]
	assert.Equal(t, "调用方指定名称", second.Name)
	assert.Equal(t, types.DefaultIcon, second.Icon)
	assert.Equal(t, types.DefaultIconType, second.IconType)
	assert.Equal(t, types.DefaultIconBackground, second.IconBackground)
}

func TestEngine_BatchImport_MalformedFileFailsLocally(t *testing.T) {
	server, received := newBatchServer(t)
	defer server.Close()

	e := newTestEngine(t, server.URL)
	files := []WorkflowFile{
		{Filename: "broken.yml", Content: "{invalid yaml: ["},
		batchFile("file-2"),
	}

	batch, err := e.BatchImport(context.Background(), "prod", files, Options{IgnoreErrors: true})
	require.NoError(t, err)

	require.Len(t, batch.Results, 2)
	assert.False(t, batch.Results[0].Success)
	assert.Contains(t, batch.Results[0].Error, "broken.yml")
	assert.True(t, batch.Results[1].Success)

	// 解析失败的文件没有产生网络调用
	require.Len(t, *received, 1)
}

func TestEngine_BatchImport_AutoConfirmsPending(t *testing.T) {
	var confirmed bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == importPath:
			w.WriteHeader(http.StatusAccepted)
			_ = json.NewEncoder(w).Encode(map[string]any{"id": "imp-p"})
		case strings.HasSuffix(r.URL.Path, "/confirm"):
			confirmed = true
			assert.Equal(t, "/console/api/apps/imports/imp-p/confirm", r.URL.Path)
			_ = json.NewEncoder(w).Encode(map[string]any{"status": "completed", "app_id": "app-p"})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	e := newTestEngine(t, server.URL)

	t.Run("默认立即确认", func(t *testing.T) {
		batch, err := e.BatchImport(context.Background(), "prod",
			[]WorkflowFile{batchFile("file-1")}, Options{IgnoreErrors: false})
		require.NoError(t, err)
		require.Len(t, batch.Results, 1)
		assert.True(t, confirmed)
		assert.Equal(t, types.ImportStatusCompleted, batch.Results[0].Status)
		assert.Equal(t, "app-p", batch.Results[0].AppID)
		assert.Equal(t, 0, batch.WarningCount)
	})

	t.Run("忽略错误模式下保留 pending", func(t *testing.T) {
		confirmed = false
		batch, err := e.BatchImport(context.Background(), "prod",
			[]WorkflowFile{batchFile("file-1")}, Options{IgnoreErrors: true})
		require.NoError(t, err)
		assert.False(t, confirmed)
		assert.Equal(t, types.ImportStatusPending, batch.Results[0].Status)
		assert.Equal(t, 1, batch.WarningCount)
	})
}

func TestEngine_BatchImport_OverwriteExisting(t *testing.T) {
	var received []Payload
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case appsListPath:
			assert.Equal(t, "审批流程", r.URL.Query().Get("name"))
			_ = json.NewEncoder(w).Encode(map[string]any{
				"data": []map[string]any{
					{"id": "app-similar", "name": "审批流程v2"},
					{"id": "app-exact", "name": "审批流程"},
				},
			})
		case importPath:
			var payload Payload
			require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
			received = append(received, payload)
			_ = json.NewEncoder(w).Encode(map[string]any{"id": "imp-1", "status": "completed"})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	e := newTestEngine(t, server.URL)
	files := []WorkflowFile{{
		Filename: "approve.yml",
		Content:  "app:\n  name: 审批流程\n  mode: workflow\n",
	}}

	batch, err := e.BatchImport(context.Background(), "prod", files, Options{OverwriteExisting: true})
	require.NoError(t, err)
	require.Equal(t, 1, batch.SuccessCount)

	// 精确同名的应用 ID 被带上，远端原地更新而不是新建
	require.Len(t, received, 1)
	assert.Equal(t, "app-exact", received[0].AppID)
}

func TestEngine_BatchImport_UnknownInstance(t *testing.T) {
	e := newTestEngine(t, "http://127.0.0.1:1")

	_, err := e.BatchImport(context.Background(), "ghost", []WorkflowFile{batchFile("f")}, Options{})
	require.Error(t, err)
	assert.Equal(t, types.ErrValidation, types.GetErrorCode(err))
}
