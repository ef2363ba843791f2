package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/flowport/types"
)

func TestWriteError_StatusMapping(t *testing.T) {
	cases := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"校验错误", types.NewError(types.ErrValidation, "bad input"), http.StatusBadRequest, "VALIDATION_ERROR"},
		{"未找到", types.NewError(types.ErrNotFound, "missing"), http.StatusNotFound, "NOT_FOUND"},
		{"上游不可用", types.NewError(types.ErrUpstreamUnavailable, "down"), http.StatusServiceUnavailable, "UPSTREAM_UNAVAILABLE"},
		{"上游错误", types.NewError(types.ErrUpstreamError, "bad gateway"), http.StatusBadGateway, "UPSTREAM_ERROR"},
		{"超时", types.NewError(types.ErrTimeout, "slow"), http.StatusGatewayTimeout, "TIMEOUT"},
		{"裸 error 包装为内部错误", errors.New("boom"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			WriteError(rec, tc.err, zap.NewNop())

			assert.Equal(t, tc.wantStatus, rec.Code)

			var body Response
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.False(t, body.Success)
			require.NotNil(t, body.Error)
			assert.Equal(t, tc.wantCode, body.Error.Code)
		})
	}
}

func TestWriteError_ExplicitHTTPStatusWins(t *testing.T) {
	rec := httptest.NewRecorder()
	err := types.NewError(types.ErrUpstreamError, "rate limited").WithHTTPStatus(http.StatusTooManyRequests)
	WriteError(rec, err, zap.NewNop())

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestWriteSuccess(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteSuccess(rec, map[string]string{"hello": "world"})

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))

	var body Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.Success)
	assert.False(t, body.Timestamp.IsZero())
}

func TestQueryInt(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/?page=3&bad=abc", nil)

	assert.Equal(t, 3, QueryInt(req, "page", 1))
	assert.Equal(t, 1, QueryInt(req, "bad", 1))
	assert.Equal(t, 20, QueryInt(req, "missing", 20))
}

func TestQueryBool(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/?a=true&b=1&c=yes&d=false&e=0", nil)

	assert.True(t, QueryBool(req, "a"))
	assert.True(t, QueryBool(req, "b"))
	assert.True(t, QueryBool(req, "c"))
	assert.False(t, QueryBool(req, "d"))
	assert.False(t, QueryBool(req, "e"))
	assert.False(t, QueryBool(req, "missing"))
}

func TestDecodeJSONBody(t *testing.T) {
	type payload struct {
		Name string `json:"name"`
	}

	t.Run("合法请求体", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"测试"}`))
		rec := httptest.NewRecorder()

		var dst payload
		require.NoError(t, DecodeJSONBody(rec, req, &dst, zap.NewNop()))
		assert.Equal(t, "测试", dst.Name)
	})

	t.Run("非法 JSON 已写出 400", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("{broken"))
		rec := httptest.NewRecorder()

		var dst payload
		require.Error(t, DecodeJSONBody(rec, req, &dst, zap.NewNop()))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestResponseWriter_CapturesStatus(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := NewResponseWriter(rec)

	rw.WriteHeader(http.StatusAccepted)
	rw.WriteHeader(http.StatusInternalServerError) // 第二次写入被忽略
	_, err := rw.Write([]byte("ok"))
	require.NoError(t, err)

	assert.Equal(t, http.StatusAccepted, rw.StatusCode)
	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestResponseWriter_DefaultsTo200(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := NewResponseWriter(rec)

	_, err := rw.Write([]byte("ok"))
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, rw.StatusCode)
	assert.True(t, rw.Written)
}
