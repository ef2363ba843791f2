package connector

import (
	"sync"
	"time"
)

// 访问令牌假定 24 小时有效，到期前 5 分钟视为需要刷新
const (
	tokenValidity      = 24 * time.Hour
	tokenRefreshWindow = 5 * time.Minute
)

// tokenState 访问令牌状态。
// 状态转移（isValid / set / invalidate）显式暴露，不藏在请求方法的副作用里。
// 并发刷新不要求互斥：两个调用者同时刷新都成功时，后写入者胜出。
type tokenState struct {
	mu           sync.RWMutex
	accessToken  string
	refreshToken string
	expiresAt    time.Time
}

// isValid 判断访问令牌在当前时刻是否仍可用（剩余有效期超过刷新窗口）
func (t *tokenState) isValid(now time.Time) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.accessToken == "" || t.expiresAt.IsZero() {
		return false
	}
	return now.Before(t.expiresAt.Add(-tokenRefreshWindow))
}

// set 写入新的令牌对并重置过期时间
func (t *tokenState) set(accessToken, refreshToken string, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.accessToken = accessToken
	if refreshToken != "" {
		t.refreshToken = refreshToken
	}
	t.expiresAt = now.Add(tokenValidity)
}

// invalidate 清空令牌状态
func (t *tokenState) invalidate() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.accessToken = ""
	t.refreshToken = ""
	t.expiresAt = time.Time{}
}

// tokens 读取当前令牌对
func (t *tokenState) tokens() (accessToken, refreshToken string) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.accessToken, t.refreshToken
}
