// Package main 提供 FlowPort 服务端程序入口。
//
// cmd/flowport 是可执行入口，提供 HTTP API 服务、健康检查和版本查询
// 子命令。支持 YAML 配置文件 + 环境变量加载、结构化日志（zap）、
// Prometheus 指标采集（独立端口暴露 /metrics）与优雅关闭。
//
// 中间件链：Recovery、RequestID、SecurityHeaders、RequestLogger、
// CORS、RateLimiter（基于 IP）、MetricsMiddleware。
// Version、BuildTime、GitCommit 通过 ldflags 在构建时注入。
package main
