// Package types 定义 flowport 的核心领域类型。
//
// 包含应用（App）、工作流（Workflow）、环境变量（EnvironmentVariable）、
// 目标实例（TargetInstance）、导入结果（ImportResult）等实体，
// 以及统一的结构化错误类型。
//
// 实体的构造权归各数据源连接器（connector 包）所有：
// 除连接器外，任何组件都不应从原始存储格式直接构造这些实体。
package types
