// 版权所有 2024 TaskRelay Authors
// 基于 MIT 许可证发布

/*
Package handlers 提供 TaskRelay HTTP API 的请求处理器实现。

# 概述

handlers 包实现了 TaskRelay 所有 HTTP 端点的请求处理逻辑，
包括任务 CRUD、交接执行、交接链管理、协作者账户以及统一的
响应/错误处理。所有 Handler 均遵循标准 net/http 接口，路由
通过 Go 1.22 的方法限定模式注册。

# 核心类型

  - TransferHandler      — 交接执行（POST /tasks/{id}/transfer）
  - ChainHandler         — 链查询、重排、入链（admin 限定）
  - TaskHandler          — 任务 CRUD、清单、完结与活动记录
  - CollaboratorHandler  — 账户 CRUD 与顺位查询
  - HealthHandler        — 服务健康检查（/healthz, /readyz, /version）
  - Response             — 统一 JSON 响应结构（success + data + error + timestamp）
  - ErrorInfo            — 结构化错误信息，含 code、message、retryable 标记
  - ResponseWriter       — 包装 http.ResponseWriter 以捕获状态码

# 主要能力

  - 统一响应格式：WriteSuccess / WriteError / WriteJSON 辅助函数
  - 请求验证：DecodeJSONBody（严格模式拒绝未知字段）
  - ErrorCode → HTTP 状态码自动映射（4xx/5xx）
  - 身份提取：RequireActor / RequireAdmin 从认证上下文读取操作者
  - 可扩展健康检查：RegisterCheck 注册自定义 HealthCheck 实现

持有人与任务状态的变更只经由 TransferHandler 背后的执行器；
CRUD 路由永远不直接改写这两个字段。
*/
package handlers
