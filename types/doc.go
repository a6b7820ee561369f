// 版权所有 2024 TaskRelay Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
Package types 提供 TaskRelay 服务的全局共享类型定义。

# 概述

types 是服务最底层的公共包，不依赖任何内部包，为 relay、api、cmd
等上层模块提供统一的类型契约。所有跨包共享的枚举、错误码与
Context 传播辅助函数均定义于此，以避免循环依赖。

# 核心类型

  - Role              — 账户角色（admin / collaborator）
  - Error / ErrorCode — 结构化错误体系，含 HTTP 状态码与 Retryable 标记

# 主要能力

  - Context 传播：WithRequestID / WithActorID / WithActorRole，
    由认证中间件写入，handler 与核心逻辑读取。
  - 错误分类：转移校验失败（FORBIDDEN_ACTOR、NOT_NEXT_IN_SEQUENCE 等）
    与基础设施错误（INTERNAL_ERROR）统一建模，
    CONCURRENT_MODIFICATION 标记为可重试。
*/
package types
