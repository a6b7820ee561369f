// 版权所有 2024 TaskRelay Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
Package relay 提供任务交接路由引擎：顺序链（escalation chain）的维护、
转移请求的授权决策与原子执行。

# 概述

relay 解决的核心问题是：任务只能沿协作者链逐级向前交接
（collaborator 仅能把自己持有的任务交给链上的下一位），
而管理员可以任意调度。本包以纯决策 + 事务执行的方式建模这一规则。

# 核心模型

  - Collaborator：账户，admin 或 collaborator，链上成员持有 1-based Sequence
  - Task：工作项，状态机 pending -> in_progress -> completed，
    holder/status 仅由 Executor 写入
  - TransferRequest / Decision：一次转移提议与其 Admitted/Rejected 结果
  - ActivityEntry / ActivitySink：追加式交接审计日志

# 核心组件

  - Ledger：协作者总序的真实来源，RankOf / NextAfter / Reorder / Insert，
    任何操作后秩都保持唯一、连续、从 1 开始
  - Authorizer：纯授权决策，按角色选择 adminPolicy（无条件放行）或
    chainPolicy（仅允许持有者把任务交给链上紧邻的下一位）
  - Executor：在同一存储事务内重新授权并条件写入 holder/status，
    版本冲突返回 CONCURRENT_MODIFICATION；审计追加在提交后尽力而为

# 失败模型

拒绝原因（FORBIDDEN_ACTOR、NOT_NEXT_IN_SEQUENCE 等）是预期的类型化结果，
通过 Decision 与 *types.Error 返回，绝不 panic；只有基础设施故障
（存储不可达）作为普通 error 向边界层传播。
*/
package relay
