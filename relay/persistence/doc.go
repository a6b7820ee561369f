// 版权所有 2024 TaskRelay Authors
//
// 根据 MIT 许可证授权。

// Package persistence 提供任务接力数据的存储后端。
//
// # 概述
//
// persistence 包实现 relay 包声明的存储接口（阶梯账本、转移事务、
// 审计日志），并补充任务与协作者的 CRUD 存储。
//
// # 后端
//
//   - GormStore：关系型后端，支持 PostgreSQL / MySQL / SQLite，
//     通过条件更新（版本号匹配）实现乐观并发控制
//   - MemoryStore：进程内后端，用于测试与单机开发
//   - CachedLedger：装饰器，把阶梯读取放入 Redis，写入时通过
//     世代计数器整体失效
//
// # 事务模型
//
// Transact 在单个数据库事务内执行回调，回调拿到的视图读写都走
// 事务句柄，授权检查与任务写入因此构成一个原子单元。审计条目在
// 事务提交后追加，失败只记警告，不回滚转移。
package persistence
