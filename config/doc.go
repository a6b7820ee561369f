// 版权所有 2024 TaskRelay Authors
//
// 根据 MIT 许可证授权。

// Package config 提供 TaskRelay 的配置加载与校验。
//
// 配置来源按优先级合并：默认值 → YAML 文件 → 环境变量
// （前缀 TASKRELAY，比如 TASKRELAY_SERVER_HTTP_PORT）。
package config
