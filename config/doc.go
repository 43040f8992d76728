// Package config 提供 AgentGraph 服务的配置管理功能。
//
// 包含配置加载（默认值 → YAML 文件 → 环境变量）、校验，
// 以及图定义目录的变更监听，用于运行时重新注册图。
package config
