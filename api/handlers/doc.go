// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package handlers 提供 AgentGraph HTTP API 的请求处理器实现。

# 概述

handlers 包实现图注册、执行、审批、检查点与健康检查端点，
以及统一的响应/错误处理。所有 Handler 均遵循标准 net/http 接口，
路由使用 Go 1.22 的 "METHOD /path/{id}" 模式注册。

# 核心类型

  - GraphHandler：图与执行端点，依赖 Engine 接口（*graph.Engine 满足）
  - ExecutionArchive：可选归档读取接口，内存中已淘汰的执行从此回查
  - HealthHandler：服务健康检查（/health, /healthz, /ready, /version）
  - Response：统一 JSON 响应结构（success + data + error + timestamp + request_id）
  - ErrorInfo：结构化错误信息，含 code、message、retryable 标记
  - ResponseWriter：包装 http.ResponseWriter 以捕获状态码与字节数

# 主要能力

  - 统一响应格式：WriteSuccess / WriteStatus / WriteError / WriteJSON
  - 引擎错误映射：FromEngineError 将 graph 哨兵错误转换为 types.Error，
    再按 ErrorCode 映射 HTTP 状态码（404/409/503 等）
  - 请求验证：DecodeJSONBody（1 MB 限制 + 严格模式）、ValidateContentType
  - 执行与客户端连接解耦：请求断开不会使进行中的执行失败
  - 可扩展健康检查：RegisterCheck 注册 PingCheck 等 HealthCheck 实现，
    就绪检查并发执行
*/
package handlers
