// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package main 提供 AgentGraph 服务端程序入口。

# 概述

cmd/agentgraph 是图执行引擎的可执行入口，提供 HTTP API 服务、本地试运行、
定义校验、数据库迁移、健康检查和版本查询等子命令。程序支持 YAML 配置文件
与 AGENTGRAPH_ 环境变量、结构化日志（zap）、Prometheus 指标、OpenTelemetry
追踪以及图定义目录热加载。

# 核心类型

  - Server：组装检查点存储、执行归档、引擎与 API/Metrics 双端口
  - Middleware：HTTP 中间件函数签名 func(http.Handler) http.Handler

# 主要能力

  - 子命令：serve、run（执行单个定义并输出 JSON）、validate、migrate、
    version、health
  - 中间件链：Recovery、RequestID、OTelTracing、SecurityHeaders、
    RequestLogger、Metrics、CORS、APIKeyAuth、RateLimiter（按调用方或 IP）
  - 内置处理器：set、log、sleep、fail，供纯定义文件的图直接引用
  - 启动时可自动迁移数据库，执行结束后写入 SQL 归档
  - 优雅关闭：信号 → 停止监听 → 逆序关闭引擎、存储、数据库与遥测
  - 构建注入：Version、BuildTime、GitCommit 通过 ldflags 设置
*/
package main
