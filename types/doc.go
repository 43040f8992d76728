// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package types 提供 AgentGraph API 层共享的结构化错误类型。

# 概述

types 是最底层的公共包，不依赖任何内部包。HTTP 层把图引擎的哨兵错误
映射为这里的 ErrorCode，再写入统一的响应信封。

# 核心类型

  - ErrorCode：错误码（请求类与图执行类）
  - Error：结构化错误，含 HTTP 状态码、Retryable 标记与 Cause

# 主要能力

  - 链式构造：NewError(...).WithCause(...).WithHTTPStatus(...)
  - 错误工具链：AsError / GetErrorCode / IsRetryable，均支持包装链
*/
package types
