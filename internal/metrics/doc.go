// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 metrics 提供基于 Prometheus 的指标采集，覆盖 HTTP、图执行与
数据库连接池三个维度。

# 概述

Collector 使用 promauto 注册指标并按 namespace 隔离。它实现
graph.Observer，通过 graph.WithObserver 挂载到引擎后即可记录
执行开始与停止、节点分派、检查点、审批请求与淘汰事件。

EngineStatsCollector 在抓取时读取引擎的 GetStats，输出已注册图、
驻留执行（按状态）、待处理审批与内存检查点数量等瞬时值。

# 核心类型

  - Collector：计数器与直方图，兼作引擎观察者。
  - EngineStatsCollector：prometheus.Collector 实现，按需计算仪表值。
  - StatsSource：GetStats 的抽象，*graph.Engine 满足该接口。
*/
package metrics
