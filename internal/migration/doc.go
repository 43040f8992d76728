// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 migration 管理检查点与执行归档表的 Schema 迁移，支持 PostgreSQL、
MySQL 与 SQLite，基于 golang-migrate 实现。

# 概述

迁移文件按方言内嵌在 migrations/<dialect> 目录：

  - 000001_create_graph_tables：agentgraph_checkpoints 检查点表。
  - 000002_create_execution_archive：agentgraph_executions 执行归档表。

版本记录在 agentgraph_schema_migrations 表中。

# 核心接口与类型

  - Migrator：迁移器接口，定义 Up/Down/DownAll/Steps/Goto/Force/
    Version/Status/Info/Close。
  - DefaultMigrator：基于 golang-migrate 的默认实现。NewMigrator 自行
    打开连接；NewMigratorWithDB 复用应用已有的连接池（例如 *gorm.DB
    底层的 *sql.DB），Close 时不关闭该连接。
  - CLI：命令行交互层，Run 按子命令名分发。

SQLite 使用纯 Go 的 "sqlite" 驱动（github.com/glebarez/go-sqlite）。
*/
package migration
