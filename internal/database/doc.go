// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 database 负责打开 SQL 检查点存储与执行归档所用的数据库，
并基于 GORM 管理连接池。

# 概述

Open 按 config.DatabaseConfig 的驱动名选择 GORM 方言，打开连接后
交给 PoolManager 统一设置连接池参数。后台健康检查定时探活，成功时
通过 WithStatsHook 回调上报连接数，供指标采集使用。

# 支持的驱动

  - postgres / postgresql / pg：gorm.io/driver/postgres。
  - mysql / mariadb：gorm.io/driver/mysql。
  - sqlite：纯 Go 驱动 github.com/glebarez/sqlite。
  - sqlite3：CGO 驱动 gorm.io/driver/sqlite。

# 核心类型

  - PoolManager：持有 GORM DB 与底层 sql.DB，提供 DB()、SQLDB()、
    Ping()、GetStats()、Close()。Close 会先停止健康检查。
  - PoolConfig：最大空闲连接数、最大打开连接数、连接生命周期、
    空闲超时与健康检查间隔。
  - PoolStats：友好格式的连接池统计信息。
*/
package database
