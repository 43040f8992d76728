// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 persistence 为图执行引擎提供检查点与执行记录的持久化后端。

# 概述

引擎自身在内存中保留检查点；本包实现 graph.CheckpointStore 接口，
让检查点在进程重启或执行被淘汰后仍可读取，并支持从任意检查点恢复执行。

# 后端

  - RedisCheckpointStore：基于 go-redis，数据键 + 有序集合索引，适合分布式部署。
  - SQLStore：基于 GORM，支持 PostgreSQL / MySQL / SQLite，
    同时归档执行快照（Archiver 观察者在每次执行停止时写入）。
  - MongoCheckpointStore：基于 mongo-driver v2 的文档存储。
  - MultiStore：并发扇出写入多个后端，读取按顺序回退。

# 使用

	store, err := persistence.NewStore(ctx, cfg, persistence.Deps{DB: db, Logger: logger})
	engine, err := graph.New(engineCfg, graph.WithCheckpointStore(store))

所有后端以 JSON 编码检查点内容，数值在读回后为 float64。
*/
package persistence
