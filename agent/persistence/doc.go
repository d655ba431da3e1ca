/*
包 persistence 保存跨会话的长期数据：设备档案、连接统计、记忆事实与对话转录。

# 概述

所有表通过 GORM 访问，方言由 internal/database 按配置选择
（sqlite / postgres / mysql），表结构由 internal/migration 管理。
读路径在数据库不可用或数据损坏时降级为空默认值并记录日志，
不会让一轮对话失败；写路径返回错误，由调用方决定是否忽略。

# 核心类型

  - Store：持有 *gorm.DB 与时钟，所有子存储共享
  - DeviceProfile：设备（MAC 或 IP）对应的名字与语言偏好
  - Stats / ActiveSession / Summary：心跳会话与连接统计
  - MemoryFact：记忆事实，全局最多保留 50 条
  - TranscriptLine：按用户、按日的对话转录
*/
package persistence
