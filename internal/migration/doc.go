/*
包 migration 基于 golang-migrate 管理 KYRONEX 持久化表结构
（device_profiles、connection_records、memory_facts、transcript_lines）。

迁移文件按方言嵌入二进制（postgres / mysql / sqlite）。DefaultMigrator 提供
Up/Down/Steps/Goto/Force/Version/Status/Info；CLI 供 `kyronex migrate`
子命令使用；ApplyAll 在服务启动时把数据库升级到最新版本。
*/
package migration
