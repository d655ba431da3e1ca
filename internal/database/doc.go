/*
包 database 提供基于 GORM 的数据库打开、连接池与事务重试。

Open 按 config.DatabaseConfig.Driver 选择 sqlite（glebarez，纯 Go）、
postgres 或 mysql 方言。Pool 设置连接池并后台探活；sqlite 固定单连接。
Transact 在锁冲突时退避重试，持久化层的多语句写入都经由它执行。
*/
package database
