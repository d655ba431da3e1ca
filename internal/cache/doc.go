/*
包 cache 提供基于 Redis 的可选缓存。

Manager 封装 go-redis 客户端：统一 "kyronex:" 键前缀、后台健康探针与
优雅关闭。Redis 掉线时健康标记置否，TextCache 直接跳过读写，
网络搜索等调用方退化为无缓存模式而不是逐次等待超时。
未命中返回 ErrCacheMiss。
*/
package cache
