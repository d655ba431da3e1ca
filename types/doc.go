/*
Package types 提供 KYRONEX 各层共享的基础类型。

目前只包含结构化错误体系：ErrorCode 错误码、Error 错误结构（HTTP 状态码、
Retryable 标记、Cause 链）以及 IsRetryable / GetErrorCode / IsErrorCode 等辅助函数。
*/
package types
