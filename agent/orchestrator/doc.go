// Package orchestrator 把一次用户输入变成流式文本回复与有序、带情绪的语音。
//
// 一轮回复依次经过 Idle → Enriching → Streaming → Draining → Archiving → Idle：
// 语言判定与上下文增强、推理流经元标记过滤后切句派发合成、等待全部片段
// 按序下发、写入会话历史与持久化存储。直答（函数调用）轮次跳过 Streaming。
//
// 同一会话的轮次由会话锁串行化；不同会话并发执行。
package orchestrator
