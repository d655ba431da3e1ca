/*
包 streaming 提供模型流式输出的过滤与出站事件缓冲。

# 概述

模型以增量方式返回文本，思考块（<think>…</think>）和控制标记
（<|im_end|> 等）可能被任意切分在多个增量中。MetaFilter 按顺序扫描
原始输出，遇到尚无法判定的标记片段时暂扣，只发送确认干净的文本，
因此同一原始输出无论如何切分，发送结果都完全一致，且从不重复发送。

# 核心类型

  - MetaFilter — 单次回复的过滤器：Push 返回新增干净文本，Finish 丢弃
    残留片段，Clean 返回最终回复。
  - Buffer — 泛型有界队列，支持 Block、DropOldest、DropNewest、Error
    四种策略，用于每个 WebSocket 订阅者的出站事件队列。
*/
package streaming
