/*
包 voice 负责把流式回复变成有序的语音片段。

# 概述

模型输出经过滤后逐段进入 Segmenter，按句末标点或换行切成可独立合成的片段；
过短的片段向后合并。每个片段立即交给 Dispatcher，由 internal/pool 的
worker 并发合成，再由单个消费者严格按派发顺序交给 Sink。

# 核心类型

  - Segmenter：增量切句，Flush 输出剩余文本
  - Dispatcher / Sink / Delivery：并发合成、有序下发
  - Synthesizer：短语切分、自然停顿、情绪音效、写入 AudioStore
  - Emotion / EmotionLatch：规则表打分，每次回复在首个片段冻结
  - EffectProfile / ApplyEffects：纯 Go 音效链（变调、变速、过载、回声、
    相位、颤音、高低架滤波、增益、峰值限制）
*/
package voice
