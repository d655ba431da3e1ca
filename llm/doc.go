/*
包 llm 定义 KYRONEX 与推理服务之间的契约：消息、采样参数、流式增量、
健康状态以及统一错误类型。

# 核心接口

  - [Provider]：Completion / Stream / HealthCheck / Name
  - [Error]：带错误码、HTTP 状态与可重试标记的推理错误

# 子包

  - llm/providers/llamacpp：llama.cpp server 适配
  - llm/streaming：流式输出中的思考块与控制标记过滤
  - llm/tokenizer：提示词 token 预算
  - llm/speech：piper 语音合成、whisper 语音识别与 WAV 编解码
*/
package llm
