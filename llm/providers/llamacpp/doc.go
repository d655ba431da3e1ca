/*
Package llamacpp 实现 llama.cpp server（llama-server）的 [llm.Provider]。

请求走 OpenAI 兼容的 /v1/chat/completions，附带 llama.cpp 的采样扩展字段
（top_k、min_p、repeat_penalty、repeat_last_n）。流式响应为逐行的
"data:" 记录，以 "[DONE]" 结束，由 [StreamSSE] 解析。/health 在模型
加载期间返回 503，映射为 LLM_PROVIDER_UNAVAILABLE。
*/
package llamacpp
