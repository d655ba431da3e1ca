// Package providers 放推理服务适配器共用的部分：/v1/chat/completions 的
// 请求与响应结构、HTTP 状态到 llm.Error 的映射、错误响应体解析。
// 具体的服务实现在子包里，目前只有 llamacpp。
package providers
