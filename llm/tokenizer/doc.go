// Package tokenizer 提供统一的 token 计数接口与历史裁剪（FitHistory），
// 支持 tiktoken 编码与无需词表的估算器，用于把对话历史限制在本地模型的
// 上下文窗口内。
package tokenizer
