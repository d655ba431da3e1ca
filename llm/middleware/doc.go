/*
包 middleware 提供推理请求发出前的改写器链。

llama.cpp 的聊天模板（Mistral、Gemma 等）对消息顺序有严格要求：
system 只能出现在开头、user/assistant 必须交替、首条对话消息必须是 user。
会话裁剪、函数调用回合与主动播报都可能破坏这些约束，改写器在线协议转换前
把请求整理成模板可接受的形状。

# 核心类型

  - RequestRewriter：Rewrite 与 Name
  - RewriterChain：按顺序执行改写器，任一失败即中断
  - RoleAlternation：合并 system、丢弃空消息、合并相邻同角色消息
*/
package middleware
