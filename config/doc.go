// Package config 提供 KYRONEX 的配置管理功能。
//
// 配置按 默认值 → YAML 文件 → 环境变量（前缀 KYRONEX）三层加载，
// 覆盖 HTTP 服务、LLM 推理、语音合成/识别、视觉守护进程、
// 网络搜索、本地知识库、回复管线、主动播报、Redis、数据库与遥测。
package config
