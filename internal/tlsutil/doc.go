// Package tlsutil 集中构造 HTTP 客户端：
// 远程 API（网络搜索、天气）使用加固 TLS（TLS 1.2+，仅 AEAD 密码套件），
// 本机推理 / 语音服务使用长连接的本地客户端。
package tlsutil
