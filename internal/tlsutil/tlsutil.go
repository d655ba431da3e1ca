package tlsutil

import (
	"crypto/tls"
	"net"
	"net/http"
	"time"
)

// aeadSuites TLS 1.2 下只允许 AEAD 套件（1.3 的套件不可配置）
var aeadSuites = []uint16{
	tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
	tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
	tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
	tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
	tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305,
	tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305,
}

// DefaultTLSConfig TLS 1.2 起步，仅 AEAD
func DefaultTLSConfig() *tls.Config {
	suites := make([]uint16, len(aeadSuites))
	copy(suites, aeadSuites)
	return &tls.Config{MinVersion: tls.VersionTLS12, CipherSuites: suites}
}

func newTransport(dialTimeout time.Duration) *http.Transport {
	return &http.Transport{
		TLSClientConfig: DefaultTLSConfig(),
		Proxy:           http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   dialTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		IdleConnTimeout: 90 * time.Second,
	}
}

// SecureTransport 访问公网 HTTPS（Tavily、天气）
func SecureTransport() *http.Transport {
	tr := newTransport(10 * time.Second)
	tr.ForceAttemptHTTP2 = true
	tr.MaxIdleConns = 20
	tr.TLSHandshakeTimeout = 10 * time.Second
	tr.ExpectContinueTimeout = time.Second
	return tr
}

// SecureHTTPClient 公网客户端
func SecureHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{Timeout: timeout, Transport: SecureTransport()}
}

// LocalTransport 访问本机的 llama.cpp / whisper / piper：
// 拨号超时短，每个主机保留少量热连接，不走代理也不协商 HTTP/2。
func LocalTransport() *http.Transport {
	tr := newTransport(2 * time.Second)
	tr.Proxy = nil
	tr.MaxIdleConns = 16
	tr.MaxIdleConnsPerHost = 8
	return tr
}

// LocalHTTPClient 本机客户端；timeout 为 0 时由请求 ctx 控制截止时间（流式）
func LocalHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{Timeout: timeout, Transport: LocalTransport()}
}
