package handlers

import (
	"net/http"
	"net/netip"
	"strings"
)

// DeviceIDHeader 客户端自带的设备标识，优先于 ARP 解析
const DeviceIDHeader = "X-Device-ID"

const maxDeviceIDLen = 64

// MACResolver 把 IP 解析成设备硬件地址，未知时返回 IP 本身
type MACResolver interface {
	ResolveMAC(ip string) string
}

// Identity 从请求中识别设备
type Identity struct {
	resolver MACResolver
}

// NewIdentity 创建设备识别器；resolver 为 nil 时以 IP 作为设备键
func NewIdentity(resolver MACResolver) *Identity {
	return &Identity{resolver: resolver}
}

// Resolve 返回对端 IP 与设备键
func (id *Identity) Resolve(r *http.Request) (ip, deviceKey string) {
	ip = ClientIP(r)
	if h := strings.TrimSpace(r.Header.Get(DeviceIDHeader)); h != "" {
		if len(h) > maxDeviceIDLen {
			h = h[:maxDeviceIDLen]
		}
		return ip, h
	}
	if id == nil || id.resolver == nil {
		return ip, ip
	}
	return ip, id.resolver.ResolveMAC(ip)
}

// IsLocalIP 回环地址与私有网段
func IsLocalIP(ip string) bool {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	return addr.IsLoopback() || addr.IsPrivate()
}
