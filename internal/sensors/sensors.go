// Package sensors 从 procfs/sysfs 读取主机状态：内存、SoC 温度、运行时长、
// 用于设备识别的 ARP 表，以及小内存板卡上回复间隙执行的页缓存释放。
package sensors

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// =============================================================================
// 🌡️ 主机传感器
// =============================================================================

// 默认 procfs / sysfs 路径
const (
	DefaultMeminfoPath = "/proc/meminfo"
	DefaultUptimePath  = "/proc/uptime"
	DefaultARPPath     = "/proc/net/arp"
	DefaultThermalPath = "/sys/devices/virtual/thermal/thermal_zone0/temp"
)

// ErrNoReading 数据源存在但没有可用数值
var ErrNoReading = errors.New("sensors: no reading")

// Memory 内存快照（MB）
type Memory struct {
	TotalMB     int
	AvailableMB int
}

// UsedMB 总量减可用量
func (m Memory) UsedMB() int { return m.TotalMB - m.AvailableMB }

// Reader 读取主机传感器。路径是公开字段，测试可指向夹具文件。
type Reader struct {
	MeminfoPath string
	UptimePath  string
	ARPPath     string
	ThermalPath string

	// DropCachesCommand DropCaches 执行的命令
	DropCachesCommand []string

	logger *zap.Logger
}

// NewReader 使用默认路径；thermalPath 为空时沿用 DefaultThermalPath
func NewReader(thermalPath string, logger *zap.Logger) *Reader {
	if logger == nil {
		logger = zap.NewNop()
	}
	if thermalPath == "" {
		thermalPath = DefaultThermalPath
	}
	return &Reader{
		MeminfoPath:       DefaultMeminfoPath,
		UptimePath:        DefaultUptimePath,
		ARPPath:           DefaultARPPath,
		ThermalPath:       thermalPath,
		DropCachesCommand: []string{"sudo", "sysctl", "vm.drop_caches=3"},
		logger:            logger.With(zap.String("component", "sensors")),
	}
}

// Memory 解析 MemTotal 与 MemAvailable
func (r *Reader) Memory() (Memory, error) {
	f, err := os.Open(r.MeminfoPath)
	if err != nil {
		return Memory{}, err
	}
	defer f.Close()

	var m Memory
	var seen int
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 2 {
			continue
		}
		kb, err := strconv.Atoi(fields[1])
		if err != nil {
			continue
		}
		switch fields[0] {
		case "MemTotal:":
			m.TotalMB = kb / 1024
			seen++
		case "MemAvailable:":
			m.AvailableMB = kb / 1024
			seen++
		}
	}
	if err := sc.Err(); err != nil {
		return Memory{}, err
	}
	if seen < 2 {
		return Memory{}, ErrNoReading
	}
	return m, nil
}

// TemperatureC 读取温区（毫摄氏度）并换算为摄氏度
func (r *Reader) TemperatureC() (float64, error) {
	raw, err := os.ReadFile(r.ThermalPath)
	if err != nil {
		return 0, err
	}
	milli, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", r.ThermalPath, err)
	}
	return float64(milli) / 1000, nil
}

// Uptime 读取 /proc/uptime 第一列
func (r *Reader) Uptime() (time.Duration, error) {
	raw, err := os.ReadFile(r.UptimePath)
	if err != nil {
		return 0, err
	}
	fields := strings.Fields(string(raw))
	if len(fields) == 0 {
		return 0, ErrNoReading
	}
	secs, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", r.UptimePath, err)
	}
	return time.Duration(secs * float64(time.Second)), nil
}

// Status 生成播报用的系统报告，各项以 " | " 连接，读取失败的项跳过
func (r *Reader) Status() string {
	var parts []string
	if m, err := r.Memory(); err == nil {
		parts = append(parts, fmt.Sprintf("RAM: %dMB/%dMB (%dMB libre)", m.UsedMB(), m.TotalMB, m.AvailableMB))
	}
	if t, err := r.TemperatureC(); err == nil {
		parts = append(parts, fmt.Sprintf("Température: %.1f°C", t))
	}
	if up, err := r.Uptime(); err == nil {
		h := int(up.Hours())
		m := int(up.Minutes()) % 60
		parts = append(parts, fmt.Sprintf("Uptime: %dh%02dm", h, m))
	}
	if len(parts) == 0 {
		return "Systèmes opérationnels."
	}
	return strings.Join(parts, " | ")
}

// ResolveMAC 在 ARP 表中查 IP，返回大写 MAC；查不到时返回 IP 本身
func (r *Reader) ResolveMAC(ip string) string {
	f, err := os.Open(r.ARPPath)
	if err != nil {
		return ip
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 4 || fields[0] != ip {
			continue
		}
		mac := strings.ToUpper(fields[3])
		if mac != "00:00:00:00:00:00" {
			return mac
		}
	}
	return ip
}

// DropCaches 请求内核释放干净页缓存，错误仅供记录日志
func (r *Reader) DropCaches(ctx context.Context, timeout time.Duration) error {
	if len(r.DropCachesCommand) == 0 {
		return nil
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	cmd := exec.CommandContext(ctx, r.DropCachesCommand[0], r.DropCachesCommand[1:]...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("drop caches: %w (%s)", err, strings.TrimSpace(string(out)))
	}
	r.logger.Debug("page cache dropped")
	return nil
}
