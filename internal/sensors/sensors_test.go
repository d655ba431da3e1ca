package sensors

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const meminfoFixture = `MemTotal:        7943212 kB
MemFree:          512000 kB
MemAvailable:    2048000 kB
Buffers:          102400 kB
`

const arpFixture = `IP address       HW type     Flags       HW address            Mask     Device
192.168.1.20     0x1         0x2         aa:bb:cc:dd:ee:ff     *        wlan0
192.168.1.30     0x1         0x0         00:00:00:00:00:00     *        wlan0
`

func writeFixture(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func fixtureReader(t *testing.T) *Reader {
	r := NewReader(writeFixture(t, "temp", "72500\n"), nil)
	r.MeminfoPath = writeFixture(t, "meminfo", meminfoFixture)
	r.UptimePath = writeFixture(t, "uptime", "7384.52 14000.00\n")
	r.ARPPath = writeFixture(t, "arp", arpFixture)
	return r
}

func TestReader_Memory(t *testing.T) {
	m, err := fixtureReader(t).Memory()
	require.NoError(t, err)
	assert.Equal(t, 7757, m.TotalMB)
	assert.Equal(t, 2000, m.AvailableMB)
	assert.Equal(t, 5757, m.UsedMB())
}

func TestReader_MemoryIncomplete(t *testing.T) {
	r := NewReader("", nil)
	r.MeminfoPath = writeFixture(t, "meminfo", "MemTotal: 100 kB\n")
	_, err := r.Memory()
	assert.ErrorIs(t, err, ErrNoReading)
}

func TestReader_TemperatureAndUptime(t *testing.T) {
	r := fixtureReader(t)

	temp, err := r.TemperatureC()
	require.NoError(t, err)
	assert.InDelta(t, 72.5, temp, 0.001)

	up, err := r.Uptime()
	require.NoError(t, err)
	assert.Equal(t, 2*time.Hour+3*time.Minute, up.Truncate(time.Minute))
}

func TestReader_Status(t *testing.T) {
	assert.Equal(t, "RAM: 5757MB/7757MB (2000MB libre) | Température: 72.5°C | Uptime: 2h03m",
		fixtureReader(t).Status())

	r := NewReader(filepath.Join(t.TempDir(), "missing"), nil)
	r.MeminfoPath = r.ThermalPath
	r.UptimePath = r.ThermalPath
	assert.Equal(t, "Systèmes opérationnels.", r.Status())
}

func TestReader_ResolveMAC(t *testing.T) {
	r := fixtureReader(t)
	assert.Equal(t, "AA:BB:CC:DD:EE:FF", r.ResolveMAC("192.168.1.20"))
	assert.Equal(t, "192.168.1.30", r.ResolveMAC("192.168.1.30"), "incomplete entry falls back to IP")
	assert.Equal(t, "10.0.0.9", r.ResolveMAC("10.0.0.9"))

	r.ARPPath = filepath.Join(t.TempDir(), "none")
	assert.Equal(t, "192.168.1.20", r.ResolveMAC("192.168.1.20"))
}

func TestReader_DropCaches(t *testing.T) {
	r := NewReader("", nil)

	r.DropCachesCommand = []string{"true"}
	assert.NoError(t, r.DropCaches(context.Background(), time.Second))

	r.DropCachesCommand = []string{"false"}
	assert.Error(t, r.DropCaches(context.Background(), time.Second))

	r.DropCachesCommand = nil
	assert.NoError(t, r.DropCaches(context.Background(), time.Second))
}
