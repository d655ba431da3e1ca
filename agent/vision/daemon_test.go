package vision

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/BaSui01/kyronex/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const helperEnv = "KYRONEX_VISION_HELPER"

// TestHelperDaemon 不是真正的测试：作为子进程时模拟视觉守护进程
func TestHelperDaemon(t *testing.T) {
	mode := os.Getenv(helperEnv)
	if mode == "" {
		return
	}
	fmt.Println("READY yolo")
	sc := bufio.NewScanner(os.Stdin)
	for sc.Scan() {
		switch sc.Text() {
		case "quit":
			os.Exit(0)
		case "capture":
			switch mode {
			case "ok":
				fmt.Println(`{"description":"Je détecte 2 personnes et 1 chaise.","objects":[{"label":"personne"},{"label":"chaise"},{"label":"personne"}]}`)
			case "error":
				fmt.Println(`{"error":"Camera indisponible"}`)
			case "crash":
				os.Exit(3)
			case "silent":
			}
		}
	}
	os.Exit(0)
}

func helperConfig(t *testing.T, mode string) config.VisionConfig {
	t.Setenv(helperEnv, mode)
	cfg := config.DefaultVisionConfig()
	cfg.Enabled = true
	cfg.Command = os.Args[0]
	cfg.Args = []string{"-test.run=TestHelperDaemon"}
	cfg.StartTimeout = 5 * time.Second
	cfg.CaptureTimeout = 2 * time.Second
	return cfg
}

func TestDaemon_Capture(t *testing.T) {
	d := NewDaemon(helperConfig(t, "ok"), nil)
	defer d.Close()

	c, err := d.Capture(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Je détecte 2 personnes et 1 chaise.", c.Description)
	assert.Equal(t, 2, c.Count("personne"))

	// 进程常驻，第二次请求复用
	desc, err := d.Describe(context.Background())
	require.NoError(t, err)
	assert.Contains(t, desc, "personnes")
}

func TestDaemon_ErrorResponse(t *testing.T) {
	d := NewDaemon(helperConfig(t, "error"), nil)
	defer d.Close()

	_, err := d.Capture(context.Background())
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Contains(t, err.Error(), "Camera indisponible")
}

func TestDaemon_CrashRestarts(t *testing.T) {
	d := NewDaemon(helperConfig(t, "crash"), nil)
	defer d.Close()

	_, err := d.Capture(context.Background())
	assert.ErrorIs(t, err, ErrEmptyResponse)

	// 下一次请求重新拉起进程
	_, err = d.Capture(context.Background())
	assert.ErrorIs(t, err, ErrEmptyResponse)
}

func TestDaemon_Timeout(t *testing.T) {
	cfg := helperConfig(t, "silent")
	cfg.CaptureTimeout = 100 * time.Millisecond
	d := NewDaemon(cfg, nil)
	defer d.Close()

	start := time.Now()
	_, err := d.Capture(context.Background())
	require.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestDaemon_Disabled(t *testing.T) {
	d := NewDaemon(config.VisionConfig{}, nil)
	_, err := d.Capture(context.Background())
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.NoError(t, d.Close())
}
