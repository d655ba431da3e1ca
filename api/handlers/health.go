package handlers

import (
	"context"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/kyronex/api"
	"github.com/BaSui01/kyronex/llm"
)

// =============================================================================
// 🏥 健康检查
// =============================================================================

const probeTimeout = 5 * time.Second

// HealthCheck /ready 的一项依赖检查
type HealthCheck interface {
	Name() string
	Check(ctx context.Context) error
}

// HealthStatus /healthz 与 /ready 的响应
type HealthStatus struct {
	Status    string                 `json:"status"` // healthy | unhealthy
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
}

// CheckResult 单项结果
type CheckResult struct {
	Status  string `json:"status"` // pass | fail
	Message string `json:"message,omitempty"`
	Latency string `json:"latency,omitempty"`
}

// HealthHandler /api/health、/healthz、/ready、/version
type HealthHandler struct {
	provider llm.Provider
	logger   *zap.Logger

	mu     sync.RWMutex
	checks []HealthCheck
}

// NewHealthHandler provider 供 /api/health 探活，可为 nil
func NewHealthHandler(provider llm.Provider, logger *zap.Logger) *HealthHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HealthHandler{provider: provider, logger: logger.With(zap.String("component", "health_handler"))}
}

// RegisterCheck 追加一项就绪检查
func (h *HealthHandler) RegisterCheck(check HealthCheck) {
	h.mu.Lock()
	h.checks = append(h.checks, check)
	h.mu.Unlock()
}

// HandleHealth 前端轮询用，推理服务离线也返回 200
// @Summary 健康检查
// @Tags 健康
// @Produce json
// @Success 200 {object} api.HealthResponse
// @Router /api/health [get]
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	online := false
	if h.provider != nil {
		ctx, cancel := context.WithTimeout(r.Context(), probeTimeout)
		err := ProviderCheck(h.provider)(ctx)
		cancel()
		online = err == nil
		if err != nil {
			h.logger.Debug("llm probe failed", zap.Error(err))
		}
	}

	resp := api.HealthResponse{
		Status:    "en ligne",
		KITT:      "Knight Industries Two Thousand, opérationnel",
		LLMServer: online,
	}
	if !online {
		resp.Status = "llm_hors_ligne"
	}
	WriteJSON(w, http.StatusOK, resp)
}

// HandleHealthz 进程存活
// @Summary 存活探针
// @Tags 健康
// @Produce json
// @Success 200 {object} HealthStatus
// @Router /healthz [get]
func (h *HealthHandler) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, HealthStatus{Status: "healthy", Timestamp: time.Now()})
}

// HandleReady 并发执行全部检查，任一失败返回 503
// @Summary 就绪检查
// @Tags 健康
// @Produce json
// @Success 200 {object} HealthStatus "服务已就绪"
// @Failure 503 {object} HealthStatus "服务尚未就绪"
// @Router /ready [get]
func (h *HealthHandler) HandleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), probeTimeout)
	defer cancel()

	h.mu.RLock()
	checks := append([]HealthCheck(nil), h.checks...)
	h.mu.RUnlock()

	results := make([]CheckResult, len(checks))
	var wg sync.WaitGroup
	for i, c := range checks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = h.runCheck(ctx, c)
		}()
	}
	wg.Wait()

	out := HealthStatus{Status: "healthy", Timestamp: time.Now(), Checks: make(map[string]CheckResult, len(checks))}
	code := http.StatusOK
	for i, c := range checks {
		out.Checks[c.Name()] = results[i]
		if results[i].Status != "pass" {
			out.Status = "unhealthy"
			code = http.StatusServiceUnavailable
		}
	}
	WriteJSON(w, code, out)
}

func (h *HealthHandler) runCheck(ctx context.Context, c HealthCheck) CheckResult {
	start := time.Now()
	err := c.Check(ctx)
	latency := time.Since(start)
	if err == nil {
		return CheckResult{Status: "pass", Latency: latency.String()}
	}
	h.logger.Warn("readiness check failed",
		zap.String("check", c.Name()), zap.Duration("latency", latency), zap.Error(err))
	return CheckResult{Status: "fail", Message: err.Error(), Latency: latency.String()}
}

// HandleVersion 构建信息
// @Summary 版本信息
// @Tags 健康
// @Produce json
// @Success 200 {object} map[string]string
// @Router /version [get]
func (h *HealthHandler) HandleVersion(version, buildTime, gitCommit string) http.HandlerFunc {
	info := map[string]string{"version": version, "build_time": buildTime, "git_commit": gitCommit}
	return func(w http.ResponseWriter, r *http.Request) {
		WriteSuccess(w, info)
	}
}

// =============================================================================
// 🔧 检查实现
// =============================================================================

// PingCheck 用一个 ping 函数充当检查（数据库、Redis、推理服务）
type PingCheck struct {
	name string
	ping func(ctx context.Context) error
}

// NewPingCheck 创建检查
func NewPingCheck(name string, ping func(ctx context.Context) error) *PingCheck {
	return &PingCheck{name: name, ping: ping}
}

func (c *PingCheck) Name() string                    { return c.name }
func (c *PingCheck) Check(ctx context.Context) error { return c.ping(ctx) }

// ProviderCheck 推理服务的 HealthCheck 转成 ping；Healthy=false 也算失败
func ProviderCheck(p llm.Provider) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		st, err := p.HealthCheck(ctx)
		switch {
		case err != nil:
			return err
		case st == nil || !st.Healthy:
			detail := ""
			if st != nil {
				detail = st.Detail
			}
			return errUnhealthy(detail)
		}
		return nil
	}
}

type errUnhealthy string

func (e errUnhealthy) Error() string {
	if e == "" {
		return "unhealthy"
	}
	return "unhealthy: " + string(e)
}
