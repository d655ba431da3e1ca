package enrichment

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/kyronex/internal/tlsutil"
)

// =============================================================================
// ⚡ 函数直答（不经过 LLM）
// =============================================================================

const (
	// DefaultWeatherURL 文本格式天气接口
	DefaultWeatherURL   = "https://wttr.in/?format=%l:+%c+%t+%h+%w&lang=fr"
	weatherUnavailable  = "Capteurs météo indisponibles."
	defaultWeatherLimit = 5 * time.Second
)

var (
	frenchWeekdays = [...]string{"dimanche", "lundi", "mardi", "mercredi", "jeudi", "vendredi", "samedi"}
	frenchMonths   = [...]string{"janvier", "février", "mars", "avril", "mai", "juin", "juillet", "août", "septembre", "octobre", "novembre", "décembre"}
)

// FunctionCall 命中的直答结果
type FunctionCall struct {
	Name  string
	Reply string
}

// Call 规则处理器的输入
type Call struct {
	Groups   []string
	UserName string
	Now      time.Time
}

// FunctionRule 一条直答规则；表内按顺序匹配，第一条命中即返回
type FunctionRule struct {
	Name    string
	Pattern *regexp.Regexp
	Handler func(ctx context.Context, call Call) string
}

// StatusReader 提供系统状态文本
type StatusReader interface {
	Status() string
}

// TimerNotifier 计时结束时被调用
type TimerNotifier func(label string)

// Interceptor 直答拦截器
type Interceptor struct {
	rules  []FunctionRule
	now    func() time.Time
	logger *zap.Logger

	status     StatusReader
	weatherURL string
	client     *http.Client
	notify     TimerNotifier

	mu      sync.Mutex
	timers  map[int]*time.Timer
	timerID int
}

// InterceptorOption 拦截器选项
type InterceptorOption func(*Interceptor)

// WithClock 替换时钟（测试用）
func WithClock(now func() time.Time) InterceptorOption {
	return func(i *Interceptor) { i.now = now }
}

// WithWeatherURL 替换天气接口地址
func WithWeatherURL(url string) InterceptorOption {
	return func(i *Interceptor) { i.weatherURL = url }
}

// WithTimerNotifier 设置计时结束回调
func WithTimerNotifier(fn TimerNotifier) InterceptorOption {
	return func(i *Interceptor) { i.notify = fn }
}

// NewInterceptor 创建带默认规则表的拦截器
func NewInterceptor(status StatusReader, logger *zap.Logger, opts ...InterceptorOption) *Interceptor {
	if logger == nil {
		logger = zap.NewNop()
	}
	i := &Interceptor{
		now:        time.Now,
		logger:     logger.With(zap.String("component", "function_calls")),
		status:     status,
		weatherURL: DefaultWeatherURL,
		client:     tlsutil.SecureHTTPClient(defaultWeatherLimit),
		timers:     make(map[int]*time.Timer),
	}
	for _, opt := range opts {
		opt(i)
	}
	i.rules = []FunctionRule{
		{Name: "time", Pattern: timePattern, Handler: i.timeReply},
		{Name: "date", Pattern: datePattern, Handler: i.dateReply},
		{Name: "system", Pattern: systemPattern, Handler: i.systemReply},
		{Name: "weather", Pattern: weatherPattern, Handler: i.weatherReply},
		{Name: "timer", Pattern: timerPattern, Handler: i.timerReply},
	}
	return i
}

// Rules 返回规则表（只读）
func (i *Interceptor) Rules() []FunctionRule {
	return i.rules
}

// Intercept 按顺序尝试规则，命中则返回完整回复
func (i *Interceptor) Intercept(ctx context.Context, text, userName string) (FunctionCall, bool) {
	for _, rule := range i.rules {
		m := rule.Pattern.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		reply := rule.Handler(ctx, Call{Groups: m, UserName: userName, Now: i.now()})
		if reply == "" {
			continue
		}
		i.logger.Info("function call intercepted", zap.String("function", rule.Name))
		return FunctionCall{Name: rule.Name, Reply: reply}, true
	}
	return FunctionCall{}, false
}

// PendingTimers 返回未触发的计时器数量
func (i *Interceptor) PendingTimers() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return len(i.timers)
}

// Close 取消未触发的计时器
func (i *Interceptor) Close() {
	i.mu.Lock()
	defer i.mu.Unlock()
	for id, t := range i.timers {
		t.Stop()
		delete(i.timers, id)
	}
}

func (i *Interceptor) timeReply(_ context.Context, c Call) string {
	return fmt.Sprintf("Il est exactement %02d heures %02d, %s. Mes circuits sont synchronisés à la milliseconde près.",
		c.Now.Hour(), c.Now.Minute(), c.UserName)
}

func (i *Interceptor) dateReply(_ context.Context, c Call) string {
	return fmt.Sprintf("Nous sommes le %s %d %s %d. Mon calendrier interne est parfaitement calibré.",
		frenchWeekdays[c.Now.Weekday()], c.Now.Day(), frenchMonths[c.Now.Month()-1], c.Now.Year())
}

func (i *Interceptor) systemReply(_ context.Context, _ Call) string {
	status := "Systèmes opérationnels."
	if i.status != nil {
		status = i.status.Status()
	}
	return fmt.Sprintf("Diagnostic de mes systèmes : %s Tous mes circuits sont opérationnels.", status)
}

func (i *Interceptor) weatherReply(ctx context.Context, _ Call) string {
	return "D'après mes capteurs atmosphériques : " + i.fetchWeather(ctx)
}

func (i *Interceptor) fetchWeather(ctx context.Context) string {
	ctx, cancel := context.WithTimeout(ctx, defaultWeatherLimit)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, i.weatherURL, nil)
	if err != nil {
		return weatherUnavailable
	}
	resp, err := i.client.Do(req)
	if err != nil {
		i.logger.Warn("weather lookup failed", zap.Error(err))
		return weatherUnavailable
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return weatherUnavailable
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return weatherUnavailable
	}
	text := strings.TrimSpace(string(body))
	if text == "" {
		return weatherUnavailable
	}
	return text
}

func (i *Interceptor) timerReply(_ context.Context, c Call) string {
	if len(c.Groups) < 3 {
		return ""
	}
	val, err := strconv.Atoi(c.Groups[1])
	if err != nil || val <= 0 {
		return ""
	}
	unit := strings.ToLower(c.Groups[2])
	plural := ""
	if val > 1 {
		plural = "s"
	}

	var d time.Duration
	var label string
	if strings.HasPrefix(unit, "min") {
		d = time.Duration(val) * time.Minute
		label = fmt.Sprintf("%d minute%s", val, plural)
	} else {
		d = time.Duration(val) * time.Second
		label = fmt.Sprintf("%d seconde%s", val, plural)
	}

	i.mu.Lock()
	i.timerID++
	id := i.timerID
	i.timers[id] = time.AfterFunc(d, func() {
		i.mu.Lock()
		delete(i.timers, id)
		i.mu.Unlock()
		i.logger.Info("timer expired", zap.String("label", label))
		if i.notify != nil {
			i.notify(label)
		}
	})
	i.mu.Unlock()

	return fmt.Sprintf("Affirmatif. Timer de %s activé. Je vous alerterai à l'expiration.", label)
}
