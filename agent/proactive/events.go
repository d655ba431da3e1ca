package proactive

import (
	"fmt"
	"time"

	"github.com/BaSui01/kyronex/agent/voice"
)

// Kind 播报类别
type Kind string

const (
	KindGreeting  Kind = "greeting"
	KindThermal   Kind = "thermal"
	KindMemory    Kind = "memory"
	KindVigilance Kind = "vigilance"
	KindTimer     Kind = "timer"
)

// 线上消息类型
const (
	TypeProactive      = "proactive"
	TypeVigilanceAlert = "vigilance_alert"
	TypeTimerDone      = "timer_done"
	TypeUserMessage    = "user_msg"
	TypeAssistantMsg   = "assistant_msg"
)

// WireType 类别对应的消息类型
func (k Kind) WireType() string {
	switch k {
	case KindVigilance:
		return TypeVigilanceAlert
	case KindTimer:
		return TypeTimerDone
	default:
		return TypeProactive
	}
}

// Event 主动播报事件。Audio 为 nil 时客户端只显示文本。
type Event struct {
	Type      string        `json:"type"`
	Kind      Kind          `json:"kind"`
	Message   string        `json:"message"`
	Audio     *string       `json:"audio"`
	Emotion   voice.Emotion `json:"emotion"`
	Label     string        `json:"label,omitempty"`
	Timestamp string        `json:"timestamp"`
}

// MonitorEvent 对话监控流事件
type MonitorEvent struct {
	Type      string `json:"type"`
	User      string `json:"user,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	Message   string `json:"message,omitempty"`
	Label     string `json:"label,omitempty"`
	Timestamp string `json:"timestamp"`
}

// Stamp 格式化 UTC 时间戳
func Stamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// =============================================================================
// 💬 播报文案
// =============================================================================

var greetings = map[int]string{
	6:  "Bonjour Manix. Mes systèmes sont en ligne. Une nouvelle journée commence.",
	7:  "Il est 7 heures. Tous mes capteurs sont opérationnels. Prêt pour la mission.",
	12: "Il est midi. Une pause est peut-être nécessaire ? Mes circuits ne connaissent pas la faim, mais je saisis parfaitement le concept.",
	18: "Bonsoir Manix. J'espère que votre journée a été productive.",
	22: "Il est 22 heures. Je reste vigilant, mais vous devriez peut-être envisager du repos.",
	0:  "Minuit. Mon scanner veille. Bonne nuit, Manix.",
}

const (
	vigilanceIdleAlert  = "Alerte. Présence détectée sur terminal inactif. Identité non confirmée."
	vigilanceCrowdAlert = "Vigilance. Présence non identifiée détectée dans la zone."
)

// Greeting 整点问候；只有部分整点有文案
func Greeting(hour int) (string, bool) {
	g, ok := greetings[hour]
	return g, ok
}

// ThermalAlert 温度告警文案与情绪
func ThermalAlert(tempC float64) (string, voice.Emotion) {
	switch {
	case tempC > 85:
		return fmt.Sprintf("Alerte critique ! Ma température atteint %.0f°C. Mes circuits sont en surchauffe !", tempC), voice.EmotionWorried
	case tempC > 75:
		return fmt.Sprintf("Attention. Ma température est à %.0f°C. Je surveille la situation.", tempC), voice.EmotionWorried
	default:
		return fmt.Sprintf("Information : température à %.0f°C. Rien d'alarmant pour le moment.", tempC), voice.EmotionNormal
	}
}

// MemoryAlert 内存告警文案
func MemoryAlert(availableMB int) string {
	return fmt.Sprintf("Attention Manix. Seulement %dMB de RAM disponible. Mes systèmes sont en charge critique.", availableMB)
}

// TimerMessage 计时结束文案
func TimerMessage(label string) string {
	return "Minuteur terminé : " + label + "."
}
