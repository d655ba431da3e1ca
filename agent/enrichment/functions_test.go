package enrichment

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubStatus string

func (s stubStatus) Status() string { return string(s) }

func fixedClock() time.Time {
	return time.Date(2026, time.October, 19, 14, 5, 0, 0, time.Local)
}

func TestInterceptor_Rules(t *testing.T) {
	weather := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "Paris: ☀️ +18°C 60% ↗12km/h\n")
	}))
	defer weather.Close()

	i := NewInterceptor(stubStatus("RAM: 1000MB/4000MB (3000MB libre)"), zap.NewNop(),
		WithClock(fixedClock), WithWeatherURL(weather.URL))
	defer i.Close()

	tests := []struct {
		text     string
		wantName string
		want     string
	}{
		{"Quelle heure est-il ?", "time", "Il est exactement 14 heures 05, Michael. Mes circuits sont synchronisés à la milliseconde près."},
		{"Tu peux me donner l'heure", "time", "Il est exactement 14 heures 05, Michael. Mes circuits sont synchronisés à la milliseconde près."},
		{"On est quel jour ?", "date", "Nous sommes le lundi 19 octobre 2026. Mon calendrier interne est parfaitement calibré."},
		{"Fais un diagnostic", "system", "Diagnostic de mes systèmes : RAM: 1000MB/4000MB (3000MB libre) Tous mes circuits sont opérationnels."},
		{"Comment vas-tu KITT ?", "system", "Diagnostic de mes systèmes : RAM: 1000MB/4000MB (3000MB libre) Tous mes circuits sont opérationnels."},
		{"Quelle est la météo ?", "weather", "D'après mes capteurs atmosphériques : Paris: ☀️ +18°C 60% ↗12km/h"},
		{"Quelle heure et quelle météo ?", "time", "Il est exactement 14 heures 05, Michael. Mes circuits sont synchronisés à la milliseconde près."},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			call, ok := i.Intercept(context.Background(), tt.text, "Michael")
			require.True(t, ok)
			assert.Equal(t, tt.wantName, call.Name)
			assert.Equal(t, tt.want, call.Reply)
		})
	}
}

func TestInterceptor_NoMatch(t *testing.T) {
	i := NewInterceptor(nil, nil)
	for _, text := range []string{"Raconte-moi une blague", "Bonjour KITT", "Quel beau temps pour rouler"} {
		_, ok := i.Intercept(context.Background(), text, "Michael")
		assert.False(t, ok, text)
	}
}

func TestInterceptor_WeatherUnavailable(t *testing.T) {
	weather := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer weather.Close()

	i := NewInterceptor(nil, nil, WithWeatherURL(weather.URL))
	call, ok := i.Intercept(context.Background(), "Donne-moi la météo", "Michael")
	require.True(t, ok)
	assert.Equal(t, "D'après mes capteurs atmosphériques : Capteurs météo indisponibles.", call.Reply)
}

func TestInterceptor_Timer(t *testing.T) {
	fired := make(chan string, 1)
	i := NewInterceptor(nil, nil, WithTimerNotifier(func(label string) { fired <- label }))
	defer i.Close()

	call, ok := i.Intercept(context.Background(), "Mets un timer de 1 seconde", "Michael")
	require.True(t, ok)
	assert.Equal(t, "timer", call.Name)
	assert.Equal(t, "Affirmatif. Timer de 1 seconde activé. Je vous alerterai à l'expiration.", call.Reply)
	assert.Equal(t, 1, i.PendingTimers())

	select {
	case label := <-fired:
		assert.Equal(t, "1 seconde", label)
	case <-time.After(3 * time.Second):
		t.Fatal("timer did not fire")
	}
	assert.Eventually(t, func() bool { return i.PendingTimers() == 0 }, time.Second, 10*time.Millisecond)
}

func TestInterceptor_TimerMinutesCancelledOnClose(t *testing.T) {
	i := NewInterceptor(nil, nil, WithTimerNotifier(func(string) { t.Error("cancelled timer fired") }))
	call, ok := i.Intercept(context.Background(), "timer 5 minutes", "Michael")
	require.True(t, ok)
	assert.Contains(t, call.Reply, "5 minutes")
	assert.Equal(t, 1, i.PendingTimers())
	i.Close()
	assert.Equal(t, 0, i.PendingTimers())
}
