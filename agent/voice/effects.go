package voice

import (
	"math"
	"time"
)

// =============================================================================
// 🔊 音效链
// =============================================================================

// Echo 反馈延迟
type Echo struct {
	GainIn  float64
	GainOut float64
	Delay   time.Duration
	Decay   float64
}

// Phaser 正弦调制的反馈延迟线
type Phaser struct {
	GainIn  float64
	GainOut float64
	Delay   time.Duration
	Decay   float64
	// Speed 调制频率（Hz）
	Speed float64
}

// Tremolo 幅度调制
type Tremolo struct {
	Speed float64 // Hz
	Depth float64 // 百分比
}

// EffectProfile 一种情绪对应的音效参数；零值字段表示跳过该效果
type EffectProfile struct {
	PitchCents float64
	Tempo      float64
	// Overdrive 软削波增益（dB）
	Overdrive float64
	Echo      Echo
	Phaser    Phaser
	Tremolo   Tremolo
	BassDB    float64
	TrebleDB  float64
	GainDB    float64
}

var effectProfiles = map[Emotion]EffectProfile{
	EmotionNormal: {
		PitchCents: -120,
		Overdrive:  4,
		Echo:       Echo{0.5, 0.88, 70 * time.Millisecond, 0.3},
		Phaser:     Phaser{0.5, 0.66, 3 * time.Millisecond, 0.4, 0.5},
		TrebleDB:   1,
		GainDB:     -1,
	},
	EmotionExcited: {
		PitchCents: 40,
		Tempo:      1.08,
		Overdrive:  8,
		Echo:       Echo{0.6, 0.85, 50 * time.Millisecond, 0.35},
		Phaser:     Phaser{0.7, 0.7, 2 * time.Millisecond, 0.6, 0.5},
		TrebleDB:   3,
		GainDB:     -2,
	},
	EmotionWorried: {
		PitchCents: -60,
		Tempo:      1.1,
		Overdrive:  6,
		Echo:       Echo{0.4, 0.9, 90 * time.Millisecond, 0.25},
		Phaser:     Phaser{0.8, 0.5, 4 * time.Millisecond, 0.3, 0.5},
		Tremolo:    Tremolo{Speed: 6, Depth: 60},
		GainDB:     -1,
	},
	EmotionSad: {
		PitchCents: -200,
		Tempo:      0.92,
		Overdrive:  2,
		Echo:       Echo{0.6, 0.85, 100 * time.Millisecond, 0.35},
		Phaser:     Phaser{0.3, 0.5, 2 * time.Millisecond, 0.3, 0.5},
		TrebleDB:   -1,
		GainDB:     -1,
	},
	EmotionConfident: {
		PitchCents: -180,
		Overdrive:  5,
		Echo:       Echo{0.5, 0.9, 60 * time.Millisecond, 0.25},
		Phaser:     Phaser{0.4, 0.6, 3 * time.Millisecond, 0.4, 0.5},
		BassDB:     2,
		TrebleDB:   2,
		GainDB:     -1,
	},
}

// ProfileFor 返回情绪对应的音效参数，未知情绪使用 normal
func ProfileFor(e Emotion) EffectProfile {
	if p, ok := effectProfiles[e]; ok {
		return p
	}
	return effectProfiles[EmotionNormal]
}

const (
	wsolaFrame     = 1024
	wsolaTolerance = 256
	peakLimit      = 0.99
	bassFreq       = 100
	trebleFreq     = 3000
	shelfSlope     = 0.5
)

// ApplyEffects 对单声道波形应用整条音效链，返回新切片，不修改输入
func ApplyEffects(samples []float64, sampleRate int, p EffectProfile) []float64 {
	if len(samples) == 0 || sampleRate <= 0 {
		return nil
	}
	out := make([]float64, len(samples))
	copy(out, samples)

	out = pitchTempo(out, p.PitchCents, p.Tempo)
	if p.Overdrive != 0 {
		overdrive(out, p.Overdrive)
	}
	if p.Echo.Delay > 0 {
		echo(out, sampleRate, p.Echo)
	}
	if p.Phaser.Delay > 0 {
		phaser(out, sampleRate, p.Phaser)
	}
	if p.Tremolo.Speed > 0 && p.Tremolo.Depth > 0 {
		tremolo(out, sampleRate, p.Tremolo)
	}
	if p.BassDB != 0 {
		lowShelf(bassFreq, p.BassDB, sampleRate).process(out)
	}
	if p.TrebleDB != 0 {
		highShelf(trebleFreq, p.TrebleDB, sampleRate).process(out)
	}
	if p.GainDB != 0 {
		g := dbToLinear(p.GainDB)
		for i := range out {
			out[i] *= g
		}
	}
	normalizePeak(out, peakLimit)
	return out
}

// pitchTempo 先线性重采样改变音高，再用 WSOLA 把时长拉回 len/tempo
func pitchTempo(x []float64, cents, tempo float64) []float64 {
	if tempo <= 0 {
		tempo = 1
	}
	ratio := math.Pow(2, cents/1200)
	if cents != 0 {
		x = resample(x, ratio)
	}
	return timeStretch(x, tempo/ratio)
}

// resample 线性插值重采样；ratio > 1 时变短、音高升高
func resample(x []float64, ratio float64) []float64 {
	n := int(float64(len(x)) / ratio)
	out := make([]float64, n)
	for i := range out {
		pos := float64(i) * ratio
		j := int(pos)
		frac := pos - float64(j)
		if j >= len(x) {
			break
		}
		a := x[j]
		b := a
		if j+1 < len(x) {
			b = x[j+1]
		}
		out[i] = a + (b-a)*frac
	}
	return out
}

// timeStretch WSOLA 变速不变调；factor > 1 时变短
func timeStretch(x []float64, factor float64) []float64 {
	if len(x) == 0 || factor <= 0 || math.Abs(factor-1) < 1e-6 {
		return x
	}
	hop := wsolaFrame / 2
	outLen := int(float64(len(x)) / factor)
	out := make([]float64, outLen)
	norm := make([]float64, outLen)
	window := hann(wsolaFrame)

	prev := 0
	for k := 0; k*hop < outLen; k++ {
		start := 0
		if k > 0 {
			start = bestAlignment(x, int(float64(k*hop)*factor), prev+hop, hop)
		}
		base := k * hop
		for n := 0; n < wsolaFrame; n++ {
			if base+n >= outLen || start+n >= len(x) {
				break
			}
			out[base+n] += x[start+n] * window[n]
			norm[base+n] += window[n]
		}
		prev = start
	}
	for i := range out {
		if norm[i] > 1e-3 {
			out[i] /= norm[i]
		} else {
			out[i] = 0
		}
	}
	return out
}

// bestAlignment 在 nominal 附近找与自然延续段 target 相关性最高的起点
func bestAlignment(x []float64, nominal, target, length int) int {
	if target+length > len(x) {
		return clampInt(nominal, 0, len(x))
	}
	best, bestCorr := clampInt(nominal, 0, len(x)), math.Inf(-1)
	for d := -wsolaTolerance; d <= wsolaTolerance; d += 2 {
		c := nominal + d
		if c < 0 || c+length > len(x) {
			continue
		}
		var corr float64
		for n := 0; n < length; n++ {
			corr += x[c+n] * x[target+n]
		}
		if corr > bestCorr {
			best, bestCorr = c, corr
		}
	}
	return best
}

func overdrive(x []float64, gainDB float64) {
	g := dbToLinear(gainDB)
	for i, v := range x {
		x[i] = math.Tanh(v * g)
	}
}

func echo(x []float64, rate int, e Echo) {
	d := int(e.Delay.Seconds() * float64(rate))
	if d <= 0 {
		return
	}
	y := make([]float64, len(x))
	for i, v := range x {
		y[i] = v * e.GainIn
		if i >= d {
			y[i] += e.Decay * y[i-d]
		}
	}
	for i := range x {
		x[i] = y[i] * e.GainOut
	}
}

func phaser(x []float64, rate int, p Phaser) {
	maxDelay := p.Delay.Seconds() * float64(rate)
	if maxDelay <= 0 {
		return
	}
	y := make([]float64, len(x))
	for i, v := range x {
		mod := 0.5 + 0.5*math.Sin(2*math.Pi*p.Speed*float64(i)/float64(rate))
		pos := float64(i) - maxDelay*mod
		y[i] = v * p.GainIn
		if j := int(math.Floor(pos)); j >= 0 && j+1 < i {
			frac := pos - float64(j)
			y[i] += p.Decay * (y[j] + (y[j+1]-y[j])*frac)
		}
	}
	for i := range x {
		x[i] = y[i] * p.GainOut
	}
}

func tremolo(x []float64, rate int, t Tremolo) {
	depth := math.Min(t.Depth, 100) / 100
	for i := range x {
		lfo := 0.5 + 0.5*math.Sin(2*math.Pi*t.Speed*float64(i)/float64(rate))
		x[i] *= 1 - depth*lfo
	}
}

type biquad struct {
	b0, b1, b2, a1, a2 float64
}

func (q biquad) process(x []float64) {
	var x1, x2, y1, y2 float64
	for i, v := range x {
		y := q.b0*v + q.b1*x1 + q.b2*x2 - q.a1*y1 - q.a2*y2
		x2, x1 = x1, v
		y2, y1 = y1, y
		x[i] = y
	}
}

func shelfTerms(freq, gainDB float64, rate int) (a, cosw, alphaTerm float64) {
	a = math.Pow(10, gainDB/40)
	w0 := 2 * math.Pi * freq / float64(rate)
	cosw = math.Cos(w0)
	alpha := math.Sin(w0) / 2 * math.Sqrt((a+1/a)*(1/shelfSlope-1)+2)
	return a, cosw, 2 * math.Sqrt(a) * alpha
}

func lowShelf(freq, gainDB float64, rate int) biquad {
	a, c, s := shelfTerms(freq, gainDB, rate)
	a0 := (a + 1) + (a-1)*c + s
	return biquad{
		b0: a * ((a + 1) - (a-1)*c + s) / a0,
		b1: 2 * a * ((a - 1) - (a+1)*c) / a0,
		b2: a * ((a + 1) - (a-1)*c - s) / a0,
		a1: -2 * ((a - 1) + (a+1)*c) / a0,
		a2: ((a + 1) + (a-1)*c - s) / a0,
	}
}

func highShelf(freq, gainDB float64, rate int) biquad {
	a, c, s := shelfTerms(freq, gainDB, rate)
	a0 := (a + 1) - (a-1)*c + s
	return biquad{
		b0: a * ((a + 1) + (a-1)*c + s) / a0,
		b1: -2 * a * ((a - 1) + (a+1)*c) / a0,
		b2: a * ((a + 1) + (a-1)*c - s) / a0,
		a1: 2 * ((a - 1) - (a+1)*c) / a0,
		a2: ((a + 1) - (a-1)*c - s) / a0,
	}
}

func normalizePeak(x []float64, limit float64) {
	var peak float64
	for _, v := range x {
		if a := math.Abs(v); a > peak {
			peak = a
		}
	}
	if peak <= limit || peak == 0 {
		return
	}
	scale := limit / peak
	for i := range x {
		x[i] *= scale
	}
}

func hann(n int) []float64 {
	w := make([]float64, n)
	for i := range w {
		w[i] = 0.5 - 0.5*math.Cos(2*math.Pi*float64(i)/float64(n))
	}
	return w
}

func dbToLinear(db float64) float64 {
	return math.Pow(10, db/20)
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
