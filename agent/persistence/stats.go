package persistence

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// =============================================================================
// 📊 连接统计
// =============================================================================

const (
	// MaxConnectionRecords 连接记录上限，超出时删除最旧的记录
	MaxConnectionRecords = 2000
	// SessionTTL 心跳超时，超过即视为离线
	SessionTTL = 90 * time.Second

	recentIPLimit = 10
	recentScan    = 200
)

// Heartbeat 一次会话心跳
type Heartbeat struct {
	SessionID string
	IP        string
	MAC       string
	Name      string
	Lang      string
}

// ActiveSession 在线会话
type ActiveSession struct {
	Heartbeat
	FirstSeen time.Time
	LastSeen  time.Time
}

// ActiveView 在线会话摘要
type ActiveView struct {
	IP    string `json:"ip"`
	Name  string `json:"name"`
	Lang  string `json:"lang"`
	Since string `json:"since"`
}

// Summary 统计摘要
type Summary struct {
	Current        int          `json:"current"`
	Last24h        int64        `json:"last_24h"`
	Last7d         int64        `json:"last_7d"`
	ActiveSessions []ActiveView `json:"active_sessions"`
	RecentIPs      []string     `json:"recent_ips"`
}

// Stats 心跳会话表（内存）+ 连接记录（数据库）
type Stats struct {
	store *Store

	mu     sync.Mutex
	active map[string]*ActiveSession
}

// NewStats 创建连接统计
func NewStats(store *Store) *Stats {
	return &Stats{store: store, active: make(map[string]*ActiveSession)}
}

// Beat 记录心跳，返回当前在线数和是否为新会话。新会话写入一条连接记录。
func (s *Stats) Beat(ctx context.Context, hb Heartbeat) (int, bool) {
	now := s.store.now()

	s.mu.Lock()
	sess, ok := s.active[hb.SessionID]
	if ok {
		sess.Heartbeat = hb
		sess.LastSeen = now
	} else {
		s.active[hb.SessionID] = &ActiveSession{Heartbeat: hb, FirstSeen: now, LastSeen: now}
	}
	s.pruneLocked(now)
	n := len(s.active)
	s.mu.Unlock()

	if !ok {
		if err := s.Record(ctx, hb); err != nil {
			s.store.logger.Warn("connection record failed", zap.String("session_id", hb.SessionID), zap.Error(err))
		}
		s.store.logger.Info("new session", zap.String("name", hb.Name), zap.String("ip", hb.IP), zap.String("lang", hb.Lang))
	}
	return n, !ok
}

// Record 写入连接记录并裁剪到上限
func (s *Stats) Record(ctx context.Context, hb Heartbeat) error {
	db := s.store.dbCtx(ctx)
	rec := ConnectionRecord{
		SessionID: hb.SessionID,
		IP:        hb.IP,
		MAC:       hb.MAC,
		Name:      hb.Name,
		Lang:      hb.Lang,
		SeenAt:    s.store.now(),
	}
	if err := db.Create(&rec).Error; err != nil {
		return fmt.Errorf("insert connection: %w", err)
	}

	var cut []uint64
	if err := db.Model(&ConnectionRecord{}).Order("id desc").Offset(MaxConnectionRecords).Limit(1).Pluck("id", &cut).Error; err != nil {
		return fmt.Errorf("trim connections: %w", err)
	}
	if len(cut) > 0 {
		if err := db.Where("id <= ?", cut[0]).Delete(&ConnectionRecord{}).Error; err != nil {
			return fmt.Errorf("trim connections: %w", err)
		}
	}
	return nil
}

// Active 返回在线会话（先清理超时会话）
func (s *Stats) Active() []ActiveSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruneLocked(s.store.now())
	out := make([]ActiveSession, 0, len(s.active))
	for _, sess := range s.active {
		out = append(out, *sess)
	}
	return out
}

// Summary 汇总统计。数据库读取失败时窗口计数为 0。
func (s *Stats) Summary(ctx context.Context) Summary {
	now := s.store.now()
	active := s.Active()

	sum := Summary{
		Current:        len(active),
		ActiveSessions: make([]ActiveView, 0, len(active)),
		RecentIPs:      []string{},
	}
	for _, a := range active {
		sum.ActiveSessions = append(sum.ActiveSessions, ActiveView{
			IP:    a.IP,
			Name:  orUnknown(a.Name),
			Lang:  orUnknown(a.Lang),
			Since: a.FirstSeen.Local().Format("15:04"),
		})
	}

	db := s.store.dbCtx(ctx)
	if err := db.Model(&ConnectionRecord{}).Where("seen_at >= ?", now.Add(-24*time.Hour)).
		Distinct("session_id").Count(&sum.Last24h).Error; err != nil {
		s.store.logger.Warn("stats 24h degraded", zap.Error(err))
	}
	if err := db.Model(&ConnectionRecord{}).Where("seen_at >= ?", now.Add(-7*24*time.Hour)).
		Distinct("session_id").Count(&sum.Last7d).Error; err != nil {
		s.store.logger.Warn("stats 7d degraded", zap.Error(err))
	}

	var ips []string
	if err := db.Model(&ConnectionRecord{}).Where("ip <> ''").Order("id desc").Limit(recentScan).Pluck("ip", &ips).Error; err != nil {
		s.store.logger.Warn("recent ips degraded", zap.Error(err))
	}
	seen := make(map[string]struct{}, recentIPLimit)
	for _, ip := range ips {
		if _, dup := seen[ip]; dup {
			continue
		}
		seen[ip] = struct{}{}
		sum.RecentIPs = append(sum.RecentIPs, ip)
		if len(sum.RecentIPs) == recentIPLimit {
			break
		}
	}
	return sum
}

func (s *Stats) pruneLocked(now time.Time) {
	for id, sess := range s.active {
		if now.Sub(sess.LastSeen) > SessionTTL {
			delete(s.active, id)
		}
	}
}

func orUnknown(s string) string {
	if s == "" {
		return "?"
	}
	return s
}
