package persistence

import (
	"context"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/BaSui01/kyronex/internal/database"
)

// AppendExchange 写入一问一答两行转录
func (s *Store) AppendExchange(ctx context.Context, user, assistant, userMsg, reply string) error {
	now := s.now()
	day := now.Format("2006-01-02")
	lines := []TranscriptLine{
		{UserName: user, Day: day, Speaker: strings.ToUpper(user), Text: userMsg, SpokenAt: now},
		{UserName: user, Day: day, Speaker: assistant, Text: reply, SpokenAt: now},
	}
	err := database.Transact(ctx, s.db, s.logger, func(tx *gorm.DB) error {
		return tx.Create(&lines).Error
	})
	if err != nil {
		return fmt.Errorf("append transcript: %w", err)
	}
	return nil
}

// Transcript 返回某用户某天的转录行
func (s *Store) Transcript(ctx context.Context, user, day string) ([]TranscriptLine, error) {
	var lines []TranscriptLine
	err := s.dbCtx(ctx).Where("user_name = ? AND day = ?", user, day).Order("id asc").Find(&lines).Error
	if err != nil {
		return nil, fmt.Errorf("read transcript: %w", err)
	}
	return lines, nil
}

// FormatTranscript 渲染为文本，每行 "[HH:MM] SPEAKER: text"
func FormatTranscript(lines []TranscriptLine) string {
	var b strings.Builder
	for _, l := range lines {
		fmt.Fprintf(&b, "[%s] %s: %s\n", l.SpokenAt.Format("15:04"), l.Speaker, l.Text)
	}
	return b.String()
}
