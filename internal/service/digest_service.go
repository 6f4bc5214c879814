package service

import (
	"context"
	"fmt"
	"html"
	"strings"
	"time"

	"helpdesk-bot/internal/model"
	"helpdesk-bot/internal/repository"
)

// DigestService builds the periodic summary of still-pending requests that
// gets posted to the staff group.
type DigestService struct {
	requests *repository.RequestRepository
}

func NewDigestService(requests *repository.RequestRepository) *DigestService {
	return &DigestService{requests: requests}
}

// PendingSummary returns an HTML summary of pending requests, oldest first,
// or "" when nothing is waiting.
func (s *DigestService) PendingSummary(ctx context.Context, now time.Time) (string, error) {
	pending, err := s.requests.ListPending(ctx)
	if err != nil {
		return "", err
	}
	if len(pending) == 0 {
		return "", nil
	}

	var builder strings.Builder
	builder.WriteString("🛎 <b>Pending requests</b>\n")
	builder.WriteString(fmt.Sprintf("🗓 %s\n\n", now.Format("02.01.2006 15:04")))

	for _, req := range pending {
		builder.WriteString(formatPending(req, now))
	}

	return strings.TrimSpace(builder.String()), nil
}

func formatPending(req model.Request, now time.Time) string {
	var sb strings.Builder

	icon := "🟡"
	if !req.CreatedAt.IsZero() && now.Sub(req.CreatedAt) > 24*time.Hour {
		icon = "⚠️"
	}

	sb.WriteString(fmt.Sprintf("%s <b>%s</b> — %s\n", icon, html.EscapeString(req.Topic), html.EscapeString(req.Name)))
	sb.WriteString(fmt.Sprintf("   🏢 %s, floor %s\n", html.EscapeString(req.Department), html.EscapeString(req.Floor)))
	if req.Description != "" {
		sb.WriteString(fmt.Sprintf("   📝 %s\n", html.EscapeString(req.Description)))
	}
	sb.WriteString(fmt.Sprintf("   🆔 <code>%s</code>\n", html.EscapeString(req.RequestID)))
	sb.WriteByte('\n')
	return sb.String()
}
