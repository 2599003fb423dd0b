package events

import (
	"context"
	"log"
	"sync"
	"time"

	tbapi "github.com/OvyFlash/telegram-bot-api"
)

// Notifier sends alerts to the admin chat with a cooldown so a flapping AI
// backend doesn't flood the admins. The cooldown timer advances only on a
// successful send, a failed send leaves the window open for the next try.
type Notifier struct {
	tbAPI       TbAPI
	adminChatID int64
	cooldown    time.Duration

	mu       sync.Mutex
	lastSent time.Time
	nowFn    func() time.Time
}

// NewNotifier makes a notifier for the given admin chat, zero chat id makes
// it a no-op.
func NewNotifier(api TbAPI, adminChatID int64, cooldown time.Duration) *Notifier {
	if cooldown <= 0 {
		cooldown = time.Minute
	}
	return &Notifier{tbAPI: api, adminChatID: adminChatID, cooldown: cooldown, nowFn: time.Now}
}

// Notify sends the alert unless one was already delivered inside the
// cooldown window. Send failures are logged and never propagated.
func (n *Notifier) Notify(_ context.Context, message string) {
	if n.adminChatID == 0 {
		return
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	now := n.nowFn()
	if !n.lastSent.IsZero() && now.Sub(n.lastSent) < n.cooldown {
		log.Printf("[DEBUG] admin alert suppressed by cooldown: %s", message)
		return
	}

	text := "🚨 AI Service Error Alert!\n\n" + message
	if _, err := n.tbAPI.Send(tbapi.NewMessage(n.adminChatID, text)); err != nil {
		log.Printf("[WARN] failed to send admin alert: %v", err)
		return
	}
	n.lastSent = now
}
