package marketing

import (
	"database/sql"
	"log"
	"strconv"
	"strings"
	"time"

	"prepq-backend/email"
	"prepq-backend/migrations"
)

// Service mails renewal reminders to subscribers whose plan is about to
// lapse. Free accounts are never contacted.
type Service struct {
	db *sql.DB
}

func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

// Start fires a daily sweep in the background. Best effort: a failed
// sweep logs and waits for the next tick.
func (s *Service) Start() {
	ticker := time.NewTicker(24 * time.Hour)
	go func() {
		for range ticker.C {
			if err := s.remindExpiring(); err != nil {
				log.Printf("[marketing][error] sweep err=%v", err)
			}
		}
	}()
}

// remindExpiring finds paid accounts lapsing within three days and mails
// each one. A lapsing account is nudged on every daily sweep until it
// renews or expires.
func (s *Service) remindExpiring() error {
	rows, err := s.db.Query(`SELECT identifier, expires_at FROM credit_accounts
		WHERE plan_tier <> 'free' AND expires_at IS NOT NULL
		  AND expires_at BETWEEN NOW() AND DATE_ADD(NOW(), INTERVAL 3 DAY)`)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var ident string
		var exp time.Time
		if err := rows.Scan(&ident, &exp); err != nil {
			return err
		}
		to := mailbox(ident)
		if to == "" {
			continue
		}
		daysLeft := int(time.Until(exp).Hours()/24) + 1
		if err := email.SendRenewalReminder(to, daysLeft); err != nil {
			log.Printf("[marketing][error] reminder to=%s err=%v", to, err)
			continue
		}
		log.Printf("[marketing][reminder] ident=%s days_left=%d", ident, daysLeft)
	}
	return rows.Err()
}

// mailbox resolves a ledger identifier to an address. Identifiers are user
// ids for token logins and raw emails for accounts the payment webhook
// created before the user ever signed in.
func mailbox(ident string) string {
	if strings.Contains(ident, "@") {
		return ident
	}
	id, err := strconv.ParseInt(ident, 10, 64)
	if err != nil {
		return ""
	}
	if u := migrations.GetUserByID(id); u != nil {
		return u.Email
	}
	return ""
}
