package email

import (
	"fmt"
	"log"
	"net/smtp"
	"os"
)

// send delivers one plain-text message through the SMTP relay named in the
// environment. Every caller treats mail as best effort: failures are
// logged, never surfaced to the user.
func send(to, subject, body string) error {
	host := os.Getenv("SMTP_HOST")
	port := os.Getenv("SMTP_PORT")
	user := os.Getenv("SMTP_USER")
	pass := os.Getenv("SMTP_PASS")
	from := os.Getenv("SMTP_FROM")
	if from == "" {
		from = user
	}
	if host == "" || port == "" || user == "" || pass == "" || from == "" {
		return fmt.Errorf("SMTP environment variables missing")
	}
	addr := fmt.Sprintf("%s:%s", host, port)
	auth := smtp.PlainAuth("", user, pass, host)
	msg := []byte(fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s", from, to, subject, body))
	return smtp.SendMail(addr, auth, from, []string{to}, msg)
}

// SendWelcome greets a freshly registered user.
func SendWelcome(to string) error {
	subject := "Welcome to PrepQ"
	body := "Your account is ready. Generation features spend credits; you can check your balance from the app at any time."
	if err := send(to, subject, body); err != nil {
		return err
	}
	log.Printf("[email] welcome sent to %s", to)
	return nil
}

// SendPasswordChanged notifies the account holder after a password change.
func SendPasswordChanged(to string) error {
	subject := "Your PrepQ password was changed"
	body := "Your password was just updated. If this was not you, contact support immediately."
	if err := send(to, subject, body); err != nil {
		return err
	}
	log.Printf("[email] password change notification sent to %s", to)
	return nil
}

// SendRenewalReminder nudges a subscriber whose plan lapses soon.
func SendRenewalReminder(to string, daysLeft int) error {
	subject := "Your PrepQ plan is about to lapse"
	body := fmt.Sprintf("Your subscription ends in %d day(s). Renew to keep receiving your monthly credit allotment.", daysLeft)
	if err := send(to, subject, body); err != nil {
		return err
	}
	log.Printf("[email] renewal reminder sent to %s", to)
	return nil
}
