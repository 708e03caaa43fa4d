package main

import (
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/premisehq/visitor-gate/internal/mailer"
	"github.com/premisehq/visitor-gate/pkg/config"
	"github.com/premisehq/visitor-gate/pkg/events"
	"github.com/premisehq/visitor-gate/pkg/logger"
)

// The notify worker is fire-and-forget by contract: a failed send is
// logged and dropped, never retried into the caller's path.
func main() {
	cfg := config.Load()

	eventBus, err := events.NewNATSEventBus(cfg.NATS.URL)
	if err != nil {
		logger.Error("Failed to connect to NATS", "error", err)
		os.Exit(1)
	}
	defer eventBus.Close()

	mail := selectMailer(cfg)

	err = eventBus.QueueSubscribe(events.NotifySend, "notify-workers", func(msg *events.Message) {
		var event events.NotificationEvent
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			logger.Error("Failed to decode notification event", "error", err)
			return
		}

		roomID, _ := event.Data["room_id"].(string)
		status, _ := event.Data["status"].(string)
		if err := mail.SendVisitOutcome(event.Recipient, event.Recipient, roomID, status); err != nil {
			logger.Error("Failed to send outcome mail", "error", err, "recipient", event.Recipient)
		}
	})
	if err != nil {
		logger.Error("Failed to subscribe to notifications", "error", err)
		os.Exit(1)
	}

	err = eventBus.QueueSubscribe(events.VisitExpired, "notify-workers", func(msg *events.Message) {
		var event events.VisitResolvedEvent
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			logger.Error("Failed to decode expiry event", "error", err)
			return
		}

		if err := mail.SendVisitOutcome(event.VisitorID, event.VisitorID, "", "denied (no response before the deadline)"); err != nil {
			logger.Error("Failed to send expiry mail", "error", err, "recipient", event.VisitorID)
		}
	})
	if err != nil {
		logger.Error("Failed to subscribe to expiry events", "error", err)
		os.Exit(1)
	}

	logger.Info("Notify worker running")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("Notify worker shutting down")
}

func selectMailer(cfg *config.Config) mailer.Service {
	if cfg.Email.DevMode {
		return mailer.NewDevMailer()
	}
	if cfg.Email.MailerSendKey != "" {
		return mailer.NewMailerSend(cfg.Email.MailerSendKey, "Visitor Gate", cfg.Email.SMTPFrom)
	}
	return mailer.NewSMTPMailer(cfg.Email.SMTPHost, cfg.Email.SMTPPort, cfg.Email.SMTPFrom,
		cfg.Email.SMTPUser, cfg.Email.SMTPPass, cfg.Email.SMTPUseTLS)
}
