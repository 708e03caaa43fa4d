package mailer

import (
	"fmt"

	"github.com/premisehq/visitor-gate/pkg/logger"
)

// DevMailer prints mail to the log instead of sending it.
type DevMailer struct{}

func NewDevMailer() *DevMailer {
	return &DevMailer{}
}

func (d *DevMailer) SendVisitOutcome(toEmail, visitorName, roomID, outcome string) error {
	logger.Info("[DEV MAIL] Visit outcome",
		"to", toEmail,
		"name", visitorName,
		"room", roomID,
		"outcome", outcome,
	)

	fmt.Printf("\n"+
		"----------------------------------------------------------------\n"+
		"VISIT OUTCOME EMAIL (DEV MODE)\n"+
		"----------------------------------------------------------------\n"+
		"To: %s (%s)\n"+
		"Subject: Your visit request for room %s\n"+
		"\n"+
		"Your visit request for room %s was %s.\n"+
		"----------------------------------------------------------------\n\n",
		toEmail, visitorName, roomID, roomID, outcome)

	return nil
}

func (d *DevMailer) SendCheckReceipt(toEmail, visitorName, roomID, kind string) error {
	logger.Info("[DEV MAIL] Check receipt",
		"to", toEmail,
		"name", visitorName,
		"room", roomID,
		"kind", kind,
	)
	return nil
}
