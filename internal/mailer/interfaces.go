package mailer

// Service sends visitor-facing notification email. Failures are always
// fire-and-forget from the engine's point of view.
type Service interface {
	SendVisitOutcome(toEmail, visitorName, roomID, outcome string) error
	SendCheckReceipt(toEmail, visitorName, roomID, kind string) error
}
