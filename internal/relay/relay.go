// Package relay implements the MailRelay collaborator: delivery of a
// message to a single recipient, either by connecting out over SMTP or by
// handing it to a local binary (an MDA).
package relay

// MailRelay delivers mail to a single recipient. It is implemented by
// SMTPRelay, for remote recipients, and MDARelay, for local ones.
type MailRelay interface {
	// Deliver mail to a recipient. Return the error (if any), and whether it
	// is permanent (true) or transient (false).
	Deliver(from string, to string, data []byte) (error, bool)
}

var (
	_ MailRelay = (*SMTPRelay)(nil)
	_ MailRelay = (*MDARelay)(nil)
)
