// Package queue defines message payloads exchanged over the message broker.
package queue

// EmailRequestedEvent is published after an account workflow commits
// and needs a mail delivered (verification link, reset link). It
// carries the fully rendered message so the consumer can deliver it
// without querying the primary database.
type EmailRequestedEvent struct {
	To          string `json:"to"`
	Subject     string `json:"subject"`
	HTMLBody    string `json:"html_body"`
	RequestedAt string `json:"requested_at"`
}
