package gmail

// MessageSummary identifies one message in a mailbox listing.
type MessageSummary struct {
	ID       string `json:"id"`
	ThreadID string `json:"thread_id"`
}

// Message is a fetched email with its decoded plain-text body preview.
type Message struct {
	ID       string `json:"id"`
	ThreadID string `json:"thread_id"`
	Subject  string `json:"subject"`
	From     string `json:"from"`
	Snippet  string `json:"snippet"`
	Body     string `json:"body"`
}

// Draft is an outgoing email.
type Draft struct {
	To      []string `json:"to"`
	Cc      []string `json:"cc,omitempty"`
	Bcc     []string `json:"bcc,omitempty"`
	Subject string   `json:"subject"`
	Body    string   `json:"body"`
}

// SendReceipt is the provider's acknowledgement of a sent message.
type SendReceipt struct {
	MessageID string `json:"message_id"`
	ThreadID  string `json:"thread_id"`
	Status    string `json:"status"`
}
