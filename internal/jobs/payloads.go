package jobs

// SendEmailPayload carries the fully rendered message; the worker does no lookups.
type SendEmailPayload struct {
	To        string `json:"to"`
	Subject   string `json:"subject"`
	Body      string `json:"body"`
	RequestID string `json:"requestId,omitempty"` // optional: correlation
}
