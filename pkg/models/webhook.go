package models

// WebhookPayload is the notification body of the WhatsApp Cloud API, posted
// by Meta and by BSPs that relay it unchanged.
type WebhookPayload struct {
	Object string `json:"object"`
	Entry  []struct {
		ID      string `json:"id"`
		Changes []struct {
			Value struct {
				MessagingProduct string `json:"messaging_product"`
				Metadata         struct {
					DisplayPhoneNumber string `json:"display_phone_number"`
					PhoneNumberID      string `json:"phone_number_id"`
				} `json:"metadata"`
				Messages []InboundMessage `json:"messages,omitempty"`
				Statuses []MessageStatus  `json:"statuses,omitempty"`
			} `json:"value"`
			Field string `json:"field"`
		} `json:"changes"`
	} `json:"entry"`
}

// InboundMessage is a message a contact sent to the business number.
type InboundMessage struct {
	From      string `json:"from"`
	ID        string `json:"id"`
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"`
	Text      *struct {
		Body string `json:"body"`
	} `json:"text,omitempty"`
	Button *struct {
		Text    string `json:"text"`
		Payload string `json:"payload"`
	} `json:"button,omitempty"`
	// Context is set when the contact replied to, or tapped a button of, one
	// of our messages.
	Context *MessageContext `json:"context,omitempty"`
}

type MessageContext struct {
	From string `json:"from"`
	ID   string `json:"id"`
}

// MessageStatus reports the delivery state of an outbound message.
type MessageStatus struct {
	ID          string        `json:"id"`
	Status      string        `json:"status"` // sent, delivered, read, failed
	Timestamp   string        `json:"timestamp"`
	RecipientID string        `json:"recipient_id"`
	Errors      []StatusError `json:"errors,omitempty"`
}

type StatusError struct {
	Code      int    `json:"code"`
	Title     string `json:"title"`
	Message   string `json:"message,omitempty"`
	ErrorData *struct {
		Details string `json:"details"`
	} `json:"error_data,omitempty"`
}

// FailureReason returns the first error's title, falling back to its details.
func (s MessageStatus) FailureReason() string {
	if len(s.Errors) == 0 {
		return "failed"
	}
	e := s.Errors[0]
	switch {
	case e.Title != "":
		return e.Title
	case e.ErrorData != nil && e.ErrorData.Details != "":
		return e.ErrorData.Details
	case e.Message != "":
		return e.Message
	}
	return "failed"
}
