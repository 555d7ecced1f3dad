package models

// Message is a rendered chat payload, independent of the channel wire format.
type Message struct {
	Text      string       `json:"text"`
	ParseMode string       `json:"parse_mode,omitempty"`
	Buttons   []LinkButton `json:"buttons,omitempty"`
}

// LinkButton opens URL when pressed.
type LinkButton struct {
	Label string `json:"label"`
	URL   string `json:"url"`
}

// TextMessage returns a plain text message.
func TextMessage(text string) Message {
	return Message{Text: text}
}
