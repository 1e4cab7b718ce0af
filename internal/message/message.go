package message

// Message is one chat line delivered by a feed (relay, browser, Twitch, Kick)
type Message struct {
	Platform  string `json:"platform"`           // Feed name: "relay", "browser", "twitch", "kick"
	Timestamp string `json:"timestamp"`          // RFC3339 (UTC)
	Channel   string `json:"channel"`            // Room, channel or page the line belongs to
	Username  string `json:"username,omitempty"` // Sender display name, empty for system lines
	Message   string `json:"message"`            // Chat message content
	System    bool   `json:"system,omitempty"`   // Server notice rather than a player message
}

// Verdict records one badge attached by the pipeline
type Verdict struct {
	Timestamp string  `json:"timestamp"` // RFC3339 (UTC)
	Page      string  `json:"page"`      // Page (feed) name
	Surface   string  `json:"surface"`   // Surface name: "hangman", "skribbl"
	Text      string  `json:"text"`      // Extracted text that was classified
	Label     string  `json:"label"`
	Score     float64 `json:"score"`
}
