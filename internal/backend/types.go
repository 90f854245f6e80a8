package backend

// Message is a single prompt sent to a language model.
type Message struct {
	System  string // system instruction, may be empty
	Content string // user prompt
	JSON    bool   // ask the model to answer with a single JSON value
}

// Response is the model's answer to a Message.
type Response struct {
	Content string
}

// Config defines the configuration for a backend.
type Config struct {
	Type      string // "gemini", "anthropic", or "claude-cli"
	Model     string
	APIKey    string
	BaseURL   string // API endpoint override, empty for the provider default
	Command   string // executable for "claude-cli", defaults to "claude"
	WorkDir   string
	MaxTokens int
}

// jsonInstruction is appended to the system prompt for backends without a
// native JSON response mode.
const jsonInstruction = "Respond with a single JSON value only. Do not wrap it in markdown."

func systemFor(msg Message) string {
	if !msg.JSON {
		return msg.System
	}
	if msg.System == "" {
		return jsonInstruction
	}
	return msg.System + "\n\n" + jsonInstruction
}
