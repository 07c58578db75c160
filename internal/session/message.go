package session

import (
	"errors"
	"fmt"

	"github.com/arin/reel/internal/movie"
	"github.com/arin/reel/internal/readiness"
	"github.com/arin/reel/internal/transport"
)

// Sender identifies who authored a message.
type Sender string

const (
	User Sender = "user"
	AI   Sender = "ai"
)

// Message is one entry of the conversation log. A streaming message is
// updated in place until its answer completes; after that it never
// changes.
type Message struct {
	ID        int
	Text      string
	Sender    Sender
	Streaming bool
}

func welcomeText(key movie.Key) string {
	return fmt.Sprintf("Hello! I'm your Deep Dive AI for %q. What would you like to know?", key)
}

func preparingText(key movie.Key) string {
	return fmt.Sprintf("I'm reading through %q for the first time. This can take a few minutes, hang tight...", key)
}

func readyText(key movie.Key) string {
	return fmt.Sprintf("All set! %q is ready. Ask me anything about it.", key)
}

func gateErrorText(key movie.Key, err error) string {
	if errors.Is(err, readiness.ErrTimeout) {
		return fmt.Sprintf("Preparing %q is taking longer than expected. Please try again later.", key)
	}
	return fmt.Sprintf("I couldn't reach the movie service to check %q. Please try again later.", key)
}

func channelOpenErrorText() string {
	return "I couldn't open a chat connection to the movie service. Please restart the chat."
}

func channelClosedText() string {
	return "The chat connection closed. Restart the chat to keep asking questions."
}

// answerErrorText renders the failure of one question.
func answerErrorText(err error) string {
	var ae *transport.AnswerError
	switch {
	case errors.Is(err, transport.ErrChannelClosed):
		return "The connection closed before I could answer. Restart the chat to keep asking questions."
	case errors.As(err, &ae):
		return "Sorry, I couldn't answer that: " + ae.Error()
	default:
		return fmt.Sprintf("Sorry, something went wrong while answering: %v", err)
	}
}
