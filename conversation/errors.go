package conversation

import (
	"context"
	"errors"
	"fmt"

	"parley/audio"
	"parley/exchange"
	"parley/playback"
	"parley/session"
)

// Kind classifies err for metrics labels.
func Kind(err error) string {
	var (
		de *audio.DeviceError
		te *exchange.TransportError
		se *session.SessionError
		pe *playback.PlaybackError
	)
	switch {
	case err == nil:
		return "none"
	case errors.As(err, &de):
		return "device"
	case errors.As(err, &te):
		return "transport"
	case errors.As(err, &se):
		return "session"
	case errors.As(err, &pe):
		return "playback"
	case errors.Is(err, ErrBusy), errors.Is(err, ErrExchangeInFlight):
		return "busy"
	default:
		return "other"
	}
}

// Describe turns err into a message for the user.
func Describe(err error) string {
	var (
		de *audio.DeviceError
		te *exchange.TransportError
		se *session.SessionError
		pe *playback.PlaybackError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &de):
		if errors.Is(err, audio.ErrNoDevice) {
			return "No microphone found. Connect one and try again."
		}
		return fmt.Sprintf("Microphone unavailable: %v", de.Err)
	case errors.As(err, &te):
		if te.StatusCode != 0 {
			return fmt.Sprintf("Voice service error: %s", te.Status)
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return "Voice service timed out."
		}
		return "Cannot reach the voice service."
	case errors.As(err, &se):
		return "No conversation session. Reset the conversation to start a new one."
	case errors.As(err, &pe):
		return fmt.Sprintf("Could not play the response: %v", pe.Err)
	case errors.Is(err, ErrBusy):
		return "Still working on the previous turn."
	case errors.Is(err, ErrExchangeInFlight):
		return "Cannot reset while a response is on its way."
	case errors.Is(err, ErrClosed):
		return "Conversation closed."
	default:
		return err.Error()
	}
}
