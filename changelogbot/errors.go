package changelogbot

import (
	"errors"
	"fmt"
)

var (
	// ErrConfigurationMissing indicates a required credential or setting
	// was not provided.
	ErrConfigurationMissing = errors.New("configuration missing")

	// ErrNotFound is returned when a command, channel or other referenced
	// entity doesn't exist.
	ErrNotFound = errors.New("not found")

	// ErrUpstreamFailure wraps failures from the AI provider or the
	// search endpoint.
	ErrUpstreamFailure = errors.New("upstream failure")

	// ErrDeliveryFailed indicates a message or interaction reply could
	// not be sent.
	ErrDeliveryFailed = errors.New("delivery failed")

	ErrDuplicateCommandName = errors.New("duplicate command name")

	// ErrAlreadyResponded is returned when a second initial response is
	// attempted for the same interaction. Follow-ups must be used instead.
	ErrAlreadyResponded = errors.New("interaction already responded to")

	ErrProviderUnconfigured = fmt.Errorf("ai provider: %w", ErrConfigurationMissing)
	ErrChannelNotFound      = fmt.Errorf("channel %w", ErrNotFound)
	ErrInvalidCustomID      = errors.New("invalid changelog custom ID")
)

// ProviderError is returned by AIService when the upstream provider call
// fails or returns no content.
type ProviderError struct {
	Provider string
	Message  string
	Err      error
}

func (e *ProviderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Provider, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

func (*ProviderError) Is(target error) bool {
	return target == ErrUpstreamFailure
}

// DeliveryError is returned when sending to a channel, or replying to an
// interaction, fails.
type DeliveryError struct {
	ChannelID string
	Err       error
}

func (e *DeliveryError) Error() string {
	if e.ChannelID == "" {
		return fmt.Sprintf("delivery failed: %v", e.Err)
	}
	return fmt.Sprintf("delivery to channel %s failed: %v", e.ChannelID, e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

func (*DeliveryError) Is(target error) bool {
	return target == ErrDeliveryFailed
}
