package changelogbot

import (
	"context"
	"errors"
	"fmt"
	"github.com/bwmarrin/discordgo"
	"sync"
)

type replyState int

const (
	replyNone replyState = iota
	replyDeferred
	replyResponded
)

func (s replyState) String() string {
	switch s {
	case replyNone:
		return "none"
	case replyDeferred:
		return "deferred"
	case replyResponded:
		return "responded"
	default:
		return fmt.Sprintf("replyState(%d)", int(s))
	}
}

// Reply tracks the reply lifecycle of a single interaction. Discord
// accepts exactly one initial response (an immediate message, a modal or
// a deferral). After that, the response can only be edited, or followed
// up with additional messages.
type Reply struct {
	handler   InteractionHandler
	mu        sync.Mutex
	state     replyState
	ephemeral bool
	edits     int
	followUps int
}

func newReply(handler InteractionHandler) *Reply {
	return &Reply{handler: handler}
}

// Sent reports whether an initial response was sent
func (r *Reply) Sent() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state != replyNone
}

func (r *Reply) State() replyState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Reply) initial(
	ctx context.Context,
	response *discordgo.InteractionResponse,
	next replyState,
) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != replyNone {
		return ErrAlreadyResponded
	}
	if err := r.handler.Respond(ctx, response); err != nil {
		return &DeliveryError{Err: err}
	}
	r.state = next
	if response.Data != nil {
		r.ephemeral = response.Data.Flags&discordgo.MessageFlagsEphemeral != 0
	}
	return nil
}

// Respond sends an immediate message response
func (r *Reply) Respond(ctx context.Context, data *discordgo.InteractionResponseData) error {
	return r.initial(
		ctx,
		&discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseChannelMessageWithSource,
			Data: data,
		},
		replyResponded,
	)
}

// ShowModal responds with a modal dialog
func (r *Reply) ShowModal(ctx context.Context, response *discordgo.InteractionResponse) error {
	return r.initial(ctx, response, replyResponded)
}

// Defer acknowledges the interaction, to be completed later with Edit
func (r *Reply) Defer(ctx context.Context, ephemeral bool) error {
	data := &discordgo.InteractionResponseData{}
	if ephemeral {
		data.Flags = discordgo.MessageFlagsEphemeral
	}
	return r.initial(
		ctx,
		&discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
			Data: data,
		},
		replyDeferred,
	)
}

// Pong answers a webhook ping
func (r *Reply) Pong(ctx context.Context) error {
	return r.initial(
		ctx,
		&discordgo.InteractionResponse{Type: discordgo.InteractionResponsePong},
		replyResponded,
	)
}

// Edit replaces the content of the deferred or sent response
func (r *Reply) Edit(ctx context.Context, edit *discordgo.WebhookEdit) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == replyNone {
		return fmt.Errorf("edit before initial response: %w", ErrDeliveryFailed)
	}
	if _, err := r.handler.Edit(ctx, edit); err != nil {
		return &DeliveryError{Err: err}
	}
	r.edits++
	return nil
}

// FollowUp sends an additional message after the initial response
func (r *Reply) FollowUp(ctx context.Context, params *discordgo.WebhookParams) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == replyNone {
		return fmt.Errorf("follow-up before initial response: %w", ErrDeliveryFailed)
	}
	if _, err := r.handler.FollowUp(ctx, params); err != nil {
		return &DeliveryError{Err: err}
	}
	r.followUps++
	return nil
}

// Fail reports a failure to the invoking user, visible only to them.
// If nothing was sent yet, the failure is the initial response.
// Otherwise it's sent as a follow-up.
func (r *Reply) Fail(ctx context.Context, message string) error {
	if !r.Sent() {
		err := r.Respond(
			ctx,
			&discordgo.InteractionResponseData{
				Content: message,
				Flags:   discordgo.MessageFlagsEphemeral,
			},
		)
		if !errors.Is(err, ErrAlreadyResponded) {
			return err
		}
	}
	return r.FollowUp(
		ctx,
		&discordgo.WebhookParams{
			Content: message,
			Flags:   discordgo.MessageFlagsEphemeral,
		},
	)
}
