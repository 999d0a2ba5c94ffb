package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/codefionn/streamchat/internal/chat"
	"github.com/codefionn/streamchat/internal/conversation"
)

// chatSession is the part of the orchestrator one-shot mode needs
type chatSession interface {
	State() (chat.State, error)
	Subscribe(fn func(chat.State)) func()
	CreateConversation(title string) (string, error)
	SendMessage(content string) error
}

var localNotices = map[string]bool{
	chat.NotConnectedNotice:           true,
	chat.SendFailedNotice:             true,
	conversation.ConnectionLostNotice: true,
}

// runOneShot waits for the connection, sends prompt in a fresh conversation
// and streams the reply to w as it arrives
func runOneShot(ctx context.Context, session chatSession, prompt string, w io.Writer, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	updates := make(chan chat.State, 1)
	unsubscribe := session.Subscribe(func(s chat.State) {
		// Latest snapshot wins; only the loop sends.
		select {
		case updates <- s:
		default:
			select {
			case <-updates:
			default:
			}
			updates <- s
		}
	})
	defer unsubscribe()

	state, err := session.State()
	if err != nil {
		return err
	}
	for !state.Connected {
		if state.ConnectionError != "" {
			return errors.New(state.ConnectionError)
		}
		select {
		case state = <-updates:
		case <-ctx.Done():
			return fmt.Errorf("waiting for connection: %w", ctx.Err())
		}
	}

	convID, err := session.CreateConversation("")
	if err != nil {
		return err
	}
	if err := session.SendMessage(prompt); err != nil {
		return err
	}

	printed := 0
	for {
		select {
		case state = <-updates:
		case <-ctx.Done():
			fmt.Fprintln(w)
			return fmt.Errorf("waiting for reply: %w", ctx.Err())
		}

		var conv conversation.Conversation
		found := false
		for _, c := range state.Conversations {
			if c.ID == convID {
				conv, found = c, true
				break
			}
		}
		if !found || len(conv.Messages) == 0 {
			continue
		}
		if len(conv.Messages) >= 2 {
			reply := conv.Messages[1]
			if localNotices[reply.Content] {
				return errors.New(reply.Content)
			}
			if len(reply.Content) > printed {
				fmt.Fprint(w, reply.Content[printed:])
				printed = len(reply.Content)
			}
		}

		if state.Loading {
			continue
		}
		last := conv.Messages[len(conv.Messages)-1]
		switch {
		case len(conv.Messages) > 2 && localNotices[last.Content]:
			fmt.Fprintln(w)
			return errors.New(last.Content)
		case len(conv.Messages) >= 2:
			fmt.Fprintln(w)
			return nil
		case state.Connected:
			// The turn ended without a reply, e.g. an error frame
			return errors.New("the server rejected the request")
		}
	}
}
