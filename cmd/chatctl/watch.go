package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"duochat/internal/client"
)

func watchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch <peerId>",
		Short: "Open a conversation and print it as it changes",
		Long: `Connects the live channel, loads the conversation with peerId and marks
incoming messages as seen, like an open chat window would. Exits on Ctrl-C
or when the server closes the connection.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			api, userID, err := newAPI()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			c := client.NewController(api, api.LiveURL(), userID)
			dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			err = c.Connect(dialCtx)
			cancel()
			if err != nil {
				return err
			}
			defer c.Close()

			if err := c.SelectPeer(ctx, args[0]); err != nil {
				return err
			}

			v := newView(userID)
			v.render(c)
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-c.Updates():
					v.render(c)
					if c.State() == client.Disconnected {
						fmt.Println("-- connection closed")
						return nil
					}
				}
			}
		},
	}
}

// view prints messages once and reprints only tick mark changes.
type view struct {
	userID  string
	printed map[string]client.SeenState
	online  string
}

func newView(userID string) *view {
	return &view{userID: userID, printed: make(map[string]client.SeenState)}
}

func (v *view) render(c *client.Controller) {
	if online := strings.Join(c.OnlineUsers(), ", "); online != v.online {
		v.online = online
		fmt.Printf("-- online: %s\n", online)
	}

	for _, m := range c.Messages() {
		prev, seen := v.printed[m.Message.ID]
		switch {
		case !seen:
			fmt.Println(v.line(m))
		case prev != m.SeenState && m.Message.SenderID == v.userID:
			fmt.Printf("-- %s %s\n", m.Message.ID, tick(m.SeenState))
		}
		v.printed[m.Message.ID] = m.SeenState
	}
}

func (v *view) line(m client.LocalMessage) string {
	msg := m.Message
	body := msg.Text
	switch {
	case msg.Image != "":
		body = strings.TrimSpace(body + " [image " + msg.Image + "]")
	case msg.Document != "":
		body = strings.TrimSpace(body + " [pdf " + msg.Document + "]")
	}

	who := msg.SenderID
	if who == v.userID {
		who = "me"
	}
	return fmt.Sprintf("[%s] %s %s: %s %s", msg.CreatedAt.Local().Format(time.Kitchen), msg.ID, who, body, tick(m.SeenState))
}

func tick(s client.SeenState) string {
	switch s {
	case client.SeenConfirmed:
		return "✓✓"
	case client.SeenPending:
		return "✓…"
	default:
		return "✓"
	}
}
