package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"duochat/internal/model"
)

func sendCmd() *cobra.Command {
	var imagePath, pdfPath string

	cmd := &cobra.Command{
		Use:   "send <peerId> [text]",
		Short: "Send a text, image or PDF message",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			api, _, err := newAPI()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 60*time.Second)
			defer cancel()

			peerID := args[0]
			var msg model.Message
			switch {
			case imagePath != "":
				msg, err = sendFile(imagePath, func(f *os.File) (model.Message, error) {
					return api.SendImage(ctx, peerID, imagePath, f)
				})
			case pdfPath != "":
				msg, err = sendFile(pdfPath, func(f *os.File) (model.Message, error) {
					return api.SendPDF(ctx, peerID, pdfPath, f)
				})
			case len(args) == 2:
				msg, err = api.SendText(ctx, peerID, args[1])
			default:
				return errors.New("nothing to send: give text, --image or --pdf")
			}
			if err != nil {
				return err
			}

			fmt.Printf("sent %s at %s\n", msg.ID, msg.CreatedAt.Local().Format(time.Kitchen))
			return nil
		},
	}

	cmd.Flags().StringVar(&imagePath, "image", "", "path to an image to send")
	cmd.Flags().StringVar(&pdfPath, "pdf", "", "path to a PDF to send")
	return cmd
}

func sendFile(path string, send func(*os.File) (model.Message, error)) (model.Message, error) {
	f, err := os.Open(path)
	if err != nil {
		return model.Message{}, err
	}
	defer f.Close()
	return send(f)
}
