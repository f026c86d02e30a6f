package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"duochat/internal/auth"
	"duochat/internal/client"
	"duochat/internal/config"
)

var (
	serverURL string
	token     string
)

func main() {
	_ = godotenv.Load()

	root := &cobra.Command{
		Use:   "chatctl",
		Short: "chatctl: talk to a duochat server from the terminal",
		Long:  "chatctl mints development tokens, lists users, sends messages and watches a conversation live.",
	}

	root.PersistentFlags().StringVarP(&serverURL, "server", "s", envOr("DUOCHAT_SERVER", "http://localhost:8080"), "server base URL")
	root.PersistentFlags().StringVarP(&token, "token", "t", os.Getenv("DUOCHAT_TOKEN"), "session token (default: $DUOCHAT_TOKEN)")

	root.AddCommand(tokenCmd())
	root.AddCommand(usersCmd())
	root.AddCommand(sendCmd())
	root.AddCommand(watchCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func tokenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "token <userId>",
		Short: "Mint a session token signed with JWT_SECRET",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			if cfg.JWTSecret == "" {
				return errors.New("JWT_SECRET is not set")
			}
			tok, err := auth.NewIssuer(cfg.JWTSecret).Issue(args[0])
			if err != nil {
				return err
			}
			fmt.Println(tok)
			return nil
		},
	}
}

func usersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "users",
		Short: "List the other users",
		RunE: func(cmd *cobra.Command, args []string) error {
			api, _, err := newAPI()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()

			users, err := api.ListUsers(ctx)
			if err != nil {
				return err
			}
			for _, u := range users {
				fmt.Printf("%-24s %s\n", u.ID, u.FullName)
			}
			return nil
		},
	}
}

// newAPI returns the REST client and the user id carried by the token.
func newAPI() (*client.API, string, error) {
	if token == "" {
		return nil, "", errors.New("no token: pass --token or set DUOCHAT_TOKEN")
	}
	userID, err := subject(token)
	if err != nil {
		return nil, "", err
	}
	return client.NewAPI(serverURL, token), userID, nil
}

// subject reads the user id from a token without verifying it. The server
// does the verification.
func subject(tok string) (string, error) {
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(tok, &claims); err != nil {
		return "", fmt.Errorf("malformed token: %w", err)
	}
	if claims.Subject == "" {
		return "", errors.New("token has no subject")
	}
	return claims.Subject, nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
