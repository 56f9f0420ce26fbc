package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"wick_chat/agent"
	"wick_chat/chat"
	"wick_chat/client"
)

var (
	userColor   = color.New(color.Bold)
	aiColor     = color.New(color.FgCyan)
	formatColor = color.New(color.FgGreen)
	errorColor  = color.New(color.FgRed)
)

func newAskCmd() *cobra.Command {
	var opts struct {
		Server    string
		Username  string
		Password  string
		ChatID    string
		WebSocket bool
	}

	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask a question and stream the answer",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			question := strings.Join(args, " ")
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			c := client.New(opts.Server, os.Getenv("WICK_CHAT_TOKEN"))
			c.WebSocket = opts.WebSocket
			if opts.Username != "" {
				if _, err := c.Login(ctx, opts.Username, opts.Password); err != nil {
					return fmt.Errorf("login: %w", err)
				}
			}

			req, err := buildRequest(ctx, c, opts.ChatID, question)
			if err != nil {
				return err
			}

			formatColor.Printf("chat %s\n", req.ChatID)
			userColor.Printf("-> %s\n\n", question)

			var printed string
			_, err = c.Ask(ctx, req, func(text string) {
				printed = printDelta(printed, text)
			})
			fmt.Println()
			if err != nil {
				errorColor.Printf("error: %v\n", err)
				return err
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&opts.Server, "server", "s", envOrDefault("WICK_CHAT_URL", "http://localhost:8000"), "Server URL (env: WICK_CHAT_URL)")
	cmd.Flags().StringVarP(&opts.Username, "user", "u", "", "Log in as this user")
	cmd.Flags().StringVar(&opts.Password, "password", os.Getenv("WICK_CHAT_PASSWORD"), "Password for --user (env: WICK_CHAT_PASSWORD)")
	cmd.Flags().StringVar(&opts.ChatID, "chat", "", "Continue an existing chat instead of starting a new one")
	cmd.Flags().BoolVar(&opts.WebSocket, "ws", false, "Stream over WebSocket instead of SSE")
	return cmd
}

// buildRequest continues chatID with its stored history, or starts a new
// chat titled after the question.
func buildRequest(ctx context.Context, c *client.Client, chatID, question string) (chat.Request, error) {
	req := chat.Request{ChatID: chatID, NewMessage: question}
	if chatID == "" {
		title := question
		if r := []rune(title); len(r) > 40 {
			title = string(r[:40]) + "..."
		}
		created, err := c.CreateChat(ctx, title)
		if err != nil {
			return req, fmt.Errorf("create chat: %w", err)
		}
		req.ChatID = created.ID
		return req, nil
	}

	history, err := c.ListMessages(ctx, chatID)
	if err != nil {
		return req, fmt.Errorf("load history: %w", err)
	}
	for _, m := range history {
		req.Messages = append(req.Messages, agent.Message{Role: m.Role, Content: m.Content})
	}
	return req, nil
}

// printDelta prints what text adds to printed. A tool block that was
// rewritten in place is printed again from where it changed.
func printDelta(printed, text string) string {
	if strings.HasPrefix(text, printed) {
		aiColor.Print(text[len(printed):])
		return text
	}
	i := 0
	for i < len(printed) && i < len(text) && printed[i] == text[i] {
		i++
	}
	fmt.Println()
	formatColor.Print(strings.TrimLeft(text[i:], "\n"))
	return text
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
