package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Vovarama1992/pixode-support/internal/chat"
	"github.com/Vovarama1992/pixode-support/internal/widget"
)

func buildChatCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Chat with PIXODE support as a customer",
		Long: `Opens the support chat in the terminal. The session is remembered
between runs until it is closed.

Commands while chatting:
  /retry   resend messages that failed
  /new     start a new conversation
  /quit    leave (the conversation stays open)`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			tokens, err := widget.NewFileTokenStore(opts.tokenFile)
			if err != nil {
				return err
			}
			c := widget.NewCustomer(widget.NewClient(opts.server, ""), tokens, widget.CustomerOptions{
				Logger: slog.Default(),
			})
			defer c.Close()

			return runChat(ctx, c, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
}

func runChat(ctx context.Context, c *widget.Customer, in io.Reader, out io.Writer) error {
	fmt.Fprintln(out, widget.Greeting)

	if _, err := c.Start(ctx); err != nil {
		return fmt.Errorf("start chat: %w", err)
	}
	if c.NeedsContact() {
		fmt.Fprintln(out, "Please leave your email so we can reach you later.")
	}

	p := newPrinter(out)
	p.print(c.Transcript())
	closedShown := false

	lines := readLines(ctx, in)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-c.Updates():
		case line, ok := <-lines:
			if !ok {
				p.print(c.Transcript())
				return nil
			}
			quit, err := handleChatLine(ctx, c, line, p)
			if err != nil {
				fmt.Fprintln(out, "error:", err)
			}
			if quit {
				return nil
			}
		}

		p.print(c.Transcript())
		if sess := c.Session(); sess != nil && sess.Status == chat.StatusClosed && !closedShown {
			closedShown = true
			fmt.Fprintln(out, "This conversation is closed. Type /new to start another one.")
		}
	}
}

func handleChatLine(ctx context.Context, c *widget.Customer, line string, p *printer) (bool, error) {
	switch line {
	case "/quit":
		return true, nil
	case "/new":
		_, err := c.StartOver(ctx)
		p.reset()
		return false, err
	case "/retry":
		var errs []error
		for _, e := range c.Transcript() {
			if e.State == widget.Failed {
				if _, err := c.Retry(ctx, e.ID); err != nil {
					errs = append(errs, err)
				}
			}
		}
		return false, errors.Join(errs...)
	}

	if c.NeedsContact() && strings.Contains(line, "@") && !strings.ContainsAny(line, " \t") {
		_, err := c.SubmitContact(ctx, line)
		return false, err
	}
	_, err := c.Send(ctx, line)
	if err == nil && c.NeedsContact() {
		fmt.Fprintln(p.out, "Got it. Leave your email and we'll send this right away.")
	}
	return false, err
}
