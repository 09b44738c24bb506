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

func buildAgentCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Work the support queue (requires an agent token)",
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if opts.token == "" {
				return errors.New("agent commands need --token or SUPPORT_TOKEN")
			}
			return nil
		},
	}
	cmd.AddCommand(
		buildAgentQueueCmd(opts),
		buildAgentWorklistCmd(opts),
		buildAgentClaimCmd(opts),
		buildAgentCloseCmd(opts),
		buildAgentReplyCmd(opts),
		buildAgentOpenCmd(opts),
		buildAgentWatchCmd(opts),
	)
	return cmd
}

func agentBackend(opts *rootOptions) widget.AgentBackend {
	return widget.NewClient(opts.server, opts.token)
}

func buildAgentQueueCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "queue",
		Short: "List open sessions waiting for an agent",
		RunE: func(cmd *cobra.Command, _ []string) error {
			sessions, err := agentBackend(opts).ListOpenSessions(cmd.Context())
			if err != nil {
				return err
			}
			printSessions(cmd.OutOrStdout(), sessions)
			return nil
		},
	}
}

func buildAgentWorklistCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "worklist",
		Short: "List sessions assigned to you",
		RunE: func(cmd *cobra.Command, _ []string) error {
			sessions, err := agentBackend(opts).ListAssignedSessions(cmd.Context())
			if err != nil {
				return err
			}
			printSessions(cmd.OutOrStdout(), sessions)
			return nil
		},
	}
}

func buildAgentClaimCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "claim <session-id>",
		Short: "Take over an open session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runClaim(cmd.Context(), agentBackend(opts), args[0], cmd.OutOrStdout())
		},
	}
}

func runClaim(ctx context.Context, backend widget.AgentBackend, id string, out io.Writer) error {
	sess, err := backend.ClaimSession(ctx, id)
	var conflict *chat.ClaimConflictError
	if errors.As(err, &conflict) {
		who := conflict.Session.AssignedAgentName
		if who == "" {
			who = "another agent"
		}
		return fmt.Errorf("session %s was already taken by %s", id, who)
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "claimed %s (%s)\n", sess.ID, sess.CustomerContact)
	return nil
}

func buildAgentCloseCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "close <session-id>",
		Short: "Close a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := agentBackend(opts).CloseSession(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "closed %s\n", sess.ID)
			return nil
		},
	}
}

func buildAgentReplyCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reply <session-id> <text...>",
		Short: "Send one message to a session you own",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			msg, err := agentBackend(opts).PostMessage(cmd.Context(), args[0], strings.Join(args[1:], " "), "")
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "sent %s\n", msg.ID)
			return nil
		},
	}
}

func buildAgentOpenCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "open <session-id>",
		Short: "Follow a session and reply interactively",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			d := widget.NewDashboard(agentBackend(opts), slog.Default())
			defer d.Stop()
			conv, err := d.Open(ctx, args[0])
			if err != nil {
				return err
			}
			defer conv.Close()
			return runConversation(ctx, conv, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
}

func runConversation(ctx context.Context, conv *widget.Conversation, in io.Reader, out io.Writer) error {
	sess := conv.Session()
	fmt.Fprintf(out, "%s  %s  %s\n", sess.ID, sess.CustomerContact, sess.Status)

	p := newPrinter(out)
	p.print(conv.Transcript())

	lines := readLines(ctx, in)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-conv.Updates():
		case line, ok := <-lines:
			if !ok || line == "/quit" {
				p.print(conv.Transcript())
				return nil
			}
			if _, err := conv.Reply(ctx, line); err != nil {
				fmt.Fprintln(out, "error:", err)
			}
		}
		p.print(conv.Transcript())
	}
}

func buildAgentWatchCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Show the queue and your worklist as they change",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			d := widget.NewDashboard(agentBackend(opts), slog.Default())
			defer d.Stop()
			if err := d.Watch(ctx); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			show := func() {
				fmt.Fprintln(out, "== queue")
				printSessions(out, d.Queue())
				fmt.Fprintln(out, "== worklist")
				printSessions(out, d.Worklist())
			}
			show()
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-d.Updates():
					show()
				}
			}
		},
	}
}
