package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/Vovarama1992/pixode-support/internal/chat"
	"github.com/Vovarama1992/pixode-support/internal/widget"
)

func formatEntry(e widget.Entry) string {
	who := string(e.Sender.Kind)
	switch e.Sender.Kind {
	case chat.SenderAgent:
		who = "agent " + e.Sender.AgentID
	case chat.SenderAI:
		who = "assistant"
	}
	line := fmt.Sprintf("[%s] %s: %s", e.CreatedAt.Local().Format("15:04"), who, e.Text)
	switch e.State {
	case widget.Pending:
		line += " (sending)"
	case widget.Failed:
		line += " (not sent, /retry to resend)"
	}
	return line
}

// printer writes transcript entries once per (id, state).
type printer struct {
	out  io.Writer
	seen map[string]widget.DeliveryState
}

func newPrinter(out io.Writer) *printer {
	return &printer{out: out, seen: make(map[string]widget.DeliveryState)}
}

func (p *printer) print(entries []widget.Entry) {
	for _, e := range entries {
		if state, ok := p.seen[e.ID]; ok && state == e.State {
			continue
		}
		p.seen[e.ID] = e.State
		fmt.Fprintln(p.out, formatEntry(e))
	}
}

func (p *printer) reset() {
	p.seen = make(map[string]widget.DeliveryState)
}

func printSessions(out io.Writer, sessions []chat.Session) {
	if len(sessions) == 0 {
		fmt.Fprintln(out, "(none)")
		return
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCONTACT\tSTATUS\tAGENT\tUPDATED")
	for _, s := range sessions {
		agent := "-"
		if s.AssignedAgentName != "" {
			agent = s.AssignedAgentName
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", s.ID, s.CustomerContact, s.Status, agent, s.UpdatedAt.Local().Format("Jan 02 15:04"))
	}
	tw.Flush()
}

// readLines feeds trimmed non-empty stdin lines until EOF or ctx ends.
func readLines(ctx context.Context, in io.Reader) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			select {
			case lines <- line:
			case <-ctx.Done():
				return
			}
		}
	}()
	return lines
}
