package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"rentme-inbox/internal/app/inbox"
	"rentme-inbox/internal/domain/chat"
)

func init() {
	threadsCmd.Flags().String("scope", "", "thread scope: all, listings or direct")
	threadsCmd.Flags().Bool("all-pages", false, "follow the cursor until every thread is listed")
	sendCmd.Flags().StringSlice("attach", nil, "image or video file to attach (repeatable)")
	deleteCmd.Flags().BoolP("yes", "y", false, "delete without asking")

	rootCmd.AddCommand(threadsCmd, tailCmd, sendCmd, editCmd, deleteCmd)
}

var threadsCmd = &cobra.Command{
	Use:   "threads",
	Short: "List conversations, most recent first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		scope, _ := cmd.Flags().GetString("scope")
		allPages, _ := cmd.Flags().GetBool("all-pages")

		dir := inbox.NewDirectory(a.api, inbox.DirectoryOptions{
			PageSize: a.cfg.ThreadPageSize,
			Scope:    scope,
			Logger:   a.logger,
		})
		if _, err := dir.LoadPage(cmd.Context(), ""); err != nil {
			return err
		}
		for allPages && dir.HasMore() {
			if _, err := dir.LoadMore(cmd.Context()); err != nil {
				return err
			}
		}
		printThreads(a.out, dir.Threads())
		if dir.HasMore() {
			fmt.Fprintln(a.out, "(more threads available, use --all-pages)")
		}
		return nil
	},
}

var tailCmd = &cobra.Command{
	Use:   "tail <user-id> [listing-id]",
	Short: "Show a conversation and follow new messages",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		key := conversationKey(args)
		panel, err := a.mount(ctx, key, nil)
		if err != nil {
			return err
		}
		defer panel.Unmount()

		for _, m := range panel.Timeline.Messages() {
			printMessage(a.out, m, a.cfg.UserID)
		}
		return a.follow(ctx, panel, key)
	},
}

var sendCmd = &cobra.Command{
	Use:   "send <user-id> [listing-id] -- <text>",
	Short: "Send a message, optionally with attachments",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		keyArgs, text := splitText(cmd, args)
		if len(keyArgs) == 0 || len(keyArgs) > 2 {
			return errors.New("expected <user-id> [listing-id] before --")
		}
		paths, _ := cmd.Flags().GetStringSlice("attach")

		panel, err := a.mount(cmd.Context(), conversationKey(keyArgs), nil)
		if err != nil {
			return err
		}
		defer panel.Unmount()

		if len(paths) > 0 {
			files := make([]inbox.File, 0, len(paths))
			for _, p := range paths {
				f, err := inbox.LocalFile(p)
				if err != nil {
					return err
				}
				files = append(files, f)
			}
			for _, rejected := range panel.Attachments.Stage(files) {
				fmt.Fprintln(os.Stderr, "skipped", rejected.Error())
			}
		}
		panel.Coordinator.SetDraft(text)
		if err := panel.Coordinator.Send(cmd.Context()); err != nil {
			return err
		}
		if err := waitSettled(cmd.Context(), panel, 10*time.Second); err != nil {
			return err
		}
		fmt.Fprintln(a.out, "sent")
		return nil
	},
}

var editCmd = &cobra.Command{
	Use:   "edit <user-id> <listing-id> <message-id> -- <text>",
	Short: "Replace the text of one of your messages",
	Args:  cobra.MinimumNArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		keyArgs, text := splitText(cmd, args)
		if len(keyArgs) != 3 {
			return errors.New("expected <user-id> <listing-id> <message-id> before --")
		}
		panel, err := a.mount(cmd.Context(), conversationKey(keyArgs[:2]), nil)
		if err != nil {
			return err
		}
		defer panel.Unmount()

		if _, err := findMessage(cmd.Context(), panel, keyArgs[2]); err != nil {
			return err
		}
		if err := panel.Coordinator.Edit(cmd.Context(), keyArgs[2], text); err != nil {
			return err
		}
		fmt.Fprintln(a.out, "edited")
		return nil
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <user-id> <listing-id> <message-id>",
	Short: "Delete one of your messages",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		yes, _ := cmd.Flags().GetBool("yes")
		confirm := promptConfirmer{in: cmd.InOrStdin(), out: cmd.ErrOrStderr(), assumeYes: yes}
		panel, err := a.mount(cmd.Context(), conversationKey(args[:2]), confirm)
		if err != nil {
			return err
		}
		defer panel.Unmount()

		if _, err := findMessage(cmd.Context(), panel, args[2]); err != nil {
			return err
		}
		err = panel.Coordinator.Delete(cmd.Context(), args[2])
		if errors.Is(err, inbox.ErrNotConfirmed) {
			fmt.Fprintln(a.out, "kept")
			return nil
		}
		if err != nil {
			return err
		}
		fmt.Fprintln(a.out, "deleted")
		return nil
	},
}

// follow prints live events for key and reconnects whenever the channel drops.
func (a *app) follow(ctx context.Context, panel *inbox.Panel, key chat.Key) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		for {
			conn := a.dialer.current()
			if conn == nil {
				return errors.New("realtime channel not connected")
			}
			unsubscribe := a.printEvents(conn, key)
			select {
			case <-ctx.Done():
				unsubscribe()
				return nil
			case <-conn.Done():
				unsubscribe()
			}
			a.logger.Warn("realtime channel dropped, reconnecting", "error", conn.Err(), "delay", a.cfg.ReconnectDelay)
			if err := a.reconnect(ctx, panel, key); err != nil {
				return err
			}
		}
	})
	return g.Wait()
}

func (a *app) reconnect(ctx context.Context, panel *inbox.Panel, key chat.Key) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(a.cfg.ReconnectDelay):
		}
		conn, err := a.dialer.Dial(ctx, a.cfg.Token)
		if errors.Is(err, chat.ErrUnauthenticated) {
			return err
		}
		if err != nil {
			a.logger.Warn("reconnect failed", "error", err)
			continue
		}
		panel.Reattach(conn, a.cfg.UserID)
		// Messages that arrived while offline are only visible after a reload.
		if err := panel.Timeline.Open(ctx, key); err != nil && !errors.Is(err, inbox.ErrStaleResult) {
			a.logger.Warn("conversation reload failed", "error", err)
		}
		return nil
	}
}

func (a *app) printEvents(conn inbox.Channel, key chat.Key) func() {
	self := a.cfg.UserID
	subs := []func(){
		conn.Subscribe(inbox.EventMessageReceived, func(ev inbox.Event) {
			if ev.Message.BelongsTo(key, self) {
				printMessage(a.out, ev.Message, self)
			}
		}),
		conn.Subscribe(inbox.EventMessageSent, func(ev inbox.Event) {
			if ev.Message.BelongsTo(key, self) {
				printMessage(a.out, ev.Message, self)
			}
		}),
		conn.Subscribe(inbox.EventMessageUpdated, func(ev inbox.Event) {
			if ev.Message.BelongsTo(key, self) {
				fmt.Fprintf(a.out, "~ %s edited: %s\n", ev.Message.ID, ev.Message.Content)
			}
		}),
		conn.Subscribe(inbox.EventMessageDeleted, func(ev inbox.Event) {
			fmt.Fprintf(a.out, "x %s deleted\n", ev.MessageID)
		}),
	}
	return func() {
		for _, unsubscribe := range subs {
			unsubscribe()
		}
	}
}

// splitText separates positional arguments from the message text after "--".
func splitText(cmd *cobra.Command, args []string) ([]string, string) {
	dash := cmd.ArgsLenAtDash()
	if dash < 0 {
		return args, ""
	}
	return args[:dash], strings.Join(args[dash:], " ")
}

func printThreads(w io.Writer, threads []chat.Thread) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "THREAD\tTITLE\tLAST\tWHEN\t")
	for _, t := range threads {
		marker := " "
		if t.Unread {
			marker = "*"
		}
		when := ""
		if !t.LastMessageAt.IsZero() {
			when = t.LastMessageAt.Local().Format("Jan 02 15:04")
		}
		fmt.Fprintf(tw, "%s %s\t%s\t%s\t%s\t\n", marker, t.ID, t.Title, truncate(t.LastMessage, 40), when)
	}
	tw.Flush()
}

func printMessage(w io.Writer, m chat.Message, self string) {
	who := m.Sender.Name
	if who == "" {
		who = m.Sender.ID
	}
	if m.SentBy(self) {
		who = "you"
	}
	line := fmt.Sprintf("[%s] %s: %s", m.CreatedAt.Local().Format("15:04"), who, m.Content)
	for _, att := range m.Attachments {
		line += fmt.Sprintf(" <%s %s>", att.Kind, att.URL)
	}
	if m.ID != "" {
		line += "  (" + m.ID + ")"
	}
	fmt.Fprintln(w, line)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
