package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"rentme-inbox/internal/app/inbox"
	"rentme-inbox/internal/domain/chat"
	"rentme-inbox/internal/infra/config"
	"rentme-inbox/internal/infra/obs"
	"rentme-inbox/internal/infra/realtime"
	"rentme-inbox/internal/infra/rest"
)

// app bundles what every subcommand needs.
type app struct {
	cfg    config.Config
	logger *slog.Logger
	api    *rest.Client
	dialer *trackingDialer
	out    io.Writer
}

func newApp(cmd *cobra.Command) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	level := cfg.LogLevel
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		level = "debug"
	} else if level == "info" {
		level = "warn"
	}
	logger := obs.NewLoggerTo(os.Stderr, cfg.Env, level)
	return &app{
		cfg:    cfg,
		logger: logger,
		api:    rest.New(cfg.APIURL, cfg.Token, cfg.HTTPTimeout, logger.With("component", "rest")),
		dialer: &trackingDialer{Dialer: realtime.Dialer{
			URL:          cfg.WSURL,
			MediaBaseURL: cfg.APIURL,
			Logger:       logger.With("component", "ws"),
		}},
		out: cmd.OutOrStdout(),
	}, nil
}

func (a *app) session() inbox.Session {
	return inbox.Session{UserID: a.cfg.UserID, Token: a.cfg.Token}
}

// mount builds a panel and opens key on it.
func (a *app) mount(ctx context.Context, key chat.Key, confirm inbox.Confirmer) (*inbox.Panel, error) {
	if strings.TrimSpace(a.cfg.UserID) == "" {
		return nil, errors.New("INBOX_USER_ID is required")
	}
	panel := inbox.NewPanel(inbox.Deps{
		Threads:  a.api,
		Messages: a.api,
		Mutator:  a.api,
		Uploader: a.api,
		Previews: inbox.TempFilePreviews{},
		Alerts:   stderrAlerter{w: os.Stderr},
		Confirm:  confirm,
		OnAuthRequired: func() {
			fmt.Fprintln(os.Stderr, "not signed in: set INBOX_TOKEN")
		},
		Logger: a.logger,
	}, inbox.Options{
		ThreadPageSize:  a.cfg.ThreadPageSize,
		MessagePageSize: a.cfg.MessagePageSize,
		DeepLink:        key,
	})
	if err := panel.Mount(ctx, a.session(), a.dialer); err != nil {
		return nil, err
	}
	if panel.Timeline.Key() != key {
		_ = panel.Unmount()
		return nil, fmt.Errorf("conversation %s could not be opened", key)
	}
	return panel, nil
}

// trackingDialer remembers the last connection so callers can watch it for drops.
type trackingDialer struct {
	realtime.Dialer

	mu   sync.Mutex
	last *realtime.Conn
}

func (d *trackingDialer) Dial(ctx context.Context, token string) (inbox.Channel, error) {
	conn, err := d.DialConn(ctx, token)
	if err != nil {
		return nil, err
	}
	d.mu.Lock()
	d.last = conn
	d.mu.Unlock()
	return conn, nil
}

func (d *trackingDialer) current() *realtime.Conn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.last
}

type stderrAlerter struct {
	w io.Writer
}

func (a stderrAlerter) Alert(message string) {
	fmt.Fprintln(a.w, "!", message)
}

// promptConfirmer asks on the terminal unless assumeYes is set.
type promptConfirmer struct {
	in        io.Reader
	out       io.Writer
	assumeYes bool
}

func (c promptConfirmer) Confirm(ctx context.Context, prompt string) bool {
	if c.assumeYes {
		return true
	}
	fmt.Fprintf(c.out, "%s [y/N] ", prompt)
	answer := make(chan string, 1)
	go func() {
		line, _ := bufio.NewReader(c.in).ReadString('\n')
		answer <- strings.ToLower(strings.TrimSpace(line))
	}()
	select {
	case a := <-answer:
		return a == "y" || a == "yes"
	case <-ctx.Done():
		return false
	}
}

// findMessage pages back through the open conversation until id is loaded.
func findMessage(ctx context.Context, panel *inbox.Panel, id string) (chat.Message, error) {
	for {
		if msg, ok := panel.Timeline.Find(id); ok {
			return msg, nil
		}
		if !panel.Timeline.HasOlder() {
			return chat.Message{}, fmt.Errorf("message %s not found in this conversation", id)
		}
		if _, err := panel.Timeline.LoadOlder(ctx); err != nil {
			return chat.Message{}, err
		}
	}
}

// waitSettled blocks until no optimistic entry is pending or the timeout passes.
func waitSettled(ctx context.Context, panel *inbox.Panel, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		pending := false
		for _, m := range panel.Timeline.Messages() {
			if m.Sending {
				pending = true
				break
			}
		}
		if !pending {
			return nil
		}
		select {
		case <-ctx.Done():
			return errors.New("no acknowledgement from the server yet")
		case <-ticker.C:
		}
	}
}

func conversationKey(args []string) chat.Key {
	listing := ""
	if len(args) > 1 {
		listing = args[1]
	}
	return chat.NewKey(args[0], listing)
}
