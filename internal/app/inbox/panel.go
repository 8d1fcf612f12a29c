package inbox

import (
	"context"
	"errors"
	"log/slog"

	"rentme-inbox/internal/domain/chat"
)

// Deps are the collaborators of a Panel.
type Deps struct {
	Threads        ThreadSource
	Messages       MessageSource
	Mutator        MessageMutator
	Uploader       Uploader
	Previews       PreviewFactory
	Alerts         Alerter
	Confirm        Confirmer
	OnAuthRequired func()
	Logger         *slog.Logger
}

// Options tunes a Panel.
type Options struct {
	ThreadPageSize  int
	MessagePageSize int
	Scope           string
	// DeepLink opens a specific conversation on mount instead of auto-selecting.
	DeepLink chat.Key
}

// Panel is a mounted messaging view: the thread directory, the open timeline, the
// realtime synchronizer feeding it, and the composer actions.
type Panel struct {
	Directory   *Directory
	Timeline    *Timeline
	Sync        *Synchronizer
	Attachments *Attachments
	Coordinator *Coordinator

	deepLink chat.Key
	logger   *slog.Logger
}

func NewPanel(deps Deps, opts Options) *Panel {
	logger := orDiscard(deps.Logger)
	directory := NewDirectory(deps.Threads, DirectoryOptions{
		PageSize:   opts.ThreadPageSize,
		Scope:      opts.Scope,
		DeepLinked: !opts.DeepLink.IsZero(),
		Logger:     logger.With("component", "directory"),
	})
	timeline := NewTimeline(deps.Messages, directory, TimelineOptions{
		PageSize: opts.MessagePageSize,
		Logger:   logger.With("component", "timeline"),
	})
	synchronizer := NewSynchronizer(timeline, directory, SyncOptions{
		OnAuthRequired: deps.OnAuthRequired,
		Logger:         logger.With("component", "realtime"),
	})
	attachments := NewAttachments(deps.Uploader, deps.Previews, logger.With("component", "attachments"))
	coordinator := NewCoordinator(CoordinatorDeps{
		Timeline:    timeline,
		Attachments: attachments,
		Channels:    synchronizer,
		Mutator:     deps.Mutator,
		Alerts:      deps.Alerts,
		Confirm:     deps.Confirm,
		Logger:      logger.With("component", "composer"),
	})
	return &Panel{
		Directory:   directory,
		Timeline:    timeline,
		Sync:        synchronizer,
		Attachments: attachments,
		Coordinator: coordinator,
		deepLink:    opts.DeepLink,
		logger:      logger,
	}
}

// Mount connects the realtime channel for session, loads the first thread page and opens
// either the deep linked conversation or the first thread.
func (p *Panel) Mount(ctx context.Context, session Session, dialer Dialer) error {
	if err := p.Sync.Connect(ctx, session, dialer); err != nil {
		return err
	}
	p.Coordinator.SetSelf(chat.Participant{ID: session.UserID, Name: session.Name})

	if _, err := p.Directory.LoadPage(ctx, ""); err != nil {
		p.logger.Warn("initial thread load failed", "error", err)
	}
	key := p.deepLink
	if key.IsZero() {
		var ok bool
		if key, ok = p.Directory.AutoSelect(); !ok {
			return nil
		}
	}
	if err := p.Select(ctx, key); err != nil && !errors.Is(err, ErrStaleResult) {
		p.logger.Warn("initial conversation load failed", "key", key.String(), "error", err)
	}
	return nil
}

// Select makes key the active conversation and loads its newest messages.
func (p *Panel) Select(ctx context.Context, key chat.Key) error {
	if err := p.Directory.Select(ctx, key); err != nil {
		return err
	}
	p.Coordinator.CancelEdit()
	return p.Timeline.Open(ctx, key)
}

// Reattach hands a freshly (re)connected channel to the synchronizer.
func (p *Panel) Reattach(conn Channel, userID string) {
	p.Sync.Attach(conn, userID)
}

// Unmount drops subscriptions, releases staged previews and closes the channel.
func (p *Panel) Unmount() error {
	p.Attachments.Close()
	return p.Sync.Close()
}
