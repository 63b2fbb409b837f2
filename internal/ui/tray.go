package ui

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/atotto/clipboard"
	"github.com/getlantern/systray"
	"github.com/heimdex/chapter-agent/internal/session"
)

const refreshInterval = 5 * time.Second

var ErrNoSession = errors.New("no active session")

type Tray struct {
	sessions *session.Manager
	reaper   *session.Reaper
	logger   *slog.Logger

	statusItem *systray.MenuItem
	pauseItem  *systray.MenuItem

	mu sync.Mutex

	copyText func(string) error
	onQuit   func()
}

type TrayConfig struct {
	Sessions *session.Manager
	Reaper   *session.Reaper
	Logger   *slog.Logger
	// CopyText defaults to the system clipboard.
	CopyText func(string) error
	OnQuit   func()
}

func NewTray(cfg TrayConfig) *Tray {
	copyText := cfg.CopyText
	if copyText == nil {
		copyText = clipboard.WriteAll
	}
	return &Tray{
		sessions: cfg.Sessions,
		reaper:   cfg.Reaper,
		logger:   cfg.Logger,
		copyText: copyText,
		onQuit:   cfg.OnQuit,
	}
}

// Run blocks until the tray exits. It refreshes the status line until ctx
// is done.
func (t *Tray) Run(ctx context.Context) {
	systray.Run(func() { t.onReady(ctx) }, t.onExit)
}

func (t *Tray) onReady(ctx context.Context) {
	systray.SetIcon(iconBytes)
	systray.SetTitle("Chapters")
	systray.SetTooltip("Chapter Agent")

	t.statusItem = systray.AddMenuItem(statusTitle(0), "Open editing sessions")
	t.statusItem.Disable()

	systray.AddSeparator()

	copyItem := systray.AddMenuItem("Copy Chapter List", "Copy the chapters of the latest session")
	t.pauseItem = systray.AddMenuItem("Keep Idle Sessions", "Stop closing idle sessions")

	systray.AddSeparator()

	quitItem := systray.AddMenuItem("Quit", "Quit Chapter Agent")

	go func() {
		ticker := time.NewTicker(refreshInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				t.refresh()
			case <-copyItem.ClickedCh:
				if err := t.copyLatestList(); err != nil {
					t.logger.Warn("failed to copy chapter list", "error", err)
				}
			case <-t.pauseItem.ClickedCh:
				t.togglePause()
			case <-quitItem.ClickedCh:
				t.logger.Info("quit requested from tray")
				if t.onQuit != nil {
					t.onQuit()
				}
				systray.Quit()
				return
			}
		}
	}()

	t.logger.Info("system tray ready")
}

func (t *Tray) onExit() {
	t.logger.Info("system tray exiting")
}

func (t *Tray) refresh() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.statusItem.SetTitle(statusTitle(t.sessions.Count()))
}

func (t *Tray) togglePause() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.reaper == nil {
		return
	}

	if t.reaper.IsPaused() {
		t.reaper.Resume()
		t.pauseItem.SetTitle("Keep Idle Sessions")
	} else {
		t.reaper.Pause()
		t.pauseItem.SetTitle("Close Idle Sessions")
	}
}

// copyLatestList puts the plain chapter list of the most recently used
// session on the clipboard.
func (t *Tray) copyLatestList() error {
	s := t.sessions.Latest()
	if s == nil {
		return ErrNoSession
	}

	list, err := s.ExportList()
	if err != nil {
		return err
	}
	if err := t.copyText(string(list)); err != nil {
		return fmt.Errorf("clipboard: %w", err)
	}

	t.logger.Info("chapter list copied", "session_id", s.ID, "bytes", len(list))
	return nil
}

func (t *Tray) Quit() {
	systray.Quit()
}

func statusTitle(sessions int) string {
	if sessions == 1 {
		return "1 Session Open"
	}
	return fmt.Sprintf("%d Sessions Open", sessions)
}
