package ui

import (
	_ "embed"
	"fmt"
	"log/slog"
	"os/exec"
	"runtime"
	"sync"
	"time"

	"github.com/getlantern/systray"
)

//go:embed icon.png
var iconBytes []byte

const refreshInterval = 5 * time.Second

// SessionCounter reports how many editing sessions are open.
type SessionCounter interface {
	Len() int
}

type Tray struct {
	sessions SessionCounter
	addr     string
	logger   *slog.Logger

	statusItem   *systray.MenuItem
	sessionsItem *systray.MenuItem

	mu   sync.Mutex
	stop chan struct{}

	onOpen func() error
	onQuit func()
}

type TrayConfig struct {
	Sessions SessionCounter
	Addr     string // host:port of the API server
	Logger   *slog.Logger
	OnOpen   func() error
	OnQuit   func()
}

func NewTray(cfg TrayConfig) *Tray {
	t := &Tray{
		sessions: cfg.Sessions,
		addr:     cfg.Addr,
		logger:   cfg.Logger,
		stop:     make(chan struct{}),
		onOpen:   cfg.OnOpen,
		onQuit:   cfg.OnQuit,
	}
	if t.logger == nil {
		t.logger = slog.New(slog.DiscardHandler)
	}
	if t.onOpen == nil && t.addr != "" {
		t.onOpen = func() error { return OpenBrowser("http://" + t.addr + "/health") }
	}
	return t
}

func (t *Tray) Run() {
	systray.Run(t.onReady, t.onExit)
}

func (t *Tray) onReady() {
	systray.SetIcon(iconBytes)
	systray.SetTitle("FlowKit")
	systray.SetTooltip("FlowKit Editor")

	t.statusItem = systray.AddMenuItem("Listening on "+t.addr, "API address")
	t.statusItem.Disable()

	t.sessionsItem = systray.AddMenuItem(sessionsLabel(0), "Open editing sessions")
	t.sessionsItem.Disable()

	systray.AddSeparator()

	openItem := systray.AddMenuItem("Check Health", "Open the health endpoint in a browser")

	systray.AddSeparator()

	quitItem := systray.AddMenuItem("Quit", "Quit FlowKit Editor")

	go t.refresh()

	go func() {
		for {
			select {
			case <-openItem.ClickedCh:
				t.handleOpen()
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
	close(t.stop)
	t.logger.Info("system tray exiting")
}

func (t *Tray) refresh() {
	ticker := time.NewTicker(refreshInterval)
	defer ticker.Stop()
	for {
		if t.sessions != nil {
			t.UpdateSessionsCount(t.sessions.Len())
		}
		select {
		case <-ticker.C:
		case <-t.stop:
			return
		}
	}
}

func (t *Tray) handleOpen() {
	if t.onOpen != nil {
		if err := t.onOpen(); err != nil {
			t.logger.Error("failed to open browser", "error", err)
		}
	}
}

func (t *Tray) UpdateStatus(status string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.statusItem.SetTitle(status)
}

func (t *Tray) UpdateSessionsCount(count int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sessionsItem.SetTitle(sessionsLabel(count))
}

func (t *Tray) Quit() {
	systray.Quit()
}

func sessionsLabel(count int) string {
	if count == 1 {
		return "1 session open"
	}
	return fmt.Sprintf("%d sessions open", count)
}

// OpenBrowser opens url with the platform's default handler.
func OpenBrowser(url string) error {
	name, args := browserCommand(runtime.GOOS, url)
	return exec.Command(name, args...).Start()
}

func browserCommand(goos, url string) (string, []string) {
	switch goos {
	case "darwin":
		return "open", []string{url}
	case "windows":
		return "rundll32", []string{"url.dll,FileProtocolHandler", url}
	default:
		return "xdg-open", []string{url}
	}
}
