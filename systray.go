package main

import (
	_ "embed"
	"fmt"
	"log"
	"os/exec"
	"runtime"

	"fyne.io/systray"

	"github.com/jeremygit/gummi-nfc/buildinfo"
	"github.com/jeremygit/gummi-nfc/nfc/tagsession"
	"github.com/jeremygit/gummi-nfc/server"
	"github.com/jeremygit/gummi-nfc/tls"
)

var (
	//go:embed icons/idle.png
	iconData []byte
	//go:embed icons/connected.png
	iconDataConnected []byte
	//go:embed icons/error.png
	iconDataError []byte
	//go:embed icons/stopped.png
	iconDataStopped []byte
)

// SystrayApp is the tray front end of the agent.
type SystrayApp struct {
	agent *Agent

	// Status
	mStatus  *systray.MenuItem
	mSession *systray.MenuItem
	mTag     *systray.MenuItem
	mPayload *systray.MenuItem
	mBuffer  *systray.MenuItem

	// Session control
	mRead        *systray.MenuItem
	mWrite       *systray.MenuItem
	mCancel      *systray.MenuItem
	mClearBuffer *systray.MenuItem

	// URLs
	mURLsMenu         *systray.MenuItem
	mAgentURL         *systray.MenuItem
	mCopyAgentURL     *systray.MenuItem
	mBootstrapURL     *systray.MenuItem
	mCopyBootstrapURL *systray.MenuItem

	mStart *systray.MenuItem
	mStop  *systray.MenuItem
	mQuit  *systray.MenuItem

	unsubscribe func()
}

// NewSystrayApp creates a tray app for agent.
func NewSystrayApp(agent *Agent) *SystrayApp {
	return &SystrayApp{agent: agent}
}

// Run blocks until the tray is quit.
func (s *SystrayApp) Run() {
	systray.Run(s.onReady, s.onExit)
}

// Quit closes the tray, which stops the agent.
func (s *SystrayApp) Quit() {
	systray.Quit()
}

func (s *SystrayApp) onReady() {
	s.setupUI()
	go s.handleMenuEvents()
	go s.handleStartAgent()
}

func (s *SystrayApp) onExit() {
	s.stopWatching()
	s.agent.Stop()
}

func (s *SystrayApp) setupUI() {
	systray.SetIcon(iconData)
	systray.SetTooltip(buildinfo.DisplayName)

	s.mStatus = systray.AddMenuItem("Starting...", "Agent status")
	s.mStatus.Disable()
	s.mSession = systray.AddMenuItem("Session: idle", "Tag session state")
	s.mSession.Disable()
	s.mTag = systray.AddMenuItem("Tag: None", "Last tag")
	s.mTag.Disable()
	s.mPayload = systray.AddMenuItem("Payload: None", "Pending write payload")
	s.mPayload.Disable()
	s.mBuffer = systray.AddMenuItem("Read buffer: empty", "Texts read from tags")
	s.mBuffer.Disable()

	systray.AddSeparator()

	s.mRead = systray.AddMenuItem("Scan Tag", "Read the text records of a tag")
	s.mWrite = systray.AddMenuItem("Write Payload", "Write the pending payload to a tag")
	s.mCancel = systray.AddMenuItem("Cancel Session", "Cancel the session in progress")
	s.mClearBuffer = systray.AddMenuItem("Clear Read Buffer", "Forget texts read so far")

	systray.AddSeparator()

	s.mURLsMenu = systray.AddMenuItem("Server URLs", "Server addresses")
	s.mAgentURL = s.mURLsMenu.AddSubMenuItem("Agent: Not running", "WebSocket URL")
	s.mAgentURL.Disable()
	s.mCopyAgentURL = s.mURLsMenu.AddSubMenuItem("  Copy Agent URL", "Copy WebSocket URL to clipboard")
	s.mBootstrapURL = s.mURLsMenu.AddSubMenuItem("CA Cert: Not running", "CA certificate download URL")
	s.mBootstrapURL.Disable()
	s.mCopyBootstrapURL = s.mURLsMenu.AddSubMenuItem("  Copy CA URL", "Copy CA certificate URL to clipboard")

	systray.AddSeparator()

	s.mStart = systray.AddMenuItem("Start Agent", "Start the NFC agent")
	s.mStop = systray.AddMenuItem("Stop Agent", "Stop the NFC agent")
	s.mStart.Disable()
	s.mStop.Disable()

	systray.AddSeparator()
	s.mQuit = systray.AddMenuItem("Quit", "Quit the application")

	s.setSessionControls(false)
}

func (s *SystrayApp) handleMenuEvents() {
	for {
		select {
		case <-s.mStart.ClickedCh:
			s.handleStartAgent()
		case <-s.mStop.ClickedCh:
			s.handleStopAgent()
		case <-s.mRead.ClickedCh:
			s.startSession(tagsession.ModeRead)
		case <-s.mWrite.ClickedCh:
			s.startSession(tagsession.ModeWrite)
		case <-s.mCancel.ClickedCh:
			if runner := s.agent.Runner(); runner != nil {
				runner.Cancel()
			}
		case <-s.mClearBuffer.ClickedCh:
			if runner := s.agent.Runner(); runner != nil {
				if err := runner.ClearReadBuffer(); err != nil {
					log.Printf("[systray] Failed to clear read buffer: %v", err)
				}
			}
		case <-s.mCopyAgentURL.ClickedCh:
			s.copyURL(s.agentURL(), "agent URL")
		case <-s.mCopyBootstrapURL.ClickedCh:
			s.copyURL(s.bootstrapURL(), "CA certificate URL")
		case <-s.mQuit.ClickedCh:
			systray.Quit()
			return
		}
	}
}

func (s *SystrayApp) handleStartAgent() {
	if err := s.agent.Start(); err != nil {
		s.updateStatus("Failed to Start")
		s.mStart.Enable()
		return
	}
	s.updateStatus("Running")
	s.updateURLs()
	s.mStart.Disable()
	s.mStop.Enable()
	s.setSessionControls(true)
	s.watchSnapshots()
}

func (s *SystrayApp) handleStopAgent() {
	s.stopWatching()
	s.agent.Stop()
	s.updateStatus("Stopped")
	s.clearURLs()
	s.setSessionControls(false)
	s.mStop.Disable()
	s.mStart.Enable()
}

func (s *SystrayApp) startSession(mode tagsession.Mode) {
	runner := s.agent.Runner()
	if runner == nil {
		return
	}
	if err := runner.Start(mode); err != nil {
		log.Printf("[systray] Cannot start %s session: %v", mode, err)
	}
}

func (s *SystrayApp) setSessionControls(enabled bool) {
	for _, item := range []*systray.MenuItem{s.mRead, s.mWrite, s.mCancel, s.mClearBuffer} {
		if enabled {
			item.Enable()
		} else {
			item.Disable()
		}
	}
}

// watchSnapshots mirrors published session state into the menu.
func (s *SystrayApp) watchSnapshots() {
	runner := s.agent.Runner()
	if runner == nil {
		return
	}
	updates, unsubscribe := runner.Subscribe()
	s.unsubscribe = unsubscribe
	s.updateSnapshot(runner.Snapshot())

	go func() {
		for snap := range updates {
			s.updateSnapshot(snap)
		}
	}()
}

func (s *SystrayApp) stopWatching() {
	if s.unsubscribe != nil {
		s.unsubscribe()
		s.unsubscribe = nil
	}
}

func (s *SystrayApp) updateSnapshot(snap tagsession.Snapshot) {
	session := fmt.Sprintf("Session: %s", snap.State)
	if snap.State.Live() {
		session = fmt.Sprintf("Session: %s (%s)", snap.State, snap.Mode)
	} else if snap.LastError != 0 {
		session = fmt.Sprintf("Session: %s", snap.LastError)
	}
	s.mSession.SetTitle(session)

	if snap.Tag != nil {
		s.mTag.SetTitle(fmt.Sprintf("Tag: %s (%s)", snap.Tag.UID, snap.Capability))
	} else {
		s.mTag.SetTitle("Tag: None")
	}

	if snap.PendingWritePayload == "" {
		s.mPayload.SetTitle("Payload: None")
		s.mWrite.Disable()
	} else {
		s.mPayload.SetTitle("Payload: " + truncate(snap.PendingWritePayload, 32))
		s.mWrite.Enable()
	}

	switch n := len(snap.ReadBuffer); n {
	case 0:
		s.mBuffer.SetTitle("Read buffer: empty")
	default:
		s.mBuffer.SetTitle(fmt.Sprintf("Read buffer: %d item(s), last %q", n, truncate(snap.ReadBuffer[n-1], 24)))
	}

	s.mCancel.Disable()
	if snap.State.Live() {
		s.mCancel.Enable()
	}
}

func truncate(text string, limit int) string {
	r := []rune(text)
	if len(r) <= limit {
		return text
	}
	return string(r[:limit-1]) + "…"
}

// updateStatus updates the status menu item and icon
func (s *SystrayApp) updateStatus(status string) {
	s.mStatus.SetTitle(status)

	switch status {
	case "Running":
		systray.SetIcon(iconDataConnected)
	case "Failed to Start":
		systray.SetIcon(iconDataError)
	case "Stopped":
		systray.SetIcon(iconDataStopped)
	default:
		systray.SetIcon(iconData)
	}
}

func (s *SystrayApp) updateURLs() {
	s.mAgentURL.SetTitle("Agent: " + s.agentURL())
	if u := s.bootstrapURL(); u != "" {
		s.mBootstrapURL.SetTitle("CA Cert: " + u)
	} else {
		s.mBootstrapURL.SetTitle("CA Cert: Disabled")
	}
}

func (s *SystrayApp) clearURLs() {
	s.mAgentURL.SetTitle("Agent: Not running")
	s.mBootstrapURL.SetTitle("CA Cert: Not running")
}

// lanHost returns the first LAN address, or localhost.
func lanHost() string {
	if ips, err := tls.LANAddresses(); err == nil && len(ips) > 0 {
		return ips[0]
	}
	return "localhost"
}

func (s *SystrayApp) agentURL() string {
	if !s.agent.Running() {
		return ""
	}
	scheme := "ws"
	if s.agent.TLSEnabled() {
		scheme = "wss"
	}
	return fmt.Sprintf("%s://%s:%d%s", scheme, lanHost(), s.agent.Port(), server.RouteWebSocket)
}

func (s *SystrayApp) bootstrapURL() string {
	port := s.agent.BootstrapPort()
	if port <= 0 {
		return ""
	}
	return fmt.Sprintf("http://%s:%d", lanHost(), port)
}

func (s *SystrayApp) copyURL(url, what string) {
	if url == "" {
		return
	}
	if err := copyToClipboard(url); err != nil {
		log.Printf("[systray] Failed to copy to clipboard: %v", err)
		return
	}
	log.Printf("[systray] Copied %s to clipboard", what)
}

// copyToClipboard copies text to the system clipboard
func copyToClipboard(text string) error {
	var cmd *exec.Cmd

	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("pbcopy")
	case "linux":
		cmd = exec.Command("xclip", "-selection", "clipboard")
	case "windows":
		cmd = exec.Command("clip")
	default:
		return fmt.Errorf("unsupported platform: %s", runtime.GOOS)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return err
	}
	if _, err := stdin.Write([]byte(text)); err != nil {
		return err
	}
	stdin.Close()
	return cmd.Wait()
}
