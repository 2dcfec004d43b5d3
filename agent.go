package main

import (
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/jeremygit/gummi-nfc/nfc/libnfcradio"
	"github.com/jeremygit/gummi-nfc/nfc/phonenfc"
	"github.com/jeremygit/gummi-nfc/nfc/simradio"
	"github.com/jeremygit/gummi-nfc/nfc/tagsession"
	"github.com/jeremygit/gummi-nfc/server"
	"github.com/jeremygit/gummi-nfc/tls"
)

// serverStartGrace is how long Start waits for the server to fail fast on a
// bad port before assuming it is up.
const serverStartGrace = 200 * time.Millisecond

// Agent wires a radio, the tag session runner and the server together.
type Agent struct {
	Logger *log.Logger
	Config Config

	mu        sync.Mutex
	runner    *tagsession.Runner
	server    *server.Server
	bridge    *phonenfc.Bridge
	sim       *simradio.Radio
	libnfc    *libnfcradio.Radio
	bootstrap *tls.BootstrapServer
}

// NewAgent creates a stopped agent.
func NewAgent(cfg Config) *Agent {
	return &Agent{
		Logger: log.New(os.Stderr, "[agent] ", log.LstdFlags),
		Config: cfg,
	}
}

// Running reports whether Start has succeeded and Stop has not been called.
func (a *Agent) Running() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.runner != nil
}

// Runner returns the session runner of a running agent.
func (a *Agent) Runner() *tagsession.Runner {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.runner
}

// Sim returns the simulated radio when the agent runs with one.
func (a *Agent) Sim() *simradio.Radio {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sim
}

// Port returns the bound server port.
func (a *Agent) Port() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.server == nil {
		return a.Config.Port
	}
	return a.server.Port()
}

// TLSEnabled reports whether the server is serving wss://.
func (a *Agent) TLSEnabled() bool {
	return a.Config.TLS
}

func (a *Agent) newRadio() (tagsession.Radio, error) {
	switch a.Config.Radio {
	case RadioPhone:
		a.bridge = phonenfc.NewBridge(0, nil)
		return a.bridge, nil
	case RadioLibNFC:
		reader, err := libnfcradio.OpenReader(a.Config.Device)
		if err != nil {
			return nil, err
		}
		a.Logger.Printf("Using NFC reader: %s", reader)
		a.libnfc = libnfcradio.NewRadio(reader, a.Config.PollInterval, nil)
		return a.libnfc, nil
	case RadioSim:
		sim, err := simradio.NewRadio(a.Config.SimTags...)
		if err != nil {
			return nil, err
		}
		a.sim = sim
		return sim, nil
	default:
		return nil, fmt.Errorf("unknown radio %q", a.Config.Radio)
	}
}

// Start opens the radio and starts serving.
func (a *Agent) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.runner != nil {
		return errors.New("agent is already running")
	}

	radio, err := a.newRadio()
	if err != nil {
		a.Logger.Printf("Error initializing %s radio: %v", a.Config.Radio, err)
		return err
	}

	srvConfig := server.Config{
		Port:        a.Config.Port,
		APISecret:   a.Config.APISecret,
		DisableMDNS: a.Config.DisableMDNS,
	}
	if a.Config.TLS {
		if err := a.startTLS(&srvConfig); err != nil {
			a.closeRadio()
			return err
		}
	}

	a.runner = tagsession.NewRunner(tagsession.Config{
		Radio:             radio,
		ScanPrompt:        a.Config.Prompts.Scan,
		WriteConfirmation: a.Config.Prompts.WriteConfirmation,
	}, a.Config.Timeout)
	srvConfig.Session = a.runner
	if a.bridge != nil {
		srvConfig.Handlers = append(srvConfig.Handlers, a.bridge)
	}
	a.server = server.New(srvConfig)

	errCh := make(chan error, 1)
	go func(s *server.Server) {
		errCh <- s.Start()
	}(a.server)

	select {
	case err := <-errCh:
		if err == nil {
			err = errors.New("server stopped during startup")
		}
		a.Logger.Printf("Server failed to start: %v", err)
		a.stopLocked()
		return err
	case <-time.After(serverStartGrace):
	}

	go func(errCh <-chan error) {
		if err := <-errCh; err != nil {
			a.Logger.Printf("Server error: %v", err)
		}
	}(errCh)

	a.Logger.Printf("Agent running with %s radio", a.Config.Radio)
	return nil
}

// startTLS issues the server certificate and starts the CA bootstrap server.
func (a *Agent) startTLS(srvConfig *server.Config) error {
	dir, err := ConfigDir()
	if err != nil {
		return fmt.Errorf("failed to locate config directory: %w", err)
	}
	manager := tls.NewManager(dir)
	cert, err := manager.Ensure()
	if err != nil {
		return fmt.Errorf("failed to prepare TLS certificates: %w", err)
	}
	srvConfig.CertFile = cert.CertFile
	srvConfig.KeyFile = cert.KeyFile

	a.bootstrap = tls.NewBootstrapServer(manager, a.Config.BootstrapPort)
	if err := a.bootstrap.Start(); err != nil {
		// The phone can still connect if it already trusts the CA.
		a.Logger.Printf("Warning: CA bootstrap server unavailable: %v", err)
		a.bootstrap = nil
	}
	return nil
}

// BootstrapPort returns the CA bootstrap port, or 0 when it is not running.
func (a *Agent) BootstrapPort() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.bootstrap == nil {
		return 0
	}
	if a.Config.BootstrapPort == 0 {
		return tls.DefaultBootstrapPort
	}
	return a.Config.BootstrapPort
}

// Stop releases the radio and shuts the server down.
func (a *Agent) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.runner == nil && a.server == nil {
		a.Logger.Println("Agent is not running")
		return
	}
	a.Logger.Println("Stopping agent...")
	a.stopLocked()
	a.Logger.Println("Agent stopped successfully")
}

func (a *Agent) stopLocked() {
	if a.server != nil {
		a.server.Stop()
		a.server = nil
	}
	if a.bootstrap != nil {
		a.bootstrap.Stop()
		a.bootstrap = nil
	}
	// The runner invalidates any live session before the radio goes away.
	if a.runner != nil {
		a.runner.Stop()
		a.runner = nil
	}
	a.closeRadio()
}

func (a *Agent) closeRadio() {
	if a.bridge != nil {
		a.bridge.Close()
		a.bridge = nil
	}
	if a.libnfc != nil {
		if err := a.libnfc.Close(); err != nil {
			a.Logger.Printf("Error closing NFC reader: %v", err)
		}
		a.libnfc = nil
	}
	a.sim = nil
}
