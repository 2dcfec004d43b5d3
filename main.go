// Command gummi-nfc runs the NFC tag agent. It reads and writes text on NFC
// tags through a phone, a USB reader or a simulator, and exposes the tag
// session over HTTP and WebSocket.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/jeremygit/gummi-nfc/buildinfo"
)

func main() {
	var (
		configPath  = flag.String("config", "", "Path to the YAML config file (default: user config dir)")
		radioFlag   = flag.String("radio", "", "Tag radio: phone, libnfc or sim")
		deviceFlag  = flag.String("device", "", "libnfc connection string (default: first reader)")
		portFlag    = flag.Int("port", defaultPort, "Port to listen on")
		secretFlag  = flag.String("api-secret", "", "API secret required for the token handshake (optional)")
		timeoutFlag = flag.Duration("timeout", 0, "Session timeout, e.g. 60s (0 keeps the configured value)")
		noMDNSFlag  = flag.Bool("no-mdns", false, "Disable mDNS advertisement")
		tlsFlag     = flag.Bool("tls", false, "Serve over TLS with a locally trusted certificate")
		cliFlag     = flag.Bool("cli", false, "Run the interactive shell")
		systrayFlag = flag.Bool("systray", false, "Run in the system tray")
		initConfig  = flag.Bool("init-config", false, "Write the effective config file and exit")
		versionFlag = flag.Bool("version", false, "Print version information and exit")
	)
	flag.Parse()

	if *versionFlag {
		fmt.Println(buildinfo.BuildInfo())
		return
	}

	path := *configPath
	optional := path == ""
	if optional {
		path = DefaultConfigPath()
	}
	cfg, err := LoadConfig(path, optional)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Only flags given on the command line override the file.
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "radio":
			cfg.Radio = *radioFlag
		case "device":
			cfg.Device = *deviceFlag
		case "port":
			cfg.Port = *portFlag
		case "api-secret":
			cfg.APISecret = *secretFlag
		case "timeout":
			cfg.Timeout = *timeoutFlag
		case "no-mdns":
			cfg.DisableMDNS = *noMDNSFlag
		case "tls":
			cfg.TLS = *tlsFlag
		}
	})
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	if *initConfig {
		if err := cfg.Save(path); err != nil {
			log.Fatalf("Failed to write config: %v", err)
		}
		fmt.Printf("Wrote %s\n", path)
		return
	}

	log.Printf("%s %s", buildinfo.DisplayName, buildinfo.FullVersion())
	agent := NewAgent(cfg)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	switch {
	case *systrayFlag:
		app := NewSystrayApp(agent)
		go func() {
			<-sigChan
			app.Quit()
		}()
		app.Run()

	case *cliFlag:
		if err := agent.Start(); err != nil {
			log.Fatalf("Failed to start agent: %v", err)
		}
		defer agent.Stop()

		shell, err := NewShell(agent)
		if err != nil {
			log.Fatalf("Failed to start shell: %v", err)
		}
		log.SetOutput(shell.Stdout())
		agent.Logger.SetOutput(shell.Stdout())

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go func() {
			select {
			case <-sigChan:
				cancel()
			case <-ctx.Done():
			}
		}()
		shell.Run(ctx, cancel)

	default:
		if err := agent.Start(); err != nil {
			log.Fatalf("Failed to start agent: %v", err)
		}
		defer agent.Stop()

		<-sigChan
		log.Println("Shutdown signal received, stopping agent...")
	}
}
