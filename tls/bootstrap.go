package tls

import (
	"context"
	"fmt"
	"html/template"
	"log"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/jeremygit/gummi-nfc/buildinfo"
)

// DefaultBootstrapPort is the plain-HTTP port the CA is offered on.
const DefaultBootstrapPort = 18081

// BootstrapServer serves the CA certificate over plain HTTP so a phone can
// trust the agent before it connects over wss://.
type BootstrapServer struct {
	manager    *Manager
	port       int
	httpServer *http.Server
	logger     *log.Logger
}

// NewBootstrapServer creates a bootstrap server. A zero port uses
// DefaultBootstrapPort.
func NewBootstrapServer(manager *Manager, port int) *BootstrapServer {
	if port == 0 {
		port = DefaultBootstrapPort
	}
	return &BootstrapServer{
		manager: manager,
		port:    port,
		logger:  log.New(os.Stderr, "[bootstrap] ", log.LstdFlags),
	}
}

// Handler returns the bootstrap routes.
func (s *BootstrapServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ca.pem", s.handleCACert)
	mux.HandleFunc("/ca.crt", s.handleCACert)
	mux.HandleFunc("/", s.handleInstructions)
	return mux
}

// Start listens on the bootstrap port and serves in the background.
func (s *BootstrapServer) Start() error {
	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", s.port))
	if err != nil {
		return fmt.Errorf("bootstrap listen: %w", err)
	}
	s.httpServer = &http.Server{Handler: s.Handler()}

	for _, u := range s.certURLs() {
		s.logger.Printf("CA certificate available at %s", u)
	}
	if fingerprint, err := s.manager.CAFingerprint(); err == nil {
		s.logger.Printf("CA Fingerprint (SHA256): %s", fingerprint)
	}

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.logger.Printf("Bootstrap server error: %v", err)
		}
	}()
	return nil
}

// Stop shuts the bootstrap server down.
func (s *BootstrapServer) Stop() {
	if s.httpServer == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.httpServer.Shutdown(ctx)
}

// certURLs lists the CA download URLs for every LAN address.
func (s *BootstrapServer) certURLs() []string {
	urls := []string{fmt.Sprintf("http://localhost:%d/ca.pem", s.port)}
	lan, _ := LANAddresses()
	for _, ip := range lan {
		urls = append(urls, fmt.Sprintf("http://%s:%d/ca.pem", ip, s.port))
	}
	return urls
}

func (s *BootstrapServer) handleCACert(w http.ResponseWriter, r *http.Request) {
	caCert, err := s.manager.ReadCACert()
	if err != nil {
		http.Error(w, "CA certificate not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/x-pem-file")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", buildinfo.Name+"-ca.pem"))
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Write(caCert)

	s.logger.Printf("CA certificate downloaded by %s", r.RemoteAddr)
}

var instructionsPage = template.Must(template.New("instructions").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>{{.App}} - Install CA Certificate</title>
<style>
body { font-family: -apple-system, sans-serif; max-width: 560px; margin: 0 auto; padding: 20px; }
.fingerprint { font-family: monospace; font-size: 0.8em; word-break: break-all; background: #f0f0f0; padding: 10px; }
a.download { display: inline-block; background: #007AFF; color: white; padding: 12px 24px; border-radius: 8px; text-decoration: none; }
</style>
</head>
<body>
<h1>Install CA Certificate</h1>
<p>Install this certificate authority on your phone so the {{.App}} app can connect securely.</p>
<p><a class="download" href="/ca.pem">Download CA Certificate</a></p>
<h2>Fingerprint (SHA256)</h2>
<p>Check that it matches the one printed in the agent log.</p>
<div class="fingerprint">{{if .Fingerprint}}{{.Fingerprint}}{{else}}not generated yet{{end}}</div>
<h2>iOS</h2>
<ol>
<li>Download the certificate, then open <b>Settings &rarr; Profile Downloaded</b> and install it.</li>
<li>Enable it under <b>Settings &rarr; General &rarr; About &rarr; Certificate Trust Settings</b>.</li>
</ol>
<h2>Android</h2>
<ol>
<li>Download the certificate.</li>
<li>Open <b>Settings &rarr; Security &rarr; Encryption &amp; credentials &rarr; Install a certificate &rarr; CA certificate</b> and pick the file.</li>
</ol>
<h2>Download URLs</h2>
<ul>{{range .URLs}}<li><code>{{.}}</code></li>{{end}}</ul>
</body>
</html>
`))

func (s *BootstrapServer) handleInstructions(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	fingerprint, _ := s.manager.CAFingerprint()

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	err := instructionsPage.Execute(w, struct {
		App         string
		Fingerprint string
		URLs        []string
	}{buildinfo.DisplayName, fingerprint, s.certURLs()})
	if err != nil {
		s.logger.Printf("Failed to render instructions: %v", err)
	}
}
