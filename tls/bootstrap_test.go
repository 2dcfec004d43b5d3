package tls

import (
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestBootstrapServesCA(t *testing.T) {
	m, _ := newTestManager(t)
	s := NewBootstrapServer(m, 0)
	s.logger = log.New(io.Discard, "", 0)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/ca.pem")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status before CA exists = %d, want 404", resp.StatusCode)
	}

	if _, err := m.EnsureFor([]string{"localhost"}); err != nil {
		t.Fatalf("EnsureFor: %v", err)
	}

	for _, path := range []string{"/ca.pem", "/ca.crt"} {
		resp, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatal(err)
		}
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			t.Fatalf("%s status = %d", path, resp.StatusCode)
		}
		if ct := resp.Header.Get("Content-Type"); ct != "application/x-pem-file" {
			t.Errorf("%s Content-Type = %q", path, ct)
		}
		if !strings.HasPrefix(string(body), "-----BEGIN CERTIFICATE-----") {
			t.Errorf("%s body is not a PEM certificate", path)
		}
	}
}

func TestBootstrapInstructions(t *testing.T) {
	m, _ := newTestManager(t)
	if _, err := m.EnsureFor([]string{"localhost"}); err != nil {
		t.Fatalf("EnsureFor: %v", err)
	}
	s := NewBootstrapServer(m, 0)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/")
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()

	fp, _ := m.CAFingerprint()
	page := string(body)
	if !strings.Contains(page, fp) {
		t.Error("instructions page does not show the CA fingerprint")
	}
	if !strings.Contains(page, "http://localhost:18081/ca.pem") {
		t.Error("instructions page does not list the localhost URL")
	}

	resp, err = http.Get(ts.URL + "/favicon.ico")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown path status = %d, want 404", resp.StatusCode)
	}
}
