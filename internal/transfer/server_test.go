package transfer

import (
	"context"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"testing"
)

func TestServe_ServesFileBytes(t *testing.T) {
	dir := t.TempDir()
	content := []byte("%PDF-1.4 fake body")
	if err := os.WriteFile(filepath.Join(dir, "page.pdf"), content, 0o644); err != nil {
		t.Fatal(err)
	}

	s, err := Serve(dir, 0)
	if err != nil {
		t.Fatalf("Serve: %v", err)
	}
	defer s.Shutdown(context.Background())

	resp, err := http.Get(s.URL("page.pdf"))
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("reading body: %v", err)
	}
	if string(body) != string(content) {
		t.Errorf("served %q, want %q", body, content)
	}
}

func TestServe_EscapedFilename(t *testing.T) {
	dir := t.TempDir()
	name := "My Paper_example.com.pdf"
	if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	s, err := Serve(dir, 0)
	if err != nil {
		t.Fatalf("Serve: %v", err)
	}
	defer s.Shutdown(context.Background())

	resp, err := http.Get(s.URL(name))
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200 for filename with spaces", resp.StatusCode)
	}
}

func TestServe_SkipsBusyPort(t *testing.T) {
	// Occupy a port, then ask the scan to start there.
	ln, err := net.Listen("tcp", "localhost:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	_, portStr, _ := net.SplitHostPort(ln.Addr().String())
	busy, _ := strconv.Atoi(portStr)

	s, err := Serve(t.TempDir(), busy)
	if err != nil {
		t.Fatalf("Serve: %v", err)
	}
	defer s.Shutdown(context.Background())

	if s.Port() == busy {
		t.Errorf("bound the busy port %d", busy)
	}
	if s.Port() < busy || s.Port() >= busy+maxPortProbes {
		t.Errorf("port %d outside scan range starting at %d", s.Port(), busy)
	}
}

func TestShutdown_StopsServing(t *testing.T) {
	s, err := Serve(t.TempDir(), 0)
	if err != nil {
		t.Fatalf("Serve: %v", err)
	}
	url := s.URL("missing.pdf")

	if err := s.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	if _, err := http.Get(url); err == nil {
		t.Error("server still answering after Shutdown")
	}
}

func TestServe_NoTraversal(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "ok.txt"), []byte("ok"), 0o644); err != nil {
		t.Fatal(err)
	}

	s, err := Serve(dir, 0)
	if err != nil {
		t.Fatalf("Serve: %v", err)
	}
	defer s.Shutdown(context.Background())

	resp, err := http.Get(s.URL("../../etc/passwd"))
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode == http.StatusOK {
		t.Error("traversal path served with 200")
	}
}
