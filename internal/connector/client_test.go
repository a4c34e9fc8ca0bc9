package connector

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
)

// clientFor points a Client at an httptest server.
func clientFor(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatalf("parsing test server URL: %v", err)
	}
	port, err := strconv.Atoi(u.Port())
	if err != nil {
		t.Fatalf("parsing test server port: %v", err)
	}
	return New(u.Scheme+"://"+u.Hostname(), port)
}

func TestPing_Up(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/connector/ping" || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
	}))
	defer srv.Close()

	if !clientFor(t, srv).Ping(context.Background()) {
		t.Error("Ping() = false, want true")
	}
}

func TestPing_Down(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	c := clientFor(t, srv)
	srv.Close()

	if c.Ping(context.Background()) {
		t.Error("Ping() = true, want false")
	}
}

func TestEnsureRunning_Down(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	c := clientFor(t, srv)
	srv.Close()

	err := c.EnsureRunning(context.Background())
	if err == nil {
		t.Fatal("want error when Zotero is down")
	}
	if !strings.Contains(err.Error(), "start Zotero") && !strings.Contains(err.Error(), "Zotero is not running") {
		t.Errorf("error = %q, want an instruction to start Zotero", err)
	}
}

func TestSaveSnapshot_Payload(t *testing.T) {
	var got SnapshotRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/connector/saveSnapshot" {
			http.NotFound(w, r)
			return
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q, want application/json", ct)
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	snap := SnapshotRequest{
		URL:         "http://localhost:25852/doc.pdf",
		Title:       "A Document",
		Filename:    "doc.pdf",
		ContentType: "application/pdf",
		ItemType:    "attachment",
	}
	if err := clientFor(t, srv).SaveSnapshot(context.Background(), snap); err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}

	if got != snap {
		t.Errorf("server saw %+v, want %+v", got, snap)
	}
}

func TestSaveSnapshot_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	err := clientFor(t, srv).SaveSnapshot(context.Background(), SnapshotRequest{URL: "https://example.com"})
	if err == nil {
		t.Error("want error on 500 response")
	}
}
