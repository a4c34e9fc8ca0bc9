// Package transfer runs the short-lived loopback file server that hands a
// captured file to the Zotero connector. The connector only accepts URLs,
// so the file is exposed at http://localhost:<port>/<filename> for exactly
// the duration of one snapshot call.
package transfer

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
)

// DefaultStartPort is where the port scan begins. Bind failures (another
// process owns the port) move the scan to the next port, never abort it.
const DefaultStartPort = 25852

// maxPortProbes bounds the scan.
const maxPortProbes = 100

// Server is one scoped file-serving session. It is started immediately
// before a transfer and must be shut down immediately after; it is never
// shared across transfers.
type Server struct {
	port   int
	srv    *http.Server
	logger *slog.Logger
	done   chan struct{}
}

// Serve binds a file server for dir on the first free loopback port at or
// above startPort (0 means DefaultStartPort) and starts serving on a
// background goroutine. Callers must Shutdown on every exit path.
func Serve(dir string, startPort int) (*Server, error) {
	if startPort == 0 {
		startPort = DefaultStartPort
	}

	ln, port, err := bindFirstFree(startPort)
	if err != nil {
		return nil, err
	}

	r := chi.NewRouter()
	r.Get("/{filename}", func(w http.ResponseWriter, req *http.Request) {
		// URLParam is already path-unescaped; Base strips any traversal.
		name := filepath.Base(chi.URLParam(req, "filename"))
		http.ServeFile(w, req, filepath.Join(dir, name))
	})

	s := &Server{
		port:   port,
		srv:    &http.Server{Handler: r},
		logger: slog.Default(),
		done:   make(chan struct{}),
	}

	go func() {
		defer close(s.done)
		if err := s.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error("transfer server error", "port", port, "error", err)
		}
	}()

	s.logger.Debug("transfer server started", "port", port, "dir", dir)
	return s, nil
}

// bindFirstFree scans ports upward from startPort until one binds.
func bindFirstFree(startPort int) (net.Listener, int, error) {
	for port := startPort; port < startPort+maxPortProbes; port++ {
		ln, err := net.Listen("tcp", net.JoinHostPort("localhost", strconv.Itoa(port)))
		if err != nil {
			// Treat address-in-use class failures as "try the next port".
			continue
		}
		return ln, port, nil
	}
	return nil, 0, fmt.Errorf("no free port in range %d-%d", startPort, startPort+maxPortProbes-1)
}

// Port returns the bound loopback port.
func (s *Server) Port() int {
	return s.port
}

// URL returns the loopback URL under which filename is served.
func (s *Server) URL(filename string) string {
	return fmt.Sprintf("http://localhost:%d/%s", s.port, url.PathEscape(filename))
}

// Shutdown stops the server, waiting briefly for in-flight transfers.
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	err := s.srv.Shutdown(ctx)
	<-s.done
	s.logger.Debug("transfer server stopped", "port", s.port)
	return err
}
