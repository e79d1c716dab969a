/*
File: server.go
Version: 4.0.0
Description: Listener orchestration for the classification API.
             Plain HTTP, HTTPS (HTTP/1.1 & 2) and HTTP/3 over QUIC share one handler.
*/

package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/quic-go/quic-go"
	"github.com/quic-go/quic-go/http3"
)

// Constants
const (
	DefaultServerTimeout = 5 * time.Second
	DefaultMaxBodySize   = 64 * 1024 // JSON request bodies carry a single URL
)

// ServerShutdowner interface for graceful shutdown
type ServerShutdowner interface {
	Shutdown(ctx context.Context) error
	String() string
}

// HTTPServerWrapper wraps http.Server to implement ServerShutdowner
type HTTPServerWrapper struct {
	*http.Server
	tls bool
}

func (w *HTTPServerWrapper) Shutdown(ctx context.Context) error {
	return w.Server.Shutdown(ctx)
}

func (w *HTTPServerWrapper) String() string {
	if w.tls {
		return fmt.Sprintf("Protocol: HTTPS (HTTP/1.1&2) | Addr: %s", w.Addr)
	}
	return fmt.Sprintf("Protocol: HTTP | Addr: %s", w.Addr)
}

// HTTP3ServerWrapper wraps http3.Server to implement ServerShutdowner
type HTTP3ServerWrapper struct {
	*http3.Server
}

func (w *HTTP3ServerWrapper) Shutdown(ctx context.Context) error {
	return w.Server.Close()
}

func (w *HTTP3ServerWrapper) String() string {
	return fmt.Sprintf("Protocol: HTTP/3 (QUIC) | Addr: %s", w.Addr)
}

func newHTTPServer(addr string, handler http.Handler, timeout time.Duration) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: timeout,
		ReadTimeout:       timeout,
		WriteTimeout:      timeout * 2,
		IdleTimeout:       60 * time.Second,
	}
}

func startServers(wg *sync.WaitGroup, cfg *Config, handler http.Handler, tlsConfig *tls.Config) []ServerShutdowner {
	var servers []ServerShutdowner
	timeout := cfg.Server.parsedTimeout
	if timeout == 0 {
		timeout = DefaultServerTimeout
	}

	for _, l := range cfg.Server.Listeners {
		for _, address := range l.Address {
			for _, port := range l.Port {
				addr := net.JoinHostPort(address, fmt.Sprintf("%d", port))

				switch l.Protocol {
				case "http":
					wg.Add(1)
					srv := newHTTPServer(addr, handler, timeout)
					wrapper := &HTTPServerWrapper{Server: srv}

					go func() {
						defer wg.Done()
						LogInfo("Starting Server [%s]", wrapper.String())
						if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
							LogError("Server [%s] stopped: %v", wrapper.String(), err)
						}
					}()
					servers = append(servers, wrapper)

				case "https":
					if tlsConfig == nil {
						LogWarn("Skipping HTTPS listener on %s: no TLS configuration", addr)
						continue
					}
					wg.Add(1)
					srv := newHTTPServer(addr, handler, timeout)
					srv.TLSConfig = tlsConfig
					wrapper := &HTTPServerWrapper{Server: srv, tls: true}

					go func() {
						defer wg.Done()
						LogInfo("Starting Server [%s]", wrapper.String())
						if err := srv.ListenAndServeTLS("", ""); err != nil && err != http.ErrServerClosed {
							LogError("Server [%s] stopped: %v", wrapper.String(), err)
						}
					}()
					servers = append(servers, wrapper)

				case "h3":
					if tlsConfig == nil {
						LogWarn("Skipping HTTP/3 listener on %s: no TLS configuration", addr)
						continue
					}
					wg.Add(1)
					h3Server := &http3.Server{
						Addr:      addr,
						Handler:   handler,
						TLSConfig: http3.ConfigureTLSConfig(tlsConfig.Clone()),
						QuicConfig: &quic.Config{
							MaxIdleTimeout: 30 * time.Second,
						},
					}
					wrapper := &HTTP3ServerWrapper{h3Server}

					go func() {
						defer wg.Done()
						LogInfo("Starting Server [%s]", wrapper.String())
						if err := h3Server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
							LogError("Server [%s] stopped: %v", wrapper.String(), err)
						}
					}()
					servers = append(servers, wrapper)
				}
			}
		}
	}

	return servers
}

func shutdownServers(servers []ServerShutdowner, timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var wg sync.WaitGroup
	for _, s := range servers {
		wg.Add(1)
		go func(s ServerShutdowner) {
			defer wg.Done()
			if err := s.Shutdown(ctx); err != nil {
				LogWarn("Shutdown [%s]: %v", s.String(), err)
			}
		}(s)
	}
	wg.Wait()
}
