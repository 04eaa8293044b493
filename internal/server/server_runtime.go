package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	stdlog "log"
	"net/http"
	"strings"
	"time"

	"github.com/quic-go/quic-go/http3"
	"golang.org/x/crypto/acme/autocert"

	"github.com/gatekeep/gatekeeper/internal/config"
	"github.com/gatekeep/gatekeeper/internal/debughttp"
	"github.com/gatekeep/gatekeeper/internal/netutil"
)

const (
	readHeaderTimeout = 10 * time.Second
	idleTimeout       = 120 * time.Second
	maxHeaderBytes    = 1 << 20
	shutdownTimeout   = 5 * time.Second
)

// Run serves until ctx is cancelled or a listener fails. It starts the
// janitor and the ssl status worker and closes the server on exit.
func (s *Server) Run(ctx context.Context) error {
	defer s.Close()

	if err := debughttp.Start(ctx, s.cfg.PprofListen, s.debugHandler(), s.log); err != nil {
		return fmt.Errorf("debug listener: %w", err)
	}
	go s.runJanitor(ctx)
	go s.runSSLStatusWorker(ctx)

	if s.cfg.TLSMode == config.TLSModeOff {
		return s.runPlain(ctx)
	}
	return s.runTLS(ctx)
}

func (s *Server) newHTTPServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: readHeaderTimeout,
		IdleTimeout:       idleTimeout,
		MaxHeaderBytes:    maxHeaderBytes,
	}
}

func (s *Server) runPlain(ctx context.Context) error {
	srv := s.newHTTPServer(s.cfg.ListenHTTP, s.handler)
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("starting HTTP server", "addr", s.cfg.ListenHTTP, "tls", "off")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		return shutdownServer(srv, shutdownTimeout)
	case err := <-errCh:
		_ = shutdownServer(srv, shutdownTimeout)
		return err
	}
}

func (s *Server) runTLS(ctx context.Context) error {
	var (
		manager *autocert.Manager
		static  *staticCertificate
	)
	if s.cfg.TLSMode == config.TLSModeAuto {
		manager = &autocert.Manager{
			Cache:      autocert.DirCache(s.cfg.CertCacheDir),
			Prompt:     autocert.AcceptTOS,
			Email:      s.cfg.ACMEEmail,
			HostPolicy: s.hostPolicy,
		}
	} else {
		var err error
		static, err = loadStaticCertificate(s.cfg.TLSCertFile, s.cfg.TLSKeyFile)
		if err != nil {
			return err
		}
		s.log.Info("static TLS certificate loaded", "cert_file", s.cfg.TLSCertFile, "subject", static.subject())
	}

	var tlsConfig *tls.Config
	if manager != nil {
		tlsConfig = manager.TLSConfig()
	} else {
		tlsConfig = &tls.Config{NextProtos: []string{"h2", "http/1.1"}}
	}
	tlsConfig.MinVersion = tls.VersionTLS12
	tlsConfig.GetCertificate = s.selectCertificate(manager, static)

	handler := s.handler
	var h3 *http3.Server
	if s.cfg.EnableHTTP3 {
		h3 = &http3.Server{
			Addr:      s.cfg.ListenHTTPS,
			Handler:   s.handler,
			TLSConfig: http3.ConfigureTLSConfig(tlsConfig.Clone()),
		}
		handler = advertiseHTTP3(h3, s.handler)
	}

	httpsServer := s.newHTTPServer(s.cfg.ListenHTTPS, handler)
	httpsServer.TLSConfig = tlsConfig
	httpsServer.ErrorLog = stdlog.New(newTLSErrorLogWriter(s.log, manager != nil), "", 0)

	// Plain HTTP only answers ACME challenges and redirects to HTTPS.
	var redirect http.Handler = http.HandlerFunc(redirectToHTTPS)
	if manager != nil {
		redirect = manager.HTTPHandler(redirect)
	}
	httpServer := s.newHTTPServer(s.cfg.ListenHTTP, redirect)

	errCh := make(chan error, 3)
	go func() {
		s.log.Info("starting HTTP redirect server", "addr", s.cfg.ListenHTTP)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()
	go func() {
		s.log.Info("starting HTTPS server", "addr", s.cfg.ListenHTTPS, "tls", s.cfg.TLSMode)
		if err := httpsServer.ListenAndServeTLS("", ""); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("https server: %w", err)
		}
	}()
	if h3 != nil {
		go func() {
			s.log.Info("starting HTTP/3 server", "addr", s.cfg.ListenHTTPS)
			if err := h3.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("http3 server: %w", err)
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
	}

	shutdownErr := errors.Join(
		shutdownServer(httpsServer, shutdownTimeout),
		shutdownServer(httpServer, shutdownTimeout),
	)
	if h3 != nil {
		shutdownErr = errors.Join(shutdownErr, h3.Close())
	}
	if runErr != nil {
		return runErr
	}
	return shutdownErr
}

func advertiseHTTP3(h3 *http3.Server, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = h3.SetQUICHeaders(w.Header())
		next.ServeHTTP(w, r)
	})
}

func redirectToHTTPS(w http.ResponseWriter, r *http.Request) {
	host := netutil.NormalizeHost(r.Host)
	if host == "" {
		http.Error(w, "missing host", http.StatusBadRequest)
		return
	}
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	http.Redirect(w, r, "https://"+host+r.URL.RequestURI(), http.StatusPermanentRedirect)
}

func shutdownServer(server *http.Server, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
