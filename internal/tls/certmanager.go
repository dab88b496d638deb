package tls

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/caddyserver/certmagic"
)

// CertManager serves the console over HTTPS with certificates obtained from
// Let's Encrypt for a single configured domain.
type CertManager struct {
	domain string
	logger *slog.Logger
	cfg    *certmagic.Config
}

// NewCertManager creates a CertManager for domain. Outside production the
// staging CA is used so testing does not hit rate limits.
func NewCertManager(domain, email string, production bool, logger *slog.Logger) *CertManager {
	certmagic.DefaultACME.Email = email
	certmagic.DefaultACME.Agreed = true
	if !production {
		certmagic.DefaultACME.CA = certmagic.LetsEncryptStagingCA
	}

	cfg := certmagic.NewDefault()
	cm := &CertManager{domain: strings.ToLower(domain), logger: logger, cfg: cfg}
	cfg.OnDemand = &certmagic.OnDemandConfig{
		DecisionFunc: cm.allowCert,
	}
	return cm
}

// allowCert refuses certificates for any name but the configured domain.
func (cm *CertManager) allowCert(_ context.Context, name string) error {
	if !strings.EqualFold(name, cm.domain) {
		return fmt.Errorf("unknown domain: %s", name)
	}
	return nil
}

// ListenAndServe obtains the certificate, then serves handler over TLS on
// port 443 until ctx is cancelled.
func (cm *CertManager) ListenAndServe(ctx context.Context, handler http.Handler) error {
	cm.logger.Info("starting TLS server", "domain", cm.domain)
	if err := cm.cfg.ManageSync(ctx, []string{cm.domain}); err != nil {
		return fmt.Errorf("manage domain: %w", err)
	}

	ln, err := tls.Listen("tcp", fmt.Sprintf(":%d", certmagic.HTTPSPort), cm.cfg.TLSConfig())
	if err != nil {
		return fmt.Errorf("tls listen: %w", err)
	}

	srv := &http.Server{Handler: handler, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	cm.logger.Info("serving HTTPS", "port", certmagic.HTTPSPort)
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// TLSConfig returns the certmagic config for use with custom listeners.
func (cm *CertManager) TLSConfig() *certmagic.Config {
	return cm.cfg
}
