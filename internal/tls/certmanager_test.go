package tls

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/caddyserver/certmagic"
	"github.com/stretchr/testify/assert"
)

func TestAllowCert(t *testing.T) {
	cm := NewCertManager("console.example.com", "ops@example.com", false, slog.New(slog.NewTextHandler(io.Discard, nil)))
	assert.Equal(t, certmagic.LetsEncryptStagingCA, certmagic.DefaultACME.CA)

	assert.NoError(t, cm.allowCert(context.Background(), "Console.Example.com"))
	assert.Error(t, cm.allowCert(context.Background(), "evil.example.com"))
}
