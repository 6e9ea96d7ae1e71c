package logger

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProdIsJSONWithoutDebug(t *testing.T) {
	buf := &bytes.Buffer{}
	l := NewWriter(buf, "prod", "UTC")
	l.Debug("hidden")
	l.Info("stock received", "sku", "RO-10CF")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)
	var rec map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &rec))
	assert.Equal(t, "stock received", rec["msg"])
	assert.Equal(t, "filter-ledger", rec["service"])
	assert.Equal(t, "RO-10CF", rec["sku"])
}

func TestDevIsTextWithDebug(t *testing.T) {
	buf := &bytes.Buffer{}
	NewWriter(buf, "dev", "America/Bogota").Debug("resolver reloaded")
	assert.Contains(t, buf.String(), "level=DEBUG")
	assert.Contains(t, buf.String(), "-05:00")
}

func TestUnknownTimezoneFallsBack(t *testing.T) {
	buf := &bytes.Buffer{}
	NewWriter(buf, "prod", "Mars/Olympus").Info("x")
	assert.Contains(t, buf.String(), "unknown timezone")
}
