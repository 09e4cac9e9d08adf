package browser

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultOptions(t *testing.T) {
	opts := DefaultOptions()

	if !opts.Headless {
		t.Error("Expected headless to be true by default")
	}

	if opts.Timeout != 30*time.Second {
		t.Errorf("Expected timeout to be 30s, got %v", opts.Timeout)
	}

	if opts.ViewportWidth != 1920 || opts.ViewportHeight != 1080 {
		t.Errorf("Expected viewport to be 1920x1080, got %dx%d", opts.ViewportWidth, opts.ViewportHeight)
	}

	if opts.Locale != "en-US" {
		t.Errorf("Expected locale to be en-US, got %s", opts.Locale)
	}
}

func TestOptions_Logger(t *testing.T) {
	var buf bytes.Buffer
	opts := DefaultOptions()
	opts.Logger = slog.New(slog.NewTextHandler(&buf, nil))

	opts.logger(DriverRod).Info("browser closed")
	assert.Contains(t, buf.String(), "component=browser")
	assert.Contains(t, buf.String(), "driver=rod")

	assert.NotNil(t, DefaultOptions().logger(DriverPlaywright))
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open("netscape", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "netscape")
}

func TestBudget(t *testing.T) {
	assert.Equal(t, float64(5000), budget(context.Background(), 5*time.Second))

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	got := budget(ctx, 5*time.Second)
	assert.LessOrEqual(t, got, float64(100))
	assert.Greater(t, got, float64(0))

	expired, cancel2 := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel2()
	assert.Equal(t, float64(1), budget(expired, 5*time.Second))
}
