package qbittorrent

import (
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestNewClientConnectionFailed(t *testing.T) {
	// Nothing listens on a reserved port; login cannot succeed.
	_, err := NewClient("http://127.0.0.1:1", "admin", "admin", zerolog.Nop(),
		WithMaxRetries(1), WithRetryDelay(time.Millisecond))
	if err == nil {
		t.Fatal("NewClient() expected error for unreachable host")
	}
	if !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("NewClient() error = %v, want ErrConnectionFailed", err)
	}
}
