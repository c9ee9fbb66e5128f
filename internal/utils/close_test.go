package utils

import (
	"errors"
	"testing"

	"github.com/MrSnakeDoc/linktags/internal/logger"
)

type closer struct {
	err    error
	closed int
}

func (c *closer) Close() error {
	c.closed++
	return c.err
}

func TestMustClose(t *testing.T) {
	log := logger.NewNop()

	ok := &closer{}
	if !MustClose(ok, "ok", log) || ok.closed != 1 {
		t.Fatalf("MustClose(ok) closed=%d", ok.closed)
	}

	bad := &closer{err: errors.New("boom")}
	if MustClose(bad, "bad", log) {
		t.Error("MustClose should report a failed close")
	}
	if bad.closed != 1 {
		t.Errorf("closed=%d, want 1", bad.closed)
	}

	if !MustClose(nil, "nil", log) {
		t.Error("nil closer should be a no-op")
	}
}
