package sandbox

import (
	"errors"
	"testing"

	"github.com/docker/docker/errdefs"
)

func TestAlreadyGoneKillErrors(t *testing.T) {
	base := errors.New("container abc")
	if !alreadyGone(errdefs.NotFound(base)) {
		t.Fatalf("removed container should not fail kill")
	}
	if !alreadyGone(errdefs.Conflict(base)) {
		t.Fatalf("exited container should not fail kill")
	}
	if alreadyGone(errdefs.System(base)) || alreadyGone(nil) {
		t.Fatalf("unexpected classification")
	}
}
