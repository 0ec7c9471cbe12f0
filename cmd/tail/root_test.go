package tail

import (
	"testing"

	"github.com/ValentinKolb/ghostmesh/lib/hub"
	"github.com/fatih/color"
)

func TestFormat(t *testing.T) {
	color.NoColor = true

	got := format(hub.Frame{Event: "entity:deleted", Data: map[string]any{"entityKey": "0xab"}})
	if got != `entity:deleted {"entityKey":"0xab"}` {
		t.Errorf("unexpected line %q", got)
	}
	if got := format(hub.Frame{Event: "pong"}); got != "pong" {
		t.Errorf("frame without data should print the name only, got %q", got)
	}
}
