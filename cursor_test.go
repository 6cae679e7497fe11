package atom

import "testing"

func TestResponseCursorAdvance(t *testing.T) {
	c := newResponseCursor()
	c.set("5-0")

	c.advance("3-0") // older, should not move
	if got := c.get(); got != "5-0" {
		t.Errorf("advance with older id moved cursor to %q", got)
	}

	c.advance("10-0")
	if got := c.get(); got != "10-0" {
		t.Errorf("advance with newer id: got %q, want 10-0", got)
	}
}
