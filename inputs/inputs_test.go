package inputs

import (
	"context"
	"testing"

	"github.com/pkg/errors"
)

func assertBools(t testing.TB, got, want bool) {
	t.Helper()

	if got != want {
		t.Errorf("got %v want %v", got, want)
	}
}

func assertUint16Slices(t testing.TB, got, want []uint16) {
	t.Helper()

	if len(got) != len(want) {
		t.Errorf("len(got) = %d len(want) = %d", len(got), len(want))
		return
	}

	for key, val := range got {
		if want[key] != val {
			t.Errorf("for key [%d] got: %d want: %d", key, val, want[key])
		}
	}
}

func TestMockSetup(t *testing.T) {
	md := MockDriver{}

	assertBools(t, md.IsReady(), false)

	md.Setup(context.Background(), []uint16{1, 3, 5})
	assertBools(t, md.IsReady(), true)
	assertUint16Slices(t, md.GetAllInputs(), []uint16{1, 3, 5})

	_, err := md.GetInput(2)
	if err == nil {
		t.Error("expected error for unknown pin")
	}
}

func TestEdgeDetector(t *testing.T) {
	md := MockDriver{}
	md.Setup(context.Background(), []uint16{4})
	in, _ := md.Input(4)
	ed := NewEdgeDetector()

	pressed, _ := ed.Pressed(in)
	assertBools(t, pressed, false)

	in.Set(true)
	pressed, _ = ed.Pressed(in)
	assertBools(t, pressed, true)

	pressed, _ = ed.Pressed(in)
	assertBools(t, pressed, false)

	in.Set(false)
	pressed, _ = ed.Pressed(in)
	assertBools(t, pressed, false)

	in.Set(true)
	pressed, _ = ed.Pressed(in)
	assertBools(t, pressed, true)
}

func TestEdgeDetectorHeldAtStart(t *testing.T) {
	md := MockDriver{}
	md.Setup(context.Background(), []uint16{1})
	in, _ := md.Input(1)
	in.Set(true)
	ed := NewEdgeDetector()

	pressed, _ := ed.Pressed(in)
	assertBools(t, pressed, false)
}

func TestEdgeDetectorError(t *testing.T) {
	md := MockDriver{}
	md.Setup(context.Background(), []uint16{1})
	in, _ := md.Input(1)
	in.Fail(errors.New("i2c bus error"))

	_, err := NewEdgeDetector().Pressed(in)
	if err == nil {
		t.Error("expected read error")
	}
}
