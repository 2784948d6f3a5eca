package rf4ch

import (
	"context"
	"errors"
	"testing"

	"github.com/hubertat/rf4ch/switcher"
)

func newTestRegistry(t testing.TB, fp *fakePublisher) *Registry {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	r := NewRegistry(ctx, Env{Publisher: fp})
	t.Cleanup(func() {
		r.Close()
		cancel()
	})
	return r
}

func TestRegistryAddGetRemove(t *testing.T) {
	r := newTestRegistry(t, newFakePublisher())

	d, err := r.Add(testConfig("Living Room"))
	if err != nil {
		t.Fatal(err)
	}
	if d.Id() != "living_room" {
		t.Errorf("got id %s want living_room", d.Id())
	}

	_, err = r.Add(testConfig("Living Room"))
	if err == nil {
		t.Error("expected error on duplicate id")
	}

	got, err := r.Get("living_room")
	if err != nil || got != d {
		t.Errorf("Get returned %v, %v", got, err)
	}

	err = r.Remove("living_room")
	if err != nil {
		t.Fatal(err)
	}

	_, err = r.Get("living_room")
	if !errors.Is(err, ErrSwitcherNotFound) {
		t.Errorf("got %v want ErrSwitcherNotFound", err)
	}
	if !errors.Is(r.Remove("living_room"), ErrSwitcherNotFound) {
		t.Error("removing twice should report not found")
	}
}

func TestRegistryList(t *testing.T) {
	r := newTestRegistry(t, newFakePublisher())

	for _, name := range []string{"Porch", "Attic", "Kitchen"} {
		_, err := r.Add(testConfig(name))
		if err != nil {
			t.Fatal(err)
		}
	}

	list := r.List()
	want := []string{"attic", "kitchen", "porch"}
	if len(list) != len(want) {
		t.Fatalf("got %d devices want %d", len(list), len(want))
	}
	for i, d := range list {
		if d.Id() != want[i] {
			t.Errorf("[%d] got %s want %s", i, d.Id(), want[i])
		}
	}
}

func TestRegistryApply(t *testing.T) {
	fp := newFakePublisher()
	r := newTestRegistry(t, fp)

	garden, porch := testConfig("Garden"), testConfig("Porch")
	err := r.Apply([]SwitcherConfig{garden, porch})
	if err != nil {
		t.Fatal(err)
	}
	if len(r.List()) != 2 {
		t.Fatalf("got %d devices want 2", len(r.List()))
	}

	original, _ := r.Get("garden")
	original.OverrideChannel(switcher.ChannelB, true)

	t.Run("options only change keeps device", func(t *testing.T) {
		garden.Options.Stateless = true
		err := r.Apply([]SwitcherConfig{garden, porch})
		if err != nil {
			t.Fatal(err)
		}
		d, _ := r.Get("garden")
		if d != original {
			t.Error("device rebuilt on options change")
		}
		assertBools(t, d.Options().Stateless, true)

		garden.Options.Stateless = false
		err = r.Apply([]SwitcherConfig{garden, porch})
		if err != nil {
			t.Fatal(err)
		}
		d.OverrideChannel(switcher.ChannelB, true)
	})

	t.Run("code change rebuilds and carries state", func(t *testing.T) {
		garden.Code.Prefix = "F0"
		err := r.Apply([]SwitcherConfig{garden, porch})
		if err != nil {
			t.Fatal(err)
		}
		d, _ := r.Get("garden")
		if d == original {
			t.Fatal("device not rebuilt")
		}
		assertBools(t, d.Channel(switcher.ChannelB), true)
		assertNoCodes(t, fp)

		d.SetChannel(switcher.ChannelA, true)
		assertCodes(t, waitCodes(t, fp, 1), []string{"F00010"})
	})

	t.Run("missing config removes device", func(t *testing.T) {
		err := r.Apply([]SwitcherConfig{garden})
		if err != nil {
			t.Fatal(err)
		}
		_, err = r.Get("porch")
		if !errors.Is(err, ErrSwitcherNotFound) {
			t.Errorf("got %v want ErrSwitcherNotFound", err)
		}
	})

	t.Run("invalid configs are rejected as a whole", func(t *testing.T) {
		broken := testConfig("Cellar")
		broken.TransmissionGap = "soon"
		err := r.Apply([]SwitcherConfig{garden, broken})
		if err == nil {
			t.Fatal("expected error")
		}
		_, err = r.Get("cellar")
		if err == nil {
			t.Error("invalid switcher was added")
		}
	})

	t.Run("duplicate ids", func(t *testing.T) {
		err := r.Apply([]SwitcherConfig{garden, garden})
		if err == nil {
			t.Error("expected error on duplicate ids")
		}
	})
}

func TestRegistryOnAdd(t *testing.T) {
	r := newTestRegistry(t, newFakePublisher())

	added := []string{}
	r.OnAdd = func(d *Device) {
		added = append(added, d.Id())
	}

	err := r.Apply([]SwitcherConfig{testConfig("Garden")})
	if err != nil {
		t.Fatal(err)
	}
	if len(added) != 1 || added[0] != "garden" {
		t.Errorf("got %v want [garden]", added)
	}
}
