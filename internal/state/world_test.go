package state

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/geomsync/geomsync/internal/geom"
)

type fakeSource struct {
	windows  []Window
	displays map[uint64]Display
	err      error
}

func (f *fakeSource) ListWindows(context.Context) ([]Window, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.windows, nil
}

func (f *fakeSource) ListDisplays(context.Context) (map[uint64]Display, error) {
	return f.displays, nil
}

func TestNewWorldNormalizesScaleAndCopiesSecureRects(t *testing.T) {
	secure := NewSecureSurfaces()
	secure.Update(map[uint64][]SecureSurfaceRect{
		7: {{HostRect: geom.Rect{Width: 10, Height: 10}, OwnerPID: 42}},
		9: {{HostRect: geom.Rect{Width: 5, Height: 5}}},
	})
	src := &fakeSource{
		windows: []Window{
			{ID: 1, SurfaceNodeID: 7},
			{ID: 2, Scale: geom.Vec{X: 2, Y: 2}},
		},
		displays: map[uint64]Display{0: {ID: 0}},
	}
	world, err := NewWorld(context.Background(), src, secure)
	if err != nil {
		t.Fatalf("NewWorld returned error: %v", err)
	}
	if world.Windows[0].Scale != geom.Unit {
		t.Fatalf("expected unit scale, got %+v", world.Windows[0].Scale)
	}
	if world.Windows[1].Scale != (geom.Vec{X: 2, Y: 2}) {
		t.Fatalf("explicit scale overwritten: %+v", world.Windows[1].Scale)
	}
	if world.Displays[0].Scale != geom.Unit {
		t.Fatalf("expected display unit scale, got %+v", world.Displays[0].Scale)
	}
	if len(world.SecureSurfaces) != 1 || len(world.SecureSurfaces[7]) != 1 {
		t.Fatalf("expected only node 7 secure rects, got %+v", world.SecureSurfaces)
	}
}

func TestNewWorldPropagatesErrors(t *testing.T) {
	if _, err := NewWorld(context.Background(), nil, nil); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	boom := errors.New("boom")
	if _, err := NewWorld(context.Background(), &fakeSource{err: boom}, nil); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped error, got %v", err)
	}
}

func TestCloneWorldIsDeep(t *testing.T) {
	orig := &World{
		Windows: []Window{{
			ID:                1,
			HotAreas:          []geom.Rect{{Width: 4, Height: 4}},
			ExtensionPosition: &geom.Point{X: 1, Y: 2},
			ModalExtension:    &ModalExtension{ID: 3, Active: true},
		}},
		Displays:       map[uint64]Display{0: {SingleHand: &SingleHand{Scale: 0.75}}},
		SecureSurfaces: map[uint64][]SecureSurfaceRect{1: {{OwnerPID: 5}}},
	}
	clone := CloneWorld(orig)
	if diff := cmp.Diff(orig, clone); diff != "" {
		t.Fatalf("clone differs (-orig +clone):\n%s", diff)
	}
	clone.Windows[0].HotAreas[0].Width = 99
	clone.Windows[0].ExtensionPosition.X = 99
	clone.Windows[0].ModalExtension.ID = 99
	clone.Displays[0].SingleHand.Scale = 1
	clone.SecureSurfaces[1][0].OwnerPID = 99
	if orig.Windows[0].HotAreas[0].Width != 4 ||
		orig.Windows[0].ExtensionPosition.X != 1 ||
		orig.Windows[0].ModalExtension.ID != 3 ||
		orig.Displays[0].SingleHand.Scale != 0.75 ||
		orig.SecureSurfaces[1][0].OwnerPID != 5 {
		t.Fatalf("mutating clone leaked into original: %+v", orig)
	}
}

func TestSecureSurfacesUpdateReplaces(t *testing.T) {
	s := NewSecureSurfaces()
	s.Update(map[uint64][]SecureSurfaceRect{1: {{}}, 2: nil})
	if s.Len() != 1 {
		t.Fatalf("expected empty nodes dropped, got %d", s.Len())
	}
	s.Update(map[uint64][]SecureSurfaceRect{3: {{}}})
	if got := s.Lookup([]uint64{1, 3}); len(got) != 1 || got[3] == nil {
		t.Fatalf("expected report replaced, got %+v", got)
	}
	var nilStore *SecureSurfaces
	if nilStore.Lookup([]uint64{1}) != nil || nilStore.Len() != 0 {
		t.Fatalf("nil store should be empty")
	}
}

func TestRotationAndLimits(t *testing.T) {
	if Rotation270.Next() != Rotation0 || !Rotation90.Valid() || Rotation(45).Valid() {
		t.Fatalf("rotation helpers misbehave")
	}
	l := Limits{MinWidth: 10, MaxWidth: 10, MinHeight: 1, MaxHeight: 20}
	if !l.WidthFixed() || l.HeightFixed() {
		t.Fatalf("unexpected limits classification: %+v", l)
	}
	if unset := (Limits{}); unset.WidthFixed() || unset.HeightFixed() {
		t.Fatalf("unset limits must be unbounded")
	}
	typ, err := ParseWindowType("pip")
	if err != nil || typ != WindowTypePip {
		t.Fatalf("ParseWindowType(pip) = %v, %v", typ, err)
	}
}
