package session

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestManager_CreateGetList(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	m := NewManager(ManagerConfig{
		Images: newFakeImageStore(),
		Logger: testLogger(),
		Now: func() time.Time {
			now = now.Add(time.Second)
			return now
		},
	})

	a := m.Create("a.mp3", 60)
	b := m.Create("b.mp3", -1)

	if a.ID == "" || a.ID == b.ID {
		t.Fatalf("expected distinct ids, got %q and %q", a.ID, b.ID)
	}
	if a.Timeline().Duration() != 60 {
		t.Errorf("duration = %v, want 60", a.Timeline().Duration())
	}
	if b.Timeline().State().DurationKnown() {
		t.Errorf("b duration should be unknown")
	}

	got, err := m.Get(a.ID)
	if err != nil || got != a {
		t.Fatalf("Get(a) = %v, %v", got, err)
	}
	if _, err := m.Get("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(missing) error = %v, want ErrNotFound", err)
	}

	list := m.List()
	if len(list) != 2 || list[0] != a || list[1] != b {
		t.Errorf("List order wrong")
	}
	if m.Count() != 2 {
		t.Errorf("Count = %d, want 2", m.Count())
	}
}

func TestManager_Latest(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	m := NewManager(ManagerConfig{
		Images: newFakeImageStore(),
		Logger: testLogger(),
		Now:    func() time.Time { return now },
	})
	if m.Latest() != nil {
		t.Fatalf("Latest on empty manager should be nil")
	}

	a := m.Create("a.mp3", -1)
	now = now.Add(time.Minute)
	m.Create("b.mp3", -1)
	now = now.Add(time.Minute)
	a.SetMediaFilename("a2.mp3")

	if got := m.Latest(); got != a {
		t.Errorf("Latest = %v, want a", got.ID)
	}
}

func TestManager_CloseDeletesImages(t *testing.T) {
	images := newFakeImageStore()
	m := newTestManager(images, &fakeFetcher{})
	keep := m.Create("", -1)
	drop := m.Create("", -1)
	ctx := context.Background()

	if _, err := keep.AddImage(ctx, "image/png", []byte("k")); err != nil {
		t.Fatalf("AddImage failed: %v", err)
	}
	if _, err := drop.AddImage(ctx, "image/png", []byte("d")); err != nil {
		t.Fatalf("AddImage failed: %v", err)
	}

	if err := m.Close(ctx, drop.ID); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if _, err := m.Get(drop.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("closed session still present")
	}
	if n, _ := images.CountImages(ctx); n != 1 {
		t.Errorf("expected 1 image left, got %d", n)
	}
	if err := m.Close(ctx, drop.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("second Close error = %v, want ErrNotFound", err)
	}
}

func TestManager_CloseKeepsSessionWhenImageDeleteFails(t *testing.T) {
	images := newFakeImageStore()
	m := newTestManager(images, nil)
	s := m.Create("", -1)
	if _, err := s.AddImage(context.Background(), "image/png", []byte("png")); err != nil {
		t.Fatalf("AddImage failed: %v", err)
	}

	images.failDelete = true
	if err := m.Close(context.Background(), s.ID); err == nil {
		t.Fatal("expected Close to fail")
	}
	if got, err := m.Get(s.ID); err != nil || got != s {
		t.Fatalf("session should stay open after a failed close, Get = %v, %v", got, err)
	}

	images.failDelete = false
	if err := m.Close(context.Background(), s.ID); err != nil {
		t.Fatalf("retried Close failed: %v", err)
	}
	if n, _ := images.CountImages(context.Background()); n != 0 {
		t.Errorf("store holds %d images after close, want 0", n)
	}
	if _, err := m.Get(s.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get after close error = %v, want ErrNotFound", err)
	}
}

func TestManager_CloseIdle(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	m := NewManager(ManagerConfig{
		Images: newFakeImageStore(),
		Logger: testLogger(),
		Now:    func() time.Time { return now },
	})

	stale := m.Create("stale", -1)
	now = now.Add(20 * time.Minute)
	fresh := m.Create("fresh", -1)
	now = now.Add(15 * time.Minute)

	if n := m.CloseIdle(context.Background(), 30*time.Minute); n != 1 {
		t.Fatalf("CloseIdle closed %d, want 1", n)
	}
	if _, err := m.Get(stale.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("stale session not closed")
	}
	if _, err := m.Get(fresh.ID); err != nil {
		t.Errorf("fresh session closed: %v", err)
	}
}

func TestManager_CloseAll(t *testing.T) {
	m := newTestManager(newFakeImageStore(), &fakeFetcher{})
	m.Create("", -1)
	m.Create("", -1)
	m.CloseAll(context.Background())
	if m.Count() != 0 {
		t.Errorf("Count = %d after CloseAll", m.Count())
	}
}
