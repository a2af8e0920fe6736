package identity

import (
	"path/filepath"
	"testing"
)

func TestLoadOrCreateDeviceIsStableAcrossLoads(t *testing.T) {
	dir := t.TempDir()

	d1, err := LoadOrCreateDevice(dir)
	if err != nil {
		t.Fatalf("first load: %v", err)
	}
	id1, err := d1.DeviceID()
	if err != nil {
		t.Fatalf("device id: %v", err)
	}

	d2, err := LoadOrCreateDevice(dir)
	if err != nil {
		t.Fatalf("second load: %v", err)
	}
	id2, err := d2.DeviceID()
	if err != nil {
		t.Fatalf("device id 2: %v", err)
	}

	if id1 != id2 {
		t.Fatalf("device id changed across loads: %s vs %s", id1, id2)
	}
}

func TestTokenStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	ts, err := LoadTokenStore(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := ts.Put("dev1", "runner", "secret-token", []string{"tasks:read"}); err != nil {
		t.Fatalf("put: %v", err)
	}

	reloaded, err := LoadTokenStore(dir)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	tok, ok := reloaded.Get("dev1", "runner")
	if !ok || tok.Token != "secret-token" {
		t.Fatalf("got %#v, %v", tok, ok)
	}
	if filepath.Base(reloaded.path) != "device-tokens.json" {
		t.Fatalf("unexpected path: %s", reloaded.path)
	}
}
