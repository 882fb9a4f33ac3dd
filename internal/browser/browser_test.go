package browser

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/go-rod/rod/lib/proto"
)

func TestNewBlockSet(t *testing.T) {
	set := newBlockSet([]string{"images", " Fonts ", "", "script", "document", "ping"})

	for _, want := range []proto.NetworkResourceType{
		proto.NetworkResourceTypeImage,
		proto.NetworkResourceTypeFont,
		proto.NetworkResourceTypePing,
	} {
		if !set[want] {
			t.Errorf("%s not blocked", want)
		}
	}
	if set[proto.NetworkResourceTypeScript] || set[proto.NetworkResourceTypeDocument] {
		t.Error("scripts and documents must never be blocked")
	}
	if len(set) != 3 {
		t.Errorf("len = %d, want 3", len(set))
	}
}

func TestNewBlockSetEmpty(t *testing.T) {
	if set := newBlockSet(nil); len(set) != 0 {
		t.Errorf("len = %d, want 0", len(set))
	}
}

func TestJSSegments(t *testing.T) {
	segs, err := jsSegments(`optimizely.get("state").getExperimentStates()`)
	if err != nil {
		t.Fatal(err)
	}
	if len(segs) != 3 {
		t.Fatalf("segments = %d, want 3", len(segs))
	}
	if segs[0].Name != "optimizely" || segs[0].Call {
		t.Errorf("seg 0 = %+v", segs[0])
	}
	if segs[1].Name != "get" || !segs[1].Call || len(segs[1].Args) != 1 || string(segs[1].Args[0]) != `"state"` {
		t.Errorf("seg 1 = %+v", segs[1])
	}
	if !segs[2].Call || len(segs[2].Args) != 0 {
		t.Errorf("seg 2 = %+v", segs[2])
	}

	b, err := json.Marshal(segs[:2])
	if err != nil {
		t.Fatal(err)
	}
	want := `[{"name":"optimizely","call":false},{"name":"get","call":true,"args":["state"]}]`
	if string(b) != want {
		t.Errorf("wire form = %s, want %s", b, want)
	}
}

func TestJSSegmentsInvalid(t *testing.T) {
	if _, err := jsSegments("a..b"); err == nil {
		t.Error("expected error")
	}
}

func TestEmbeddedScripts(t *testing.T) {
	if !strings.HasPrefix(runtimeJS, "(op, segs, callArgs) =>") {
		t.Errorf("runtime.js is not a function expression: %.40q", runtimeJS)
	}
	if !strings.HasPrefix(watchJS, "(binding, windowMs) =>") {
		t.Errorf("watch.js is not a function expression: %.40q", watchJS)
	}
	if !strings.Contains(watchJS, "MutationObserver") {
		t.Error("watch.js does not observe mutations")
	}
}

func TestConfigDefaults(t *testing.T) {
	var c Config
	c.defaults()
	if c.Stealth == nil || !*c.Stealth {
		t.Error("stealth should default on")
	}
	if c.NavigationTimeout != 30*time.Second {
		t.Errorf("NavigationTimeout = %v", c.NavigationTimeout)
	}
	if c.RecycleInterval != 4*time.Hour {
		t.Errorf("RecycleInterval = %v", c.RecycleInterval)
	}
	if c.Logger == nil {
		t.Error("nil logger")
	}
}

func TestManagerClosed(t *testing.T) {
	m := NewManager(Config{})
	if err := m.Ping(t.Context()); err != nil {
		t.Errorf("idle ping: %v", err)
	}
	if err := m.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := m.acquire(); err == nil {
		t.Error("acquire after Close should fail")
	}
}
