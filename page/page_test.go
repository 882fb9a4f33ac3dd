package page

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestParsePath(t *testing.T) {
	segs, err := ParsePath(`optimizely.get( "state" ).getExperimentStates()`)
	if err != nil {
		t.Fatal(err)
	}
	if len(segs) != 3 || !segs[1].Call || !segs[2].Call || segs[0].Call {
		t.Fatalf("segments: got %+v", segs)
	}
	if got := Canonical(segs); got != `optimizely.get("state").getExperimentStates()` {
		t.Errorf("Canonical: got %q", got)
	}

	for _, bad := range []string{"", "a..b", "a(", "1abc", "a.b)"} {
		if _, err := ParsePath(bad); err == nil {
			t.Errorf("ParsePath(%q): want error", bad)
		}
	}
}

func TestCallPath(t *testing.T) {
	got, err := CallPath("statsig.checkGate", "signup_v2")
	if err != nil {
		t.Fatal(err)
	}
	if got != `statsig.checkGate("signup_v2")` {
		t.Errorf("got %q", got)
	}
}

func TestDocument(t *testing.T) {
	doc, err := ParseDocument(`<html><head>
<script src="https://cdn.split.io/sdk.js"></script>
<script type="application/json">[{"test":"a"}]</script>
</head><body>
<div id="growthbook-helpers"></div>
<span data-conv-experiment="42" data-conv-variation="B">x</span>
<script>var a = 1;</script>
</body></html>`)
	if err != nil {
		t.Fatal(err)
	}
	scripts := doc.Scripts()
	if len(scripts) != 3 {
		t.Fatalf("scripts: got %d", len(scripts))
	}
	if scripts[0].Inline() || scripts[0].Src == "" {
		t.Errorf("external script: got %+v", scripts[0])
	}
	if scripts[1].Type != "application/json" || !scripts[2].Inline() {
		t.Errorf("inline scripts: got %+v", scripts[1:])
	}
	if !doc.HasID("growthbook-helpers") || doc.HasID("nope") {
		t.Error("HasID mismatch")
	}
	els := doc.WithAttr("data-conv-variation")
	if len(els) != 1 {
		t.Fatalf("elements: got %d", len(els))
	}
	if v, _ := els[0].Attr("data-conv-experiment"); v != "42" {
		t.Errorf("attr: got %q", v)
	}
}

func TestRenderText(t *testing.T) {
	got := RenderText(`<p>Tom &amp; Jerry</p><script>var hidden = "x";</script><style>p{}</style>  <b>end</b>`)
	if got != "Tom & Jerry end" {
		t.Errorf("got %q", got)
	}
}

func TestFromHTML_InfersGlobals(t *testing.T) {
	src := `<script>
var _conv_q = _conv_q || [];
window.convert = window.convert || {};
convert.currentData = {experiments: {'1001': {name: 'Hero', variation_name: 'B'}}};
window.dataLayer = window.dataLayer || [];
dataLayer.push({"event": "optimizely-decision", "optimizely_experiment_id": "77"});
window["ICEBERG"] = {"trackingConfig": {"OPTIMIZELY": {"active": true}}};
if (window.debug == true) {}
</script>`
	s, err := FromHTML("https://example.com", src)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	for _, p := range []string{"_conv_q", "convert", "convert.currentData.experiments", "dataLayer", "ICEBERG.trackingConfig.OPTIMIZELY.active"} {
		if !s.Exists(ctx, p) {
			t.Errorf("Exists(%q): want true", p)
		}
	}
	if s.Exists(ctx, "debug") {
		t.Error("comparison treated as assignment")
	}

	var events []map[string]any
	if err := Decode(ctx, s, "dataLayer", &events); err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 || events[0]["optimizely_experiment_id"] != "77" {
		t.Errorf("dataLayer: got %v", events)
	}

	var exp map[string]any
	if err := Decode(ctx, s, "convert.currentData.experiments.1001", &exp); err == nil {
		t.Error("numeric segment should not parse as a path")
	}
	raw, ok := s.Lookup(ctx, "convert.currentData")
	if !ok || !strings.Contains(string(raw), `"variation_name":"B"`) {
		t.Errorf("convert.currentData: got %s", raw)
	}
}

func TestSnapshot_Calls(t *testing.T) {
	s := &Snapshot{
		Globals: map[string]any{
			"statsig": map[string]any{"_gates": map[string]any{"signup_v2": true}},
		},
		Calls: map[string]json.RawMessage{
			`statsig.checkGate("signup_v2")`:                json.RawMessage(`true`),
			`optimizely.get("state").getExperimentStates()`: json.RawMessage(`{"9":{"variation":"v"}}`),
		},
	}
	ctx := context.Background()

	raw, err := s.Call(ctx, "statsig.checkGate", "signup_v2")
	if err != nil || string(raw) != "true" {
		t.Errorf("checkGate: got %s, %v", raw, err)
	}
	raw, err = s.Call(ctx, "statsig.checkGate", "other")
	if err != nil || string(raw) != "null" {
		t.Errorf("unrecorded args: got %s, %v", raw, err)
	}
	if _, err := s.Call(ctx, "statsig._gates"); !errors.Is(err, ErrNotFunction) {
		t.Errorf("call on value: got %v", err)
	}
	if _, err := s.Call(ctx, "growthbook.getActiveExperiments"); !errors.Is(err, ErrNotFound) {
		t.Errorf("call on missing: got %v", err)
	}

	if !s.Exists(ctx, "optimizely") || !s.Exists(ctx, "optimizely.get") {
		t.Error("object exposing only calls should exist")
	}
	var states map[string]map[string]string
	if err := CallDecode(ctx, s, `optimizely.get("state").getExperimentStates`, &states); err != nil {
		t.Fatal(err)
	}
	if states["9"]["variation"] != "v" {
		t.Errorf("states: got %v", states)
	}
}

func TestSnapshot_StorageAndWatcher(t *testing.T) {
	s := &Snapshot{
		Items:    map[string]string{"b": "2", "a": "1"},
		Injected: []string{"https://x.tt.omtrdc.net/at.js"},
	}
	ctx := context.Background()
	keys, _ := s.Keys(ctx)
	if strings.Join(keys, ",") != "a,b" {
		t.Errorf("keys: got %v", keys)
	}
	if v, ok, _ := s.Item(ctx, "a"); !ok || v != "1" {
		t.Errorf("item: got %q %v", v, ok)
	}
	ch, err := s.WatchScripts(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	var got []string
	for src := range ch {
		got = append(got, src)
	}
	if len(got) != 1 {
		t.Errorf("injected: got %v", got)
	}
}

func TestLoadSnapshot(t *testing.T) {
	in := `{"url":"https://example.com","html":"<p>hello</p><script>var statsig = {};</script>","storage":{"statsig_stable_id":"x"}}`
	s, err := LoadSnapshot(strings.NewReader(in))
	if err != nil {
		t.Fatal(err)
	}
	if s.Rendered != "hello" {
		t.Errorf("text: got %q", s.Rendered)
	}
	if !s.Exists(context.Background(), "statsig") {
		t.Error("statsig global not inferred")
	}
}
