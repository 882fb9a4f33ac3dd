package signature

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hazyhaar/expscope/finding"
)

func TestScored_Monotonic(t *testing.T) {
	validators := map[string]Scored{
		"statsig": StatsigValidator(),
		"adobe":   AdobeTargetValidator(),
	}
	for name, v := range validators {
		text := "var x = 1;"
		prev := v.Score(text)
		for _, ind := range v.Indicators {
			text += " " + sample(ind)
			got := v.Score(text)
			if got < prev {
				t.Errorf("%s: score dropped from %v to %v after adding %q", name, prev, got, ind)
			}
			prev = got
		}
	}
}

// sample returns a string that the indicator matches.
func sample(ind Indicator) string {
	if ind.Pattern == nil {
		return ind.Literal
	}
	switch ind.Pattern.String() {
	case StatsigSDKPair.String():
		return `"sdkType":"statsig-js","sdkVersion":"4.1.0"`
	case `"statsig_updates"|"generator"|"statsig-node-sdk"|"sdkInfo"`:
		return `"sdkInfo"`
	case `mbox(?:Create|Define|Update)\s*\(`:
		return "mboxCreate("
	case `\.target\.(?:getOffer|applyOffer)\b`:
		return "adobe.target.getOffer"
	case `mbox(?:PC|Session)\b`:
		return "mboxPC"
	case `\btgt1?\b`:
		return "tgt"
	case `\bvpc\b`:
		return "vpc"
	}
	return ""
}

func TestScored_StrongIndicatorAlone(t *testing.T) {
	st := StatsigValidator()
	text := `client.statsig.checkGate("x")`
	// "statsig" and "statsig.checkGate" weigh 1 each, below threshold.
	if got := st.Score(text); got >= st.Threshold {
		t.Fatalf("fixture too strong: score %v", got)
	}
	if !st.Validate(text) {
		t.Error("statsig.checkGate alone not accepted")
	}

	ad := AdobeTargetValidator()
	text = "<script>var s = 'x.tt.omtrdc.net';</script>"
	if got := ad.Score(text); got != 2 {
		t.Fatalf("adobe score: got %v, want 2", got)
	}
	if !ad.Validate(text) {
		t.Error(".tt.omtrdc.net alone not accepted")
	}
}

func TestScored_ThresholdWithoutStrong(t *testing.T) {
	ad := AdobeTargetValidator()
	text := "at.js mbox.js serverState tgt"
	if got := ad.Score(text); got != 3.5 {
		t.Fatalf("score: got %v, want 3.5", got)
	}
	if !ad.Validate(text) {
		t.Error("score above threshold rejected")
	}
	if ad.Validate("tgt vpc") {
		t.Error("weak indicators accepted")
	}
}

func TestAnyOf(t *testing.T) {
	v := AnyOf{"utag", "tiqcdn"}
	if !v.Validate("window.utag.view()") || v.Validate("nothing") {
		t.Error("AnyOf mismatch")
	}
}

func TestRegistry_Identify(t *testing.T) {
	reg := Default()
	text := `{"user_id":"u-123","hash_used":"djb2","statsig_stable_id":"abc"}`
	got := reg.Identify("Statsig", text)
	if len(got) != 3 {
		t.Fatalf("methods: got %+v", got)
	}
	for _, m := range got {
		if strings.Contains(m.HashMethod+m.Type, "u-123") || strings.Contains(m.HashMethod, "abc") {
			t.Errorf("identifier value leaked: %+v", m)
		}
	}
	if got[2].Type != HashMethod || got[2].HashMethod != "djb2" {
		t.Errorf("hash method: got %+v", got[2])
	}
	if reg.Identify("vwo", text) != nil {
		t.Error("vwo has no identification patterns")
	}
}

func TestRegistry_Tables(t *testing.T) {
	reg := Default()
	if n := len(reg.Platforms()); n != 12 {
		t.Errorf("platforms: got %d", n)
	}
	if got := reg.TagManagers()[1].Name; got != "Google Tag Manager" {
		t.Errorf("tag manager order: got %q", got)
	}
	if got := reg.Display("abtasty"); got != "AB Tasty" {
		t.Errorf("Display: got %q", got)
	}
	if got := reg.Display("kameleoon"); got != "Kameleoon" {
		t.Errorf("Display unknown: got %q", got)
	}

	ps := reg.Platforms()
	ps[0].Key = "mutated"
	if reg.Platforms()[0].Key != "eppo" {
		t.Error("registry mutated through accessor")
	}
}

func TestPlatformPatterns_WordBoundary(t *testing.T) {
	reg := Default()
	var vwo Platform
	for _, p := range reg.Platforms() {
		if p.Key == "vwo" {
			vwo = p
		}
	}
	if vwo.Pattern.MatchString("vwowidget") {
		t.Error("vwo matched inside a word")
	}
	if !vwo.Pattern.MatchString("window._vwo_code; VWO.init()") {
		t.Error("VWO not matched")
	}
}

func TestGenericPatterns(t *testing.T) {
	reg := Default()
	text := `{"featureFlag":"dark_mode","flag_key":"beta"}`
	var ids []string
	for _, g := range reg.GenericPatterns() {
		for _, m := range g.Pattern.FindAllStringSubmatch(text, -1) {
			if g.Type == finding.TypeFeatureFlag {
				ids = append(ids, m[1])
			}
		}
	}
	if strings.Join(ids, ",") != "dark_mode,beta" {
		t.Errorf("feature flags: got %v", ids)
	}
}

func TestParse(t *testing.T) {
	data := []byte(`
platforms:
  - key: kameleoon
    pattern: 'kameleoon'
tag_managers:
  - name: Piwik PRO
    patterns: ['containers\.piwik\.pro']
    any_of: ['piwik']
keywords: [holdout]
loaders:
  - platform: kameleoon
    fragments: [kameleoon.eu]
`)
	x, err := Parse(data)
	if err != nil {
		t.Fatal(err)
	}
	reg := Default().With(x)
	ps := reg.Platforms()
	if last := ps[len(ps)-1]; last.Key != "kameleoon" || last.Display != "Kameleoon" {
		t.Errorf("platform: got %+v", last)
	}
	if !ps[len(ps)-1].Pattern.MatchString("KAMELEOON.run()") {
		t.Error("extra pattern not case-insensitive")
	}
	tms := reg.TagManagers()
	if last := tms[len(tms)-1]; last.Name != "Piwik PRO" || last.Category != finding.CategoryTagManager {
		t.Errorf("tag manager: got %+v", last)
	}
	if len(Default().TagManagers()) != 5 {
		t.Error("With altered the default registry")
	}
	ls := reg.Loaders()
	if ls[len(ls)-1].Source != "Dynamically loaded kameleoon" {
		t.Errorf("loader source: got %q", ls[len(ls)-1].Source)
	}
}

func TestParse_Errors(t *testing.T) {
	cases := []string{
		"platforms: [{key: x}]",
		"tag_managers: [{name: y, patterns: ['(']}]",
		"loaders: [{platform: z}]",
		"platforms: not-a-list",
	}
	for _, c := range cases {
		if _, err := Parse([]byte(c)); err == nil {
			t.Errorf("Parse(%q): want error", c)
		}
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "extra.yaml")
	if err := os.WriteFile(path, []byte("keywords: [holdout]\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	x, err := LoadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(x.Keywords) != 1 {
		t.Errorf("keywords: got %v", x.Keywords)
	}
	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("missing file: want error")
	}
}
