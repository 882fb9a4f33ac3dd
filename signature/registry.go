package signature

import (
	"regexp"
	"slices"
	"strings"
	"sync"

	"github.com/hazyhaar/expscope/finding"
	"github.com/hazyhaar/expscope/internal/textmatch"
)

// Registry is the immutable set of detection tables. Accessors return
// copies; callers can never alter a registry in place.
type Registry struct {
	platforms   []Platform
	tagManagers []Tool
	analytics   []Tool
	extractors  []Extractor
	userID      map[string][]UserIDPattern
	keywords    []string
	generic     []GenericPattern
	loaders     []Loader
}

var (
	defaultOnce sync.Once
	defaultReg  *Registry
)

// Default returns the built-in registry. It is built on first use and
// shared afterwards.
func Default() *Registry {
	defaultOnce.Do(func() {
		defaultReg = &Registry{
			platforms:   builtinPlatforms(),
			tagManagers: builtinTagManagers(),
			analytics:   builtinAnalytics(),
			extractors:  builtinExtractors(),
			userID:      builtinUserID(),
			keywords:    builtinKeywords(),
			generic:     builtinGeneric(),
			loaders:     builtinLoaders(),
		}
	})
	return defaultReg
}

// Platforms returns the platform name patterns in detection order.
func (r *Registry) Platforms() []Platform { return slices.Clone(r.platforms) }

// TagManagers returns the tag manager signatures in detection order.
func (r *Registry) TagManagers() []Tool { return slices.Clone(r.tagManagers) }

// Analytics returns the analytics tool signatures in detection order.
func (r *Registry) Analytics() []Tool { return slices.Clone(r.analytics) }

// Extractors returns the inline-script extractors in run order.
func (r *Registry) Extractors() []Extractor { return slices.Clone(r.extractors) }

// Keywords returns the generic experimentation vocabulary.
func (r *Registry) Keywords() []string { return slices.Clone(r.keywords) }

// GenericPatterns returns the platform-agnostic experiment field patterns.
func (r *Registry) GenericPatterns() []GenericPattern { return slices.Clone(r.generic) }

// Loaders returns the loader fragments watched after the initial scan.
func (r *Registry) Loaders() []Loader { return slices.Clone(r.loaders) }

// Display returns the display name of a platform key, or the key with its
// first letter upper-cased when the key is unknown.
func (r *Registry) Display(key string) string {
	for _, p := range r.platforms {
		if strings.EqualFold(p.Key, key) {
			return p.Display
		}
	}
	return finding.Capitalize(key)
}

// UserIDPatterns returns the identification patterns of a platform.
func (r *Registry) UserIDPatterns(platform string) []UserIDPattern {
	return slices.Clone(r.userID[strings.ToLower(platform)])
}

// Identify runs the identification patterns of platform over text and
// returns the methods present, in pattern order. Identifier values are
// dropped; only the hash method keeps its capture. It returns nil when
// the platform has no patterns or none matched.
func (r *Registry) Identify(platform, text string) []finding.IdentificationMethod {
	var out []finding.IdentificationMethod
	for _, p := range r.userID[strings.ToLower(platform)] {
		m, ok := textmatch.First(p.Pattern, text)
		if !ok {
			continue
		}
		im := finding.IdentificationMethod{Type: p.Method, Present: true}
		if p.Method == HashMethod {
			im.HashMethod = m.Group(1)
		}
		out = append(out, im)
	}
	return out
}

// With returns a new registry holding r's tables followed by the entries
// of extra. Built-in entries keep precedence since they come first.
func (r *Registry) With(extra *Extra) *Registry {
	if extra == nil {
		return r
	}
	n := &Registry{
		platforms:   append(slices.Clone(r.platforms), extra.Platforms...),
		tagManagers: append(slices.Clone(r.tagManagers), extra.TagManagers...),
		analytics:   append(slices.Clone(r.analytics), extra.Analytics...),
		extractors:  slices.Clone(r.extractors),
		userID:      make(map[string][]UserIDPattern, len(r.userID)),
		keywords:    append(slices.Clone(r.keywords), extra.Keywords...),
		generic:     slices.Clone(r.generic),
		loaders:     append(slices.Clone(r.loaders), extra.Loaders...),
	}
	for k, v := range r.userID {
		n.userID[k] = slices.Clone(v)
	}
	return n
}

func ci(expr string) *regexp.Regexp { return regexp.MustCompile(`(?i)` + expr) }

func word(expr string) *regexp.Regexp { return ci(`\b(?:` + expr + `)\b`) }

func res(exprs ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(exprs))
	for i, e := range exprs {
		out[i] = regexp.MustCompile(e)
	}
	return out
}

func builtinPlatforms() []Platform {
	return []Platform{
		{Key: "eppo", Display: "Eppo", Pattern: word(`eppo|eppo[_-]client|eppo[_-]sdk`)},
		{Key: "statsig", Display: "Statsig", Pattern: word(`statsig|statsig[_-]sdk|statsig[_-]client`)},
		{Key: "optimizely", Display: "Optimizely", Pattern: word(`optimizely|optimizely[_-]experiment|optimizely[_-]client`)},
		{Key: "vwo", Display: "VWO", Pattern: word(`vwo|visual[_-]website[_-]optimizer|vwo[_-]code`)},
		{Key: "googleOptimize", Display: "Google Optimize", Pattern: word(`google[_-]optimize|optimize\.google`)},
		{Key: "launchDarkly", Display: "LaunchDarkly", Pattern: word(`launchdarkly|ld[_-]client`)},
		{Key: "split", Display: "Split.io", Pattern: word(`split\.io|splitio|split[_-]sdk`)},
		{Key: "amplitude", Display: "Amplitude", Pattern: word(`amplitude|amplitude[_-]sdk`)},
		{Key: "abtasty", Display: "AB Tasty", Pattern: word(`abtasty|ab[_-]tasty`)},
		{Key: "convert", Display: "Convert.com", Pattern: word(`convert\.com|convert[_-]experiments`)},
		{Key: "adobe", Display: "Adobe Target", Pattern: word(`adobe[_-]target|at\.js|mbox\.js|tt\.omtrdc\.net`)},
		{Key: "growthbook", Display: "GrowthBook", Pattern: word(`growthbook|gb[_-]experiment|growthbook[_-]sdk`)},
	}
}

func builtinTagManagers() []Tool {
	tm := finding.CategoryTagManager
	return []Tool{
		{
			Name:     "Adobe Launch",
			Category: tm,
			Patterns: res(
				`assets\.adobedtm\.com/launch-[A-Za-z0-9]+\.min\.js`,
				`launch-[A-Za-z0-9-]+\.min\.js`,
				`_satellite\.track`,
				`digitalData`,
			),
			Validate: AnyOf{"_satellite", "adobedtm.com"},
		},
		{
			Name:     "Google Tag Manager",
			Category: tm,
			Patterns: res(
				`googletagmanager\.com/gtm\.js`,
				`gtm\.js\?id=`,
				`dataLayer\s*=\s*\[\]`,
				`gtag\(`,
			),
			Validate: AnyOf{"dataLayer", "gtag"},
		},
		{
			Name:     "Tealium",
			Category: tm,
			Patterns: res(`tags\.tiqcdn\.com`, `utag\.js`, `utag\.view`, `utag\.data`),
			Validate: AnyOf{"utag"},
		},
		{
			Name:     "Segment",
			Category: tm,
			Patterns: res(
				`cdn\.segment\.com/analytics\.js`,
				`analytics\.load`,
				`analytics\.page`,
				`analytics\.track`,
			),
			Validate: AnyOf{"analytics.load", "analytics.track"},
		},
		{
			Name:     "Ensighten",
			Category: tm,
			Patterns: res(`nexus\.ensighten\.com`, `Bootstrap\.js`, `Bootstrapper\.js`),
			Validate: AnyOf{"ensighten"},
		},
	}
}

func builtinAnalytics() []Tool {
	an := finding.CategoryAnalytics
	return []Tool{
		{
			Name:     "Adobe Analytics",
			Category: an,
			Patterns: res(`s\.t\(\)`, `s\.tl\(\)`, `AppMeasurement\.js`, `sc\.omtrdc\.net`, `s_code\.js`),
			Validate: AnyOf{"s.t()", "AppMeasurement"},
		},
		{
			Name:     "Google Analytics",
			Category: an,
			Patterns: res(
				`google-analytics\.com/analytics\.js`,
				`ga\('send'`,
				`gtag\('config'`,
				`UA-[0-9]+-[0-9]+`,
				`G-[A-Z0-9]+`,
			),
			Validate: AnyOf{"ga(", "gtag("},
		},
		{
			Name:     "Mixpanel",
			Category: an,
			Patterns: res(`mixpanel\.track`, `cdn\.mxpnl\.com`, `mixpanel\.init`),
			Validate: AnyOf{"mixpanel"},
		},
		{
			Name:     "Amplitude",
			Category: an,
			Patterns: res(`amplitude\.getInstance`, `api\.amplitude\.com`, `amplitude\.init`),
			Validate: AnyOf{"amplitude"},
		},
	}
}

// StatsigSDKPair matches the sdkType/sdkVersion pair that server-side
// Statsig SDKs emit into bootstrapped pages.
var StatsigSDKPair = regexp.MustCompile(`"sdkType"\s*:\s*"statsig-[^"]+"\s*,\s*"sdkVersion"\s*:\s*"[^"]+"`)

// StatsigValidator is the scored script validator for Statsig.
// Server-SDK indicators weigh 3, other SDK-named indicators 2, the rest 1.
func StatsigValidator() Scored {
	return Scored{
		Indicators: []Indicator{
			Lit("statsig", 1),
			Lit("StatsigClient", 1),
			Lit("statsig-node-sdk", 2),
			Lit("statsig-node", 3),
			Lit("WebAnonymousCookieID", 1),
			Lit("statsig.initialize", 1),
			Lit("statsig.checkGate", 1),
			Lit("statsig.getExperiment", 1),
			Lit("statsig.getConfig", 1),
			Lit("statsig.getLayer", 1),
			Lit("__STATSIG_METADATA__", 1),
			Lit("statsig_stable_id", 1),
			Lit("statsig_id", 1),
			Lit("StatsigProvider", 1),
			Lit("useStatsig", 1),
			Lit("sdkType", 3),
			Lit("sdkVersion", 2),
			Lit("statsig_updates", 1),
			Lit("generator", 3),
			Lit("statsig_server_sdk", 3),
			{Pattern: StatsigSDKPair, Weight: 5},
			Re(`"statsig_updates"|"generator"|"statsig-node-sdk"|"sdkInfo"`, 4),
		},
		Threshold: 3,
		Strong: []Indicator{
			Lit("statsig.initialize", 0),
			Lit("statsig.checkGate", 0),
			Lit("StatsigProvider", 0),
			{Pattern: StatsigSDKPair},
		},
	}
}

// AdobeTargetValidator is the scored script validator for Adobe Target.
func AdobeTargetValidator() Scored {
	strong := []Indicator{
		Lit(".tt.omtrdc.net", 2),
		Re(`mbox(?:Create|Define|Update)\s*\(`, 2),
		Re(`\.target\.(?:getOffer|applyOffer)\b`, 2),
		Lit("targetGlobalSettings", 2),
	}
	return Scored{
		Indicators: append(slices.Clone(strong),
			Lit("at.js", 1),
			Lit("mbox.js", 1),
			Re(`mbox(?:PC|Session)\b`, 1),
			Lit("serverState", 1),
			Lit("mboxDefault", 1),
			Re(`\btgt1?\b`, 0.5),
			Re(`\bvpc\b`, 0.5),
		),
		Threshold: 2.5,
		Strong:    strong,
	}
}

func builtinExtractors() []Extractor {
	return []Extractor{
		{
			Platform: "eppo",
			Display:  "Eppo",
			Kind:     ExtractRegexGroups,
			Pattern:  regexp.MustCompile(`(?:get(?:Boolean|String|Numeric|JSON)Assignment\(\s*["']([^"']+)["']|["']flag_key["']\s*:\s*["']([^"']+)["'])`),
			Validate: AnyOf{"eppo", "eppo_client", "EppoClient", "eppo-server-sdk", "eppo-client-sdk"},
			Type:     finding.TypeFeatureFlag,
			IDGroups: []int{1, 2},
		},
		{
			Platform: "statsig",
			Display:  "Statsig",
			Kind:     ExtractDelimited,
			Pattern:  regexp.MustCompile(`(?:["']([^"':]+):(\d+(?:\.\d+)?):(\d+)["']|"feature_gates":\[\{[^}]+\}\]|"statsig_stable_id"|statsig\.checkGate\(["']([^"']+)["']\)|statsig\.getExperiment\(["']([^"']+)["']\)|"sdkType"\s*:\s*"statsig-[^"]+"|"sdkVersion"\s*:\s*"[^"]+")`),
			Validate: StatsigValidator(),
			Type:     finding.TypeFeatureGate,
		},
		{
			Platform:       "optimizely",
			Display:        "Optimizely",
			Kind:           ExtractRegexGroups,
			Pattern:        regexp.MustCompile(`["']experimentId["']\s*:\s*["']([^"']+)["'].*?["']variationName["']\s*:\s*["']([^"']+)["']`),
			Validate:       AnyOf{"optimizely"},
			Type:           finding.TypeExperiment,
			IDGroups:       []int{1},
			VariationGroup: 2,
			NameFormat:     "Experiment %s",
		},
		{
			Platform:       "abtasty",
			Display:        "AB Tasty",
			Kind:           ExtractJSONAssignment,
			Pattern:        regexp.MustCompile(`ABTasty\.getTestsOnPage\(\)|_abtasty\.tests|ABTastyData\s*=\s*(\{[^}]+\})`),
			Validate:       AnyOf{"abtasty", "ABTasty"},
			Type:           finding.TypeExperiment,
			Assignment:     regexp.MustCompile(`ABTastyData\s*=\s*`),
			NameField:      "name",
			VariationField: "variationName",
			NameFormat:     "Test %s",
		},
		{
			Platform:       "convert",
			Display:        "Convert.com",
			Kind:           ExtractJSONAssignment,
			Pattern:        regexp.MustCompile(`convert\.currentData|_conv_q\.push|data-conv-variation|convert\.experiments`),
			Validate:       AnyOf{"convert.com", "_conv_q"},
			Type:           finding.TypeExperiment,
			Assignment:     regexp.MustCompile(`convert\.currentData\s*=\s*`),
			Container:      "experiments",
			NameField:      "name",
			VariationField: "variation_name",
			NameFormat:     "Experiment %s",
		},
		{
			Platform: "adobe",
			Display:  "Adobe Target",
			Kind:     ExtractRegexGroups,
			Pattern:  regexp.MustCompile(`(?:mboxCreate\(['"]([^'"]+)['"]\)|(?:adobe|window)\.target\.getOffer\([^)]*["']([^'"]+)["']\)|tgt:([^,}]+))`),
			Validate: AdobeTargetValidator(),
			Type:     finding.TypeExperiment,
			// The tgt: group carries session tokens, never a location name.
			IDGroups: []int{1, 2},
		},
	}
}

func quotedField(key string) *regexp.Regexp {
	return regexp.MustCompile(`["']` + key + `["']\s*:\s*["']([^"']+)["']`)
}

func builtinUserID() map[string][]UserIDPattern {
	visitorID := quotedField(`visitor_id`)
	return map[string][]UserIDPattern{
		"eppo": {
			{"userID", quotedField(`subject_?key`)},
			{"userProps", regexp.MustCompile(`["']user_?properties["']\s*:\s*(\{[^}]+\})`)},
			{"defaultValue", regexp.MustCompile(`["']default_?value["']\s*:\s*([^,}\s]+)`)},
			{"sdkKey", regexp.MustCompile(`eppo_client\.init\(\s*["']([^"']+)["']`)},
		},
		"statsig": {
			{"userID", quotedField(`user_id`)},
			{"stableID", quotedField(`statsig_stable_id`)},
			{"cookieID", regexp.MustCompile(`WebAnonymousCookieID\s*=\s*["']([^"']+)["']`)},
			{HashMethod, quotedField(`hash_used`)},
		},
		"optimizely": {
			{"userID", quotedField(`optimizelyEndUserId`)},
			{"visitorID", visitorID},
			{"bucketingID", quotedField(`bucketing_id`)},
		},
		"convert": {
			{"userID", regexp.MustCompile(`convert_temp_user\s*=\s*["']([^"']+)["']`)},
			{"visitorID", visitorID},
		},
		"abtasty": {
			{"visitorID", regexp.MustCompile(`ABTasty\.getVisitorID\(\)`)},
			{"userID", visitorID},
		},
		"adobe": {
			{"mboxPC", regexp.MustCompile(`mbox(?:PC|Session)\s*=\s*["']([^"']+)["']`)},
			{"visitorID", regexp.MustCompile(`visitor\.marketingCloudVisitorID`)},
			{"targetPageParams", regexp.MustCompile(`targetPageParams\s*=\s*function\s*\(\s*\)\s*\{([^}]+)\}`)},
		},
	}
}

func builtinKeywords() []string {
	return []string{
		"experiment",
		"test",
		"variant",
		"group",
		"treatment",
		"control",
		"feature",
		"rollout",
		"forced",
		"ab test",
		"a/b test",
	}
}

func builtinGeneric() []GenericPattern {
	return []GenericPattern{
		{finding.TypeExperiment, ci(`["'](?:experiment(?:Id|Name|Key)|ab_test|test(?:Id|Name|Key))["']\s*:\s*["']([^"']+)["']`)},
		{finding.TypeVariant, ci(`["'](?:variant(?:Id|Name)|variation|group)["']\s*:\s*["']([^"']+)["']`)},
		{finding.TypeFeatureFlag, ci(`["'](?:feature_?(?:flag|gate)|flag_?key|gate_?name)["']\s*:\s*["']([^"']+)["']`)},
		{finding.TypeTreatment, ci(`["'](?:treatment|bucket)["']\s*:\s*["']([^"']+)["']`)},
	}
}

func builtinLoaders() []Loader {
	return []Loader{
		{Platform: "adobe", Fragments: []string{"at.js", "mbox.js", ".tt.omtrdc.net"}, Source: "Dynamically loaded Adobe Target"},
		{Platform: "optimizely", Fragments: []string{"cdn.optimizely.com"}, Source: "Dynamically loaded Optimizely"},
		{Platform: "vwo", Fragments: []string{"dev.visualwebsiteoptimizer.com"}, Source: "Dynamically loaded VWO"},
	}
}
