package browser

import (
	"strings"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// blockSet is the set of resource types a tab refuses to load.
type blockSet map[proto.NetworkResourceType]bool

// configNames maps configuration names to CDP resource types.
var configNames = map[string]proto.NetworkResourceType{
	"images":      proto.NetworkResourceTypeImage,
	"fonts":       proto.NetworkResourceTypeFont,
	"media":       proto.NetworkResourceTypeMedia,
	"stylesheets": proto.NetworkResourceTypeStylesheet,
}

func newBlockSet(names []string) blockSet {
	s := make(blockSet, len(names))
	for _, n := range names {
		n = strings.ToLower(strings.TrimSpace(n))
		if n == "" {
			continue
		}
		t, ok := configNames[n]
		if !ok {
			// CDP spells types capitalised: "Image", "Ping", "Other".
			t = proto.NetworkResourceType(strings.ToUpper(n[:1]) + n[1:])
		}
		switch t {
		case proto.NetworkResourceTypeScript, proto.NetworkResourceTypeDocument:
			// Detection needs both.
			continue
		}
		s[t] = true
	}
	return s
}

// blockResources hijacks the tab's requests and fails the blocked types.
// The returned router must be stopped when the tab closes.
func blockResources(p *rod.Page, set blockSet) *rod.HijackRouter {
	router := p.HijackRequests()
	router.MustAdd("*", func(h *rod.Hijack) {
		if set[h.Request.Type()] {
			h.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
			return
		}
		h.ContinueRequest(&proto.FetchContinueRequest{})
	})
	go router.Run()
	return router
}
