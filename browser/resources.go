package browser

import (
	"strings"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// resourceAliases maps config names to DevTools resource types.
var resourceAliases = map[string]string{
	"images":      "image",
	"fonts":       "font",
	"media":       "media",
	"stylesheets": "stylesheet",
}

// blockResources intercepts the page's requests and fails any whose
// resource type is listed in kinds. Everything else passes through.
func blockResources(page *rod.Page, kinds []string) {
	blocked := make(map[string]bool, len(kinds))
	for _, k := range kinds {
		name := strings.ToLower(k)
		if cdp, ok := resourceAliases[name]; ok {
			name = cdp
		}
		blocked[name] = true
	}

	router := page.HijackRequests()
	router.MustAdd("*", func(h *rod.Hijack) {
		if blocked[strings.ToLower(string(h.Request.Type()))] {
			h.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
			return
		}
		h.ContinueRequest(&proto.FetchContinueRequest{})
	})
	go router.Run()
}
