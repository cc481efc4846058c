package scraper

import "net/http"

// Identity is a browser fingerprint presented to the retailer: a user agent
// plus the client hint headers a real copy of that browser would send.
type Identity struct {
	Name        string
	UserAgent   string
	ClientHints map[string]string
}

func DefaultIdentities() []Identity {
	return []Identity{
		{
			Name:      "chrome-windows",
			UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/121.0.0.0 Safari/537.36",
			ClientHints: chromeHints(`"Not A(Brand";v="99", "Google Chrome";v="121", "Chromium";v="121"`, `"Windows"`),
		},
		{
			Name:      "chrome-macos",
			UserAgent: "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/121.0.0.0 Safari/537.36",
			ClientHints: chromeHints(`"Not A(Brand";v="99", "Google Chrome";v="121", "Chromium";v="121"`, `"macOS"`),
		},
		{
			// Firefox does not send client hints.
			Name:      "firefox-windows",
			UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:122.0) Gecko/20100101 Firefox/122.0",
		},
		{
			Name:      "chrome-linux",
			UserAgent: "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/121.0.0.0 Safari/537.36",
			ClientHints: chromeHints(`"Not A(Brand";v="99", "Google Chrome";v="121", "Chromium";v="121"`, `"Linux"`),
		},
		{
			Name:      "edge-windows",
			UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/121.0.0.0 Safari/537.36 Edg/121.0.0.0",
			ClientHints: chromeHints(`"Not A(Brand";v="99", "Microsoft Edge";v="121", "Chromium";v="121"`, `"Windows"`),
		},
	}
}

func chromeHints(brands, platform string) map[string]string {
	return map[string]string{
		"Sec-Ch-Ua":          brands,
		"Sec-Ch-Ua-Mobile":   "?0",
		"Sec-Ch-Ua-Platform": platform,
	}
}

// apply sets the navigation headers for this identity on req. Accept-Encoding
// is left to the transport so compressed bodies are decoded transparently.
func (id Identity) apply(req *http.Request, referer string) {
	h := req.Header
	h.Set("User-Agent", id.UserAgent)
	h.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,image/apng,*/*;q=0.8,application/signed-exchange;v=b3;q=0.7")
	h.Set("Accept-Language", "en-US,en;q=0.9,hi;q=0.8")
	h.Set("DNT", "1")
	h.Set("Upgrade-Insecure-Requests", "1")
	h.Set("Sec-Fetch-Dest", "document")
	h.Set("Sec-Fetch-Mode", "navigate")
	h.Set("Sec-Fetch-Site", "cross-site")
	h.Set("Sec-Fetch-User", "?1")
	h.Set("Cache-Control", "max-age=0")
	if referer != "" {
		h.Set("Referer", referer)
	}
	for k, v := range id.ClientHints {
		h.Set(k, v)
	}
}
