package scraper

import (
	"bytes"
	"net/http"
	"strings"

	"github.com/JakeFAU/spider-emissaries/internal/emissary"
)

var spaMarkers = [][]byte{
	[]byte("__next"),
	[]byte(`id="root"`),
	[]byte(`id="app"`),
	[]byte("data-reactroot"),
	[]byte("ng-version"),
}

// shouldPromote reports whether a probed page likely renders its text with
// scripts and needs a headless pass.
func shouldPromote(resp emissary.FetchResponse, text string, threshold int) bool {
	if resp.StatusCode != http.StatusOK || !isHTML(resp) {
		return false
	}
	if len(strings.TrimSpace(text)) >= threshold {
		return false
	}
	if len(resp.Body) == 0 || scriptDensityHigh(resp.Body) {
		return true
	}
	for _, marker := range spaMarkers {
		if bytes.Contains(resp.Body, marker) {
			return true
		}
	}
	return false
}

// scriptDensityHigh reports whether script elements cover at least a
// quarter of the document.
func scriptDensityHigh(body []byte) bool {
	lower := strings.ToLower(string(body))
	total := len(lower)
	if total == 0 {
		return false
	}

	const (
		openTag  = "<script"
		closeTag = "</script>"
	)
	coverage := 0
	pos := 0
	for {
		rel := strings.Index(lower[pos:], openTag)
		if rel == -1 {
			break
		}
		start := pos + rel
		tagClose := strings.IndexByte(lower[start:], '>')
		if tagClose == -1 {
			coverage += total - start
			break
		}
		contentStart := start + tagClose + 1
		relEnd := strings.Index(lower[contentStart:], closeTag)
		next := total
		if relEnd != -1 {
			next = contentStart + relEnd + len(closeTag)
		}
		coverage += next - start
		pos = next
	}
	return coverage*100/total >= 25
}

func isHTML(resp emissary.FetchResponse) bool {
	ct := strings.ToLower(resp.ContentType())
	if ct == "" {
		return bytes.Contains(bytes.ToLower(firstBytes(resp.Body, 512)), []byte("<html"))
	}
	return strings.Contains(ct, "html")
}

func firstBytes(b []byte, n int) []byte {
	if len(b) < n {
		return b
	}
	return b[:n]
}
