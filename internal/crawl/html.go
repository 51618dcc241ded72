package crawl

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// ParseDocument parses raw markup into a goquery document.
func ParseDocument(html string) (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return doc, nil
}

// ExtractText returns the visible text of a document with script, style
// and noscript content removed and whitespace collapsed.
func ExtractText(doc *goquery.Document) string {
	doc.Find("script, style, noscript").Remove()
	body := doc.Find("body")
	var raw string
	if body.Length() > 0 {
		raw = body.Text()
	} else {
		raw = doc.Text()
	}
	return strings.Join(strings.Fields(raw), " ")
}

// ExtractLinks returns every anchor href resolved against pageURL,
// normalized and de-duplicated. Links that do not resolve to an absolute
// http(s) URL are skipped.
func ExtractLinks(doc *goquery.Document, pageURL string) []string {
	seen := make(map[string]struct{})
	var links []string
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, ok := sel.Attr("href")
		if !ok || strings.TrimSpace(href) == "" {
			return
		}
		resolved, err := ResolveLink(pageURL, href)
		if err != nil {
			return
		}
		if _, dup := seen[resolved]; dup {
			return
		}
		seen[resolved] = struct{}{}
		links = append(links, resolved)
	})
	return links
}
