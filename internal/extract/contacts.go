// Package extract pulls contact details and social profiles out of a
// rendered page.
package extract

import (
	"net/url"
	"regexp"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/siteminer/siteminer/internal/crawl"
)

// socialDomains are the hosts treated as social profiles. A link matches
// on the exact host or any subdomain of it.
var socialDomains = map[string]struct{}{
	"twitter.com":     {},
	"x.com":           {},
	"facebook.com":    {},
	"fb.com":          {},
	"instagram.com":   {},
	"linkedin.com":    {},
	"youtube.com":     {},
	"youtu.be":        {},
	"pinterest.com":   {},
	"tiktok.com":      {},
	"snapchat.com":    {},
	"reddit.com":      {},
	"tumblr.com":      {},
	"whatsapp.com":    {},
	"wa.me":           {},
	"t.me":            {},
	"telegram.me":     {},
	"discord.gg":      {},
	"discord.com":     {},
	"medium.com":      {},
	"github.com":      {},
	"threads.net":     {},
	"mastodon.social": {},
}

var (
	emailPattern = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)
	phonePattern = regexp.MustCompile(`(\+?\d{1,3}[-.\s]?)?\(?\d{3}\)?[-.\s]?\d{3}[-.\s]?\d{4,}`)
)

// Contacts is the contact surface found on one page.
type Contacts struct {
	Emails      []string `json:"emails"`
	Phones      []string `json:"phone_numbers"`
	SocialLinks []string `json:"social_links"`
}

// FromPage scans the page's anchors and visible text for email
// addresses, phone numbers, and social-profile links. Output slices are
// deduplicated and sorted.
func FromPage(page crawl.Page) Contacts {
	emails := map[string]struct{}{}
	phones := map[string]struct{}{}
	socials := map[string]struct{}{}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page.HTML))
	if err == nil {
		doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
			href, _ := sel.Attr("href")
			href = strings.TrimSpace(href)
			switch {
			case strings.HasPrefix(href, "mailto:"):
				addr := strings.SplitN(strings.TrimPrefix(href, "mailto:"), "?", 2)[0]
				if decoded, decErr := url.QueryUnescape(addr); decErr == nil {
					addr = decoded
				}
				if isEmail(addr) {
					emails[addr] = struct{}{}
				}
			case strings.HasPrefix(href, "tel:"):
				if num := strings.TrimSpace(strings.TrimPrefix(href, "tel:")); num != "" {
					phones[num] = struct{}{}
				}
			case isSocialLink(href):
				socials[href] = struct{}{}
			}
		})
	}

	for _, m := range emailPattern.FindAllString(page.Text, -1) {
		emails[m] = struct{}{}
	}
	for _, m := range phonePattern.FindAllString(page.Text, -1) {
		if m = strings.TrimSpace(m); m != "" {
			phones[m] = struct{}{}
		}
	}

	return Contacts{
		Emails:      sortedKeys(emails),
		Phones:      sortedKeys(phones),
		SocialLinks: sortedKeys(socials),
	}
}

func isEmail(s string) bool {
	m := emailPattern.FindString(s)
	return m == s && s != ""
}

// isSocialLink matches http(s) links whose host, with any leading www.
// stripped, is one of the social domains or a subdomain of one.
func isSocialLink(href string) bool {
	if !strings.HasPrefix(href, "http://") && !strings.HasPrefix(href, "https://") {
		return false
	}
	u, err := url.Parse(href)
	if err != nil {
		return false
	}
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	if host == "" {
		return false
	}
	for domain := range socialDomains {
		if host == domain || strings.HasSuffix(host, "."+domain) {
			return true
		}
	}
	return false
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
