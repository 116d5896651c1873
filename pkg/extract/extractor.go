// Package extract pulls preview metadata out of page markup. It prefers
// Open Graph tags and falls back to conventional title/description elements.
package extract

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/ZhangHanDong/urlpreview/pkg/fetch"
)

var ErrNoContent = errors.New("extract: no usable content")

const (
	twitterSiteName = "X (formerly Twitter)"
	twitterFavicon  = "https://abs.twimg.com/favicons/twitter.ico"
)

// Extractor parses markup into Previews. Stateless and safe for concurrent use.
type Extractor struct{}

func NewExtractor() *Extractor {
	return &Extractor{}
}

// Extract builds a preview from the page at rawURL. Twitter pages get fixed
// site branding since their markup carries none of the usual meta tags.
func (e *Extractor) Extract(html, rawURL string) (*Preview, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("extract: parse document: %w", err)
	}

	if fetch.IsTwitterURL(rawURL) {
		return &Preview{
			URL:         rawURL,
			Title:       extractTitle(doc),
			Description: extractDescription(doc),
			ImageURL:    extractImage(doc),
			SiteName:    twitterSiteName,
			Favicon:     twitterFavicon,
		}, nil
	}

	base, err := hostBase(rawURL)
	if err != nil {
		return nil, err
	}

	return &Preview{
		URL:         rawURL,
		Title:       extractTitle(doc),
		Description: extractDescription(doc),
		ImageURL:    resolveURL(extractImage(doc), base),
		Favicon:     resolveURL(extractFavicon(doc), base),
		SiteName:    metaContent(doc, "meta[property='og:site_name']"),
	}, nil
}

// ExtractFromOEmbed builds a preview from a Twitter oEmbed HTML fragment.
// The fragment is a blockquote holding the tweet text, a t.co media link,
// and a trailing permalink whose text is the post date.
func (e *Extractor) ExtractFromOEmbed(oembedHTML string) (*Preview, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(oembedHTML))
	if err != nil {
		return nil, fmt.Errorf("extract: parse oembed: %w", err)
	}

	text := strings.TrimSpace(doc.Find("p").First().Text())
	if text == "" {
		return nil, ErrNoContent
	}

	var mediaLink string
	doc.Find("a").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		href, ok := sel.Attr("href")
		if ok && strings.Contains(href, "t.co") {
			mediaLink = href
			return false
		}
		return true
	})

	description := text
	if posted := strings.TrimSpace(doc.Find("a").Last().Text()); posted != "" {
		description = fmt.Sprintf("%s (Posted: %s)", text, posted)
	}

	return &Preview{
		Title:       text,
		Description: description,
		ImageURL:    mediaLink,
		SiteName:    twitterSiteName,
		Favicon:     twitterFavicon,
	}, nil
}

func extractTitle(doc *goquery.Document) string {
	if title := metaContent(doc, "meta[property='og:title']"); title != "" {
		return title
	}
	return strings.TrimSpace(doc.Find("title").First().Text())
}

func extractDescription(doc *goquery.Document) string {
	if desc := metaContent(doc, "meta[property='og:description']"); desc != "" {
		return desc
	}
	return metaContent(doc, "meta[name='description']")
}

func extractImage(doc *goquery.Document) string {
	return metaContent(doc, "meta[property='og:image'], meta[itemprop='image']")
}

func extractFavicon(doc *goquery.Document) string {
	href, _ := doc.Find("link[rel='icon'], link[rel='shortcut icon']").First().Attr("href")
	return strings.TrimSpace(href)
}

func metaContent(doc *goquery.Document, selector string) string {
	content, _ := doc.Find(selector).First().Attr("content")
	return strings.TrimSpace(content)
}

func hostBase(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("extract: parse url: %w", err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("extract: url %q has no host", rawURL)
	}
	return u.Scheme + "://" + u.Host, nil
}

// resolveURL turns a relative asset reference into an absolute one against
// the page's host.
func resolveURL(ref, base string) string {
	switch {
	case ref == "":
		return ""
	case strings.HasPrefix(ref, "http://"), strings.HasPrefix(ref, "https://"):
		return ref
	case strings.HasPrefix(ref, "//"):
		return "https:" + ref
	case strings.HasPrefix(ref, "/"):
		return base + ref
	default:
		return base + "/" + ref
	}
}
