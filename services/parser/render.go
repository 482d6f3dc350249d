package parser

import (
	"log"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const (
	transparentPixel = "data:image/gif;base64,R0lGODlhAQABAIAAAAAAAP///yH5BAEAAAAALAAAAAABAAEAAAIBRAA7"
	darkBaseStyle    = "html,body{background-color:#121212 !important;color:#e8e8e8 !important;}a{color:#8ab4f8 !important;}"
)

var darkStrippedProperties = map[string]struct{}{
	"color":            {},
	"background":       {},
	"background-color": {},
}

// Render prepares message HTML for display. Scripts and inline event
// handlers are always removed; noImages swaps image sources for a
// placeholder and darkMode drops author colours under a dark base style.
func Render(html string, noImages, darkMode bool) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		log.Printf("Error parsing message html: %v", err)
		return html
	}

	doc.Find("script").Remove()
	stripEventHandlers(doc)

	if noImages {
		blockImages(doc)
	}
	if darkMode {
		applyDarkMode(doc)
	}

	rendered, err := doc.Html()
	if err != nil {
		log.Printf("Error rendering message html: %v", err)
		return html
	}
	return rendered
}

func stripEventHandlers(doc *goquery.Document) {
	for _, node := range doc.Find("*").Nodes {
		kept := node.Attr[:0]
		for _, attr := range node.Attr {
			if strings.HasPrefix(strings.ToLower(attr.Key), "on") {
				continue
			}
			kept = append(kept, attr)
		}
		node.Attr = kept
	}
}

func blockImages(doc *goquery.Document) {
	doc.Find("img").Each(func(i int, img *goquery.Selection) {
		if src, ok := img.Attr("src"); ok && src != "" {
			img.SetAttr("data-original-src", src)
		}
		img.SetAttr("src", transparentPixel)
		img.RemoveAttr("srcset")
	})
}

func applyDarkMode(doc *goquery.Document) {
	doc.Find("[style]").Each(func(i int, s *goquery.Selection) {
		style := stripColorDeclarations(s.AttrOr("style", ""))
		if style == "" {
			s.RemoveAttr("style")
			return
		}
		s.SetAttr("style", style)
	})
	doc.Find("[bgcolor]").RemoveAttr("bgcolor")
	doc.Find("[color]").RemoveAttr("color")

	doc.Find("head").AppendHtml("<style data-dark-mode=\"true\">" + darkBaseStyle + "</style>")
}

func stripColorDeclarations(style string) string {
	var kept []string
	for _, declaration := range strings.Split(style, ";") {
		declaration = strings.TrimSpace(declaration)
		if declaration == "" {
			continue
		}
		property := declaration
		if idx := strings.Index(declaration, ":"); idx >= 0 {
			property = declaration[:idx]
		}
		if _, strip := darkStrippedProperties[strings.ToLower(strings.TrimSpace(property))]; strip {
			continue
		}
		kept = append(kept, declaration)
	}
	return strings.Join(kept, "; ")
}
