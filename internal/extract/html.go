package extract

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const htmlBlockSelector = "p,div,br,li,tr,h1,h2,h3,h4,h5,h6,pre,blockquote,section,article,header,footer,table"

// extractHTML returns the visible text of an HTML page. The title comes first; block
// elements end with a line break so paragraphs stay apart.
func extractHTML(content []byte) (string, error) {
	decoded, _ := decodeText(content)
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(decoded))
	if err != nil {
		return "", fmt.Errorf("parse HTML: %w", err)
	}
	doc.Find("script,style,noscript,template,svg").Remove()
	doc.Find(htmlBlockSelector).Each(func(_ int, s *goquery.Selection) {
		s.AfterHtml("\n\n")
	})
	doc.Find("td,th").Each(func(_ int, s *goquery.Selection) {
		s.AfterHtml(" ")
	})

	var b bytes.Buffer
	if title := strings.TrimSpace(doc.Find("title").First().Text()); title != "" {
		b.WriteString(title)
		b.WriteString("\n\n")
	}
	b.WriteString(doc.Find("body").Text())
	return b.String(), nil
}
