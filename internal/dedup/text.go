package dedup

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// boilerplateSelector matches elements that carry navigation chrome rather
// than article content.
const boilerplateSelector = "script, style, nav, header, footer, aside"

// ExtractText pulls plain text out of an HTML document for fingerprinting,
// with boilerplate elements removed and whitespace collapsed to single
// spaces. Malformed HTML degrades to whatever text goquery can recover; it
// never fails.
func ExtractText(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return collapseWhitespace(html)
	}
	doc.Find(boilerplateSelector).Remove()

	var text string
	if body := doc.Find("body"); body.Length() > 0 {
		text = body.Text()
	} else {
		text = doc.Text()
	}
	return collapseWhitespace(text)
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
