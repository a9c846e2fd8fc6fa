package htmlutil

import (
	"bytes"
	"net/url"
	"regexp"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

func GetText(node *html.Node) string {
	var buffer bytes.Buffer
	getTextRecursive(node, &buffer)
	return buffer.String()
}

func getTextRecursive(node *html.Node, buffer *bytes.Buffer) {
	if node == nil {
		return
	}
	if node.Type == html.TextNode {
		buffer.WriteString(node.Data)
		return
	}
	child := node.FirstChild
	for child != nil {
		getTextRecursive(child, buffer)
		child = child.NextSibling
	}
}

var innerWhitespace = regexp.MustCompile(`\s\s+`)

func removeNonPrintable(s string) string {
	newStr := strings.Builder{}
	for _, c := range s {
		if unicode.IsPrint(c) {
			newStr.WriteRune(c)
		}
	}
	return newStr.String()
}

// CleanText returns the text content of the selection with non printable
// characters stripped and runs of whitespace collapsed.
func CleanText(sel *goquery.Selection) string {
	var text strings.Builder
	for _, n := range sel.Nodes {
		text.WriteString(GetText(n))
	}
	out := removeNonPrintable(text.String())
	out = strings.TrimSpace(out)
	return innerWhitespace.ReplaceAllString(out, " ")
}

// ResolveUrl resolves href against base, an empty or unparsable href yields base.
func ResolveUrl(base *url.URL, href string) string {
	href = strings.TrimSpace(href)
	if href == "" {
		return base.String()
	}
	ref, err := url.Parse(href)
	if err != nil {
		return base.String()
	}
	return base.ResolveReference(ref).String()
}

// Attr returns the first value of an attribute that is present and non-empty
// among the given names.
func Attr(sel *goquery.Selection, names ...string) (string, bool) {
	for _, name := range names {
		value, ok := sel.Attr(name)
		value = strings.TrimSpace(value)
		if ok && value != "" {
			return value, true
		}
	}
	return "", false
}
