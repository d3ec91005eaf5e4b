// Package feature turns an archived HTML document into the weighted
// bag-of-words token multiset the SimHash primitive consumes.
package feature

import (
	"bytes"
	"sort"
	"strings"

	"golang.org/x/net/html"
)

// removedTags lists the elements whose text content must not
// contribute features. Only script and style are removed: the
// teacher additionally strips noscript/meta/img/audio/video, but
// none of those carry visible text content anyway except noscript,
// and dropping noscript text would discard content real browsers
// render when JavaScript is unavailable.
var removedTags = map[string]struct{}{
	"script": {},
	"style":  {},
}

// Extract parses htmlBytes leniently and returns a token→count map.
// It never fails: malformed markup, unknown encodings, and
// undecodable bytes all degrade to "best effort" rather than an
// error, per the extractor's contract.
func Extract(htmlBytes []byte) map[string]int {
	doc, err := html.Parse(bytes.NewReader(htmlBytes))
	if err != nil {
		return map[string]int{}
	}

	text := strings.ToLower(extractText(doc))
	text = stripPunctuation(text)
	tokens := strings.Fields(text)
	return countTokens(tokens)
}

// extractText walks the parse tree depth-first, concatenating the
// text of every TextNode not under a removed element and skipping
// comments entirely (html.CommentNode is its own node type, never
// visited as text).
func extractText(doc *html.Node) string {
	var buf bytes.Buffer
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			if _, skip := removedTags[n.Data]; skip {
				return
			}
		}
		if n.Type == html.TextNode {
			buf.WriteString(n.Data)
			buf.WriteByte(' ')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return buf.String()
}

// asciiPunctuation is the punctuation class spec.md §4.1 names;
// non-ASCII punctuation is preserved verbatim.
const asciiPunctuation = "!\"#$%&'()*+,-./:;<=>?@[\\]^_`{|}~"

var punctReplacer = buildPunctReplacer()

func buildPunctReplacer() *strings.Replacer {
	pairs := make([]string, 0, len(asciiPunctuation)*2)
	for _, r := range asciiPunctuation {
		pairs = append(pairs, string(r), " ")
	}
	return strings.NewReplacer(pairs...)
}

func stripPunctuation(s string) string {
	return punctReplacer.Replace(s)
}

func countTokens(tokens []string) map[string]int {
	sort.Strings(tokens)
	counts := make(map[string]int, len(tokens))
	for i := 0; i < len(tokens); {
		tok := tokens[i]
		j := i + 1
		for j < len(tokens) && tokens[j] == tok {
			j++
		}
		counts[tok] = j - i
		i = j
	}
	return counts
}
