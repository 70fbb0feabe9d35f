// Package scanner guesses order totals from short visible labels when a page
// exposes no structured amount data.
package scanner

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

const (
	maxCandidateRunes = 64
	rowSelector       = "tr, .order-item, .row, li, div"
)

var (
	TotalLabels    = []string{"total", "grand total", "amount due"}
	DiscountLabels = []string{"discount", "savings", "coupon", "promotion"}

	numberToken = regexp.MustCompile(`[-+]?\d[\d\s\x{00A0}\x{202F}.,]*`)
)

// Match is one guessed value.
type Match struct {
	Value string
	Label string
	Found bool
}

type Result struct {
	Total    Match
	Discount Match
}

// Func lets callers swap the scanner out.
type Func func(doc *goquery.Document) Result

// Scan never panics; a page without a recognizable label yields an empty Result.
func Scan(doc *goquery.Document) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			res = Result{}
		}
	}()
	if doc == nil {
		return Result{}
	}
	candidates := collect(doc)
	return Result{
		Total:    nearLabel(candidates, TotalLabels),
		Discount: nearLabel(candidates, DiscountLabels),
	}
}

type candidate struct {
	sel  *goquery.Selection
	text string
}

func collect(doc *goquery.Document) []candidate {
	var out []candidate
	doc.Find("body *").Each(func(_ int, s *goquery.Selection) {
		if hidden(s.Nodes[0]) {
			return
		}
		text := strings.TrimSpace(s.Text())
		if text == "" || utf8.RuneCountInString(text) > maxCandidateRunes {
			return
		}
		out = append(out, candidate{sel: s, text: strings.ToLower(text)})
	})
	return out
}

func nearLabel(candidates []candidate, labels []string) Match {
	for _, c := range candidates {
		for _, label := range labels {
			if !strings.Contains(c.text, label) {
				continue
			}
			row := c.sel.Closest(rowSelector)
			if row.Length() == 0 {
				continue
			}
			tokens := numberToken.FindAllString(row.Text(), -1)
			if len(tokens) == 0 {
				continue
			}
			return Match{Value: strings.TrimSpace(tokens[len(tokens)-1]), Label: label, Found: true}
		}
	}
	return Match{}
}

// hidden approximates computed visibility from markup alone: non-rendered tags,
// the hidden attribute and inline display/visibility styles, on the node or any
// ancestor.
func hidden(n *html.Node) bool {
	for cur := n; cur != nil && cur.Type == html.ElementNode; cur = cur.Parent {
		switch cur.DataAtom {
		case atom.Script, atom.Style, atom.Template, atom.Noscript, atom.Head:
			return true
		}
		for _, a := range cur.Attr {
			switch strings.ToLower(a.Key) {
			case "hidden":
				return true
			case "style":
				style := strings.ToLower(strings.Join(strings.Fields(a.Val), ""))
				if strings.Contains(style, "display:none") || strings.Contains(style, "visibility:hidden") {
					return true
				}
			}
		}
	}
	return false
}
