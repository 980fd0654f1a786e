package analyzers

import (
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/net/html"
)

var (
	ctaRx         = regexp.MustCompile(`(?i)\b(sign ?up|get started|start (your )?free|try (it )?(for )?free|free trial|buy( now)?|book a demo|request a demo|get a demo|contact sales|subscribe|join now|start now)\b`)
	testimonialRx = regexp.MustCompile(`(?i)testimonial|review|customer-stor|case-stud|quote`)
	trustRx       = regexp.MustCompile(`(?i)\b(trusted by|loved by|used by|customers? say|what our customers)\b`)
	fixedWidthRx  = regexp.MustCompile(`(?i)(?:^|[;\s])(?:min-)?width\s*:\s*(\d{3,5})px`)
)

// Signals are the page facts every capability scores from.
type Signals struct {
	Title            string
	MetaDescription  string
	H1Count          int
	WordCount        int
	Images           int
	ImagesMissingAlt int
	CTAs             int
	Forms            int
	Testimonials     int
	ContactLinks     int
	Viewport         string
	TouchIcon        bool
	WidestFixedPx    int
	Scripts          int
}

// Extract walks the document once and collects signals.
func Extract(doc *html.Node) Signals {
	var s Signals
	var text strings.Builder
	var traverse func(*html.Node, bool)
	traverse = func(n *html.Node, skipText bool) {
		switch n.Type {
		case html.TextNode:
			if !skipText {
				text.WriteString(n.Data)
				text.WriteString(" ")
			}
		case html.ElementNode:
			switch n.Data {
			case "script", "style", "noscript", "template":
				if n.Data == "script" {
					s.Scripts++
				}
				skipText = true
			case "title":
				if s.Title == "" {
					s.Title = strings.TrimSpace(textOf(n))
				}
			case "meta":
				switch strings.ToLower(attr(n, "name")) {
				case "description":
					s.MetaDescription = strings.TrimSpace(attr(n, "content"))
				case "viewport":
					s.Viewport = strings.ToLower(attr(n, "content"))
				}
			case "link":
				if strings.Contains(strings.ToLower(attr(n, "rel")), "apple-touch-icon") {
					s.TouchIcon = true
				}
			case "h1":
				s.H1Count++
			case "img":
				s.Images++
				if _, ok := attrOK(n, "alt"); !ok {
					s.ImagesMissingAlt++
				}
			case "form":
				s.Forms++
			case "a", "button":
				href := strings.ToLower(attr(n, "href"))
				if strings.HasPrefix(href, "mailto:") || strings.HasPrefix(href, "tel:") {
					s.ContactLinks++
				}
				if ctaRx.MatchString(textOf(n)) {
					s.CTAs++
				}
			}
			if testimonialRx.MatchString(attr(n, "class") + " " + attr(n, "id")) {
				s.Testimonials++
			}
			if style := attr(n, "style"); style != "" {
				for _, m := range fixedWidthRx.FindAllStringSubmatch(style, -1) {
					if px, err := strconv.Atoi(m[1]); err == nil && px > s.WidestFixedPx {
						s.WidestFixedPx = px
					}
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			traverse(c, skipText)
		}
	}
	traverse(doc, false)

	body := text.String()
	s.WordCount = len(strings.Fields(body))
	s.Testimonials += len(trustRx.FindAllString(body, -1))
	return s
}

func attr(n *html.Node, key string) string {
	v, _ := attrOK(n, key)
	return v
}

func attrOK(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, key) {
			return a.Val, true
		}
	}
	return "", false
}

// textOf extracts the text content of n.
func textOf(n *html.Node) string {
	var sb strings.Builder
	var traverse func(*html.Node)
	traverse = func(node *html.Node) {
		if node.Type == html.TextNode {
			sb.WriteString(node.Data)
			sb.WriteString(" ")
		}
		for c := node.FirstChild; c != nil; c = c.NextSibling {
			traverse(c)
		}
	}
	traverse(n)
	return strings.Join(strings.Fields(sb.String()), " ")
}
