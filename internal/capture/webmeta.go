package capture

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/html"
)

const metadataTimeout = 15 * time.Second

// PageMetadata fetches a page and pulls out the fields the catalog record
// carries: title, description, author, domain, and the access date. The
// page is parsed leniently; absent fields are simply missing from the map.
func PageMetadata(ctx context.Context, pageURL string) (map[string]string, error) {
	ctx, cancel := context.WithTimeout(ctx, metadataTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build metadata request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch page: unexpected status %d", resp.StatusCode)
	}

	root, err := html.Parse(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse page: %w", err)
	}

	meta := extractMetadata(root)
	meta["url"] = pageURL
	if d := DomainFromURL(pageURL); d != "" {
		meta["domain"] = d
	}
	meta["accessDate"] = accessDate(time.Now())
	return meta, nil
}

func extractMetadata(root *html.Node) map[string]string {
	meta := make(map[string]string)
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "title":
				if meta["title"] == "" {
					meta["title"] = strings.TrimSpace(textContent(n))
				}
			case "meta":
				name, content := attr(n, "name"), attr(n, "content")
				prop := attr(n, "property")
				switch {
				case name == "description" && meta["description"] == "":
					meta["description"] = strings.TrimSpace(content)
				case name == "author" && meta["author"] == "":
					meta["author"] = strings.TrimSpace(content)
				case prop == "og:title" && meta["title"] == "":
					meta["title"] = strings.TrimSpace(content)
				case prop == "og:description" && meta["description"] == "":
					meta["description"] = strings.TrimSpace(content)
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)

	for k, v := range meta {
		if v == "" {
			delete(meta, k)
		}
	}
	return meta
}

func textContent(n *html.Node) string {
	var b strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.TextNode {
			b.WriteString(c.Data)
		}
	}
	return b.String()
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}
