package activity

import (
	"net/url"
	"strings"
)

// maxMediaDepth bounds how deeply nested url/href objects are followed.
const maxMediaDepth = 4

// ExtractMediaURL resolves a media reference to a single URL string. node may
// be a bare string, an object with url or href, an object whose url or href is
// itself such a reference, or a list whose first usable element is one.
func ExtractMediaURL(node any) (string, bool) {
	return extractMediaURL(node, 0)
}

func extractMediaURL(node any, depth int) (string, bool) {
	if depth > maxMediaDepth {
		return "", false
	}
	switch v := node.(type) {
	case string:
		s := strings.TrimSpace(v)
		return s, s != ""
	case map[string]any:
		for _, field := range []string{"url", "href"} {
			if ref, ok := v[field]; ok {
				if s, ok := extractMediaURL(ref, depth+1); ok {
					return s, true
				}
			}
		}
	case []any:
		for _, item := range v {
			if s, ok := extractMediaURL(item, depth+1); ok {
				return s, true
			}
		}
	}
	return "", false
}

// IsFetchableURL reports whether s is an absolute http(s) URL with a host.
func IsFetchableURL(s string) bool {
	if !strings.HasPrefix(s, "http://") && !strings.HasPrefix(s, "https://") {
		return false
	}
	u, err := url.Parse(s)
	return err == nil && u.Host != ""
}

// CollectMediaURLs walks the places an ActivityPub object references media:
// icon, image, attributedTo.icon, Emoji entries in attributedTo.tag,
// attachment and Emoji entries in tag. Only fetchable http(s) URLs are
// returned, deduplicated, in discovery order. Non-object documents yield nil.
func CollectMediaURLs(doc any) []string {
	obj, ok := doc.(map[string]any)
	if !ok {
		return nil
	}

	c := &mediaCollector{seen: make(map[string]struct{})}
	c.add(obj["icon"])
	c.add(obj["image"])

	if author, ok := obj["attributedTo"].(map[string]any); ok {
		c.add(author["icon"])
		c.addEmoji(author["tag"])
	}

	c.addAll(obj["attachment"])
	c.addEmoji(obj["tag"])
	return c.urls
}

type mediaCollector struct {
	urls []string
	seen map[string]struct{}
}

func (c *mediaCollector) add(node any) {
	if node == nil {
		return
	}
	s, ok := ExtractMediaURL(node)
	if !ok || !IsFetchableURL(s) {
		return
	}
	if _, dup := c.seen[s]; dup {
		return
	}
	c.seen[s] = struct{}{}
	c.urls = append(c.urls, s)
}

// addAll adds every element of a list, or node itself when it is a single
// reference.
func (c *mediaCollector) addAll(node any) {
	items, ok := node.([]any)
	if !ok {
		c.add(node)
		return
	}
	for _, item := range items {
		c.add(item)
	}
}

// addEmoji adds the icon of every tag entry whose type is Emoji.
func (c *mediaCollector) addEmoji(node any) {
	items, ok := node.([]any)
	if !ok {
		items = []any{node}
	}
	for _, item := range items {
		tag, ok := item.(map[string]any)
		if !ok || tag["type"] != "Emoji" {
			continue
		}
		c.add(tag["icon"])
	}
}
