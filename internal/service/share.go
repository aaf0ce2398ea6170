package service

import (
	"fmt"
	"net/url"
	"strings"
)

// ShareLinks 对应文章底部的分享按钮
type ShareLinks struct {
	URL      string `json:"url"`
	Twitter  string `json:"twitter"`
	Facebook string `json:"facebook"`
	Copy     string `json:"copy"`
}

// BuildShareLinks builds the share targets for a post detail page.
func BuildShareLinks(baseURL, slug, title string) ShareLinks {
	postURL := strings.TrimRight(baseURL, "/") + "/posts/" + url.PathEscape(slug)
	text := fmt.Sprintf(`Check out this post: "%s"`, title)

	return ShareLinks{
		URL:      postURL,
		Twitter:  "https://twitter.com/intent/tweet?text=" + url.QueryEscape(text) + "&url=" + url.QueryEscape(postURL),
		Facebook: "https://www.facebook.com/sharer/sharer.php?u=" + url.QueryEscape(postURL),
		Copy:     text + " - " + postURL,
	}
}
