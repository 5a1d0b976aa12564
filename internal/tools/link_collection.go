package tools

import (
	"context"
	"fmt"
)

const (
	// maxLinkQueries bounds how many blog queries one invocation may fan
	// out to.
	maxLinkQueries = 3
	// maxLinks caps the deduped links one invocation returns.
	maxLinks = 15
)

// linkCollection searches blogs for posts about a place and returns the
// deduped post URIs. An empty result set is a success.
func linkCollection(client *NaverClient) func(ctx context.Context, args map[string]interface{}) (map[string]interface{}, error) {
	return func(ctx context.Context, args map[string]interface{}) (map[string]interface{}, error) {
		place, _ := args["place"].(string)
		if place == "" {
			return nil, fmt.Errorf("place is empty")
		}
		queries := stringSlice(args["queries"])
		if len(queries) == 0 {
			queries = []string{place}
		}
		if len(queries) > maxLinkQueries {
			queries = queries[:maxLinkQueries]
		}
		limit := intArg(args["limit"], 0)

		seen := make(map[string]bool)
		links := make([]interface{}, 0)
		titles := make([]interface{}, 0)
		for _, query := range queries {
			posts, err := client.SearchBlog(ctx, query, limit)
			if err != nil {
				return nil, fmt.Errorf("link collection %q: %w", query, err)
			}
			for _, post := range posts {
				if post.Link == "" || seen[post.Link] {
					continue
				}
				seen[post.Link] = true
				links = append(links, post.Link)
				titles = append(titles, post.Title)
				if len(links) >= maxLinks {
					return map[string]interface{}{"place": place, "links": links, "titles": titles, "count": len(links)}, nil
				}
			}
		}
		return map[string]interface{}{"place": place, "links": links, "titles": titles, "count": len(links)}, nil
	}
}
