package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
)

// oembedEndpoint is overridable for tests.
var oembedEndpoint = "https://publish.twitter.com/oembed"

// OEmbedResponse is the subset of the Twitter oEmbed payload we consume.
type OEmbedResponse struct {
	HTML         string `json:"html"`
	AuthorName   string `json:"author_name"`
	AuthorURL    string `json:"author_url"`
	ProviderName string `json:"provider_name"`
	Type         string `json:"type"`
	URL          string `json:"url"`
}

func (c *Client) fetchTwitterOEmbed(ctx context.Context, tweetURL string) (*OEmbedResponse, error) {
	endpoint := fmt.Sprintf("%s?url=%s&omit_script=1&lang=en", oembedEndpoint, url.QueryEscape(tweetURL))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch: build oembed request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch: twitter oembed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, tweetURL)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{Code: resp.StatusCode, URL: endpoint}
	}

	var oembed OEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&oembed); err != nil {
		return nil, fmt.Errorf("fetch: decode oembed: %w", err)
	}
	c.logger.Debug("fetched twitter oembed", "url", tweetURL, "author", oembed.AuthorName)
	return &oembed, nil
}
