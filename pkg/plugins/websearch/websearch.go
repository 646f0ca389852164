// Package websearch implements the search_web tool against a Bing-style
// web search API.
package websearch

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/selune-dev/selune/pkg/tools"
)

const resultCount = 3

// RestrictionSource supplies domains the search is restricted to.
// *database.Store satisfies this.
type RestrictionSource interface {
	SiteRestrictions(ctx context.Context) ([]string, error)
}

// Searcher queries a Bing-style search endpoint.
type Searcher struct {
	endpoint     string
	apiKey       string
	httpClient   *http.Client
	restrictions RestrictionSource
}

// NewSearcher creates a Searcher. restrictions may be nil when no site
// restrictions are configured.
func NewSearcher(endpoint, apiKey string, restrictions RestrictionSource) *Searcher {
	return &Searcher{
		endpoint: endpoint,
		apiKey:   apiKey,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		restrictions: restrictions,
	}
}

type searchResponse struct {
	WebPages struct {
		Value []struct {
			Name    string `json:"name"`
			Snippet string `json:"snippet"`
			URL     string `json:"url"`
		} `json:"value"`
	} `json:"webPages"`
}

// SearchWeb runs the query and formats the top results as numbered lines.
// All failure modes come back as explanatory text.
func (s *Searcher) SearchWeb(ctx context.Context, query string, upToDate bool) string {
	if s.apiKey == "" {
		return "Web search is currently unavailable because no search API key was provided."
	}

	query = s.applyRestrictions(ctx, query)

	params := url.Values{}
	params.Set("q", query)
	params.Set("count", fmt.Sprintf("%d", resultCount))
	if upToDate {
		params.Set("sortby", "Date")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return fmt.Sprintf("Error during web search: %v", err)
	}
	req.Header.Set("Ocp-Apim-Subscription-Key", s.apiKey)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Sprintf("Error during web search: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Sprintf("Error during web search: search API returned status %d", resp.StatusCode)
	}

	var parsed searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return fmt.Sprintf("Error during web search: %v", err)
	}

	var lines []string
	for i, page := range parsed.WebPages.Value {
		lines = append(lines, fmt.Sprintf(
			"%d. content: %s, source_title: %s, source_url: %s",
			i+1, page.Snippet, page.Name, page.URL,
		))
	}
	return strings.Join(lines, "\n")
}

// applyRestrictions appends "site:" clauses so the engine only returns
// results from the configured domains.
func (s *Searcher) applyRestrictions(ctx context.Context, query string) string {
	if s.restrictions == nil {
		return query
	}

	urls, err := s.restrictions.SiteRestrictions(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to load site restrictions")
		return query
	}
	if len(urls) == 0 {
		return query
	}

	clauses := make([]string, 0, len(urls))
	for _, u := range urls {
		host := strings.TrimPrefix(strings.TrimPrefix(u, "https://"), "http://")
		clauses = append(clauses, "site:"+host)
	}
	return query + " " + strings.Join(clauses, " OR ")
}

// RegisterTools registers the search_web tool.
func RegisterTools(registry *tools.Registry, searcher *Searcher) error {
	return registry.Register(tools.Definition{
		Name:        "search_web",
		Description: "Search the web for relevant, current information",
		Parameters: []tools.Parameter{
			{Name: "query", Type: "string", Description: "The search query in concise terms", Required: true},
			{Name: "up_to_date", Type: "boolean", Description: "Whether up-to-date information is needed"},
		},
		Handler: func(ctx context.Context, args map[string]interface{}) string {
			query, _ := args["query"].(string)
			upToDate, _ := args["up_to_date"].(bool)
			return searcher.SearchWeb(ctx, query, upToDate)
		},
	})
}
