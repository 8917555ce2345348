package research

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"
)

// KeywordFinding summarizes what the web said about one keyword.
type KeywordFinding struct {
	Keyword string         `json:"keyword"`
	Summary string         `json:"summary"`
	Sources []SearchResult `json:"sources,omitempty"`
}

// Findings is the structured output of one research run.
type Findings struct {
	Keywords map[string]KeywordFinding `json:"keywords"`
	Summary  string                    `json:"summary"`
}

// Researcher runs keyword searches concurrently and assembles structured
// findings.
type Researcher struct {
	client     *Client
	maxSources int
}

func NewResearcher(client *Client) *Researcher {
	return &Researcher{client: client, maxSources: 5}
}

// Enabled mirrors the underlying client.
func (r *Researcher) Enabled() bool {
	return r != nil && r.client.Enabled()
}

// Research searches each keyword and condenses the hits into per-keyword
// summaries plus an overall one. Focus areas and project context bias the
// queries; a failed keyword degrades to an empty finding rather than
// failing the run.
func (r *Researcher) Research(ctx context.Context, keywords, focusAreas []string, projectContext string) (*Findings, error) {
	if !r.Enabled() {
		return nil, ErrDisabled
	}
	if len(keywords) == 0 {
		return nil, fmt.Errorf("at least one keyword is required")
	}

	focus := strings.Join(focusAreas, " ")
	perKeyword := make([]KeywordFinding, len(keywords))

	g, gctx := errgroup.WithContext(ctx)
	for i, keyword := range keywords {
		i, keyword := i, keyword
		g.Go(func() error {
			query := keyword
			if focus != "" {
				query += " " + focus
			}
			results, err := r.client.Search(gctx, query)
			if err != nil {
				slog.Warn("Keyword search failed", "keyword", keyword, "error", err)
				perKeyword[i] = KeywordFinding{Keyword: keyword, Summary: "no findings available"}
				return nil
			}
			if len(results) > r.maxSources {
				results = results[:r.maxSources]
			}
			perKeyword[i] = KeywordFinding{
				Keyword: keyword,
				Summary: summarize(results),
				Sources: results,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	findings := &Findings{Keywords: make(map[string]KeywordFinding, len(perKeyword))}
	var overall []string
	for _, f := range perKeyword {
		findings.Keywords[f.Keyword] = f
		if f.Summary != "" && f.Summary != "no findings available" {
			overall = append(overall, fmt.Sprintf("%s: %s", f.Keyword, firstSentence(f.Summary)))
		}
	}
	findings.Summary = strings.Join(overall, " ")
	if projectContext != "" && findings.Summary != "" {
		findings.Summary = "In the context of " + projectContext + ": " + findings.Summary
	}
	return findings, nil
}

func summarize(results []SearchResult) string {
	parts := make([]string, 0, len(results))
	for _, res := range results {
		snippet := res.Snippet
		if snippet == "" {
			snippet = res.Content
		}
		if snippet == "" {
			continue
		}
		parts = append(parts, strings.TrimSpace(snippet))
	}
	return strings.Join(parts, " ")
}

func firstSentence(s string) string {
	if idx := strings.IndexAny(s, ".!?"); idx >= 0 {
		return s[:idx+1]
	}
	return s
}
