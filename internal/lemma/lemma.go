// Package lemma resolves word forms to lemgrams through an external
// lexicon's autocomplete service. The service is outside our availability
// envelope, so calls run behind a circuit breaker and callers are expected
// to degrade to word-form matching when it is down.
package lemma

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/eklundh/strandr/pkg/config"
	apperrors "github.com/eklundh/strandr/pkg/errors"
	"github.com/eklundh/strandr/pkg/logger"
	"github.com/eklundh/strandr/pkg/resilience"
)

// Client queries the lexicon service for lemgrams.
type Client struct {
	baseURL  string
	resource string
	http     *http.Client
	breaker  *resilience.CircuitBreaker
	log      *slog.Logger
}

// NewClient creates a lemmatizer client. onBreakerChange, when non-nil,
// observes circuit state transitions.
func NewClient(cfg config.LemmatizerConfig, onBreakerChange func(string, resilience.State)) *Client {
	return &Client{
		baseURL:  cfg.URL,
		resource: cfg.Resource,
		http:     &http.Client{Timeout: cfg.Timeout},
		breaker: resilience.NewCircuitBreaker("lemmatizer", resilience.CircuitBreakerConfig{
			OnStateChange: onBreakerChange,
		}),
		log: logger.WithComponent("lemmatizer"),
	}
}

type autocompleteResponse map[string]struct {
	Hits struct {
		Hits []struct {
			Source struct {
				FormRepresentations []struct {
					Lemgram string `json:"lemgram"`
				} `json:"FormRepresentations"`
			} `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

// Lemgrams looks up the lemgrams of each term in one batched call.
// Compound lemgrams (an underscore after the first character) are
// dropped; a term with no usable lemgram maps to an empty slice.
func (c *Client) Lemgrams(ctx context.Context, terms []string) (map[string][]string, error) {
	if len(terms) == 0 {
		return map[string][]string{}, nil
	}
	var body autocompleteResponse
	err := c.breaker.Execute(func() error {
		return c.fetch(ctx, terms, &body)
	})
	if err != nil {
		return nil, apperrors.Newf(apperrors.ErrLemmatizerUnavailable, 503,
			"lemgram lookup failed: %v", err)
	}

	out := make(map[string][]string, len(terms))
	for _, term := range terms {
		var lemgrams []string
		for _, hit := range body[term].Hits.Hits {
			reps := hit.Source.FormRepresentations
			if len(reps) == 0 {
				continue
			}
			lemgram := reps[0].Lemgram
			if len(lemgram) > 1 && strings.Contains(lemgram[1:], "_") {
				continue
			}
			// the index mapping lowercases lemgrams, so match that here
			lemgrams = append(lemgrams, strings.ToLower(lemgram))
		}
		out[term] = lemgrams
	}
	return out, nil
}

func (c *Client) fetch(ctx context.Context, terms []string, out *autocompleteResponse) error {
	q := url.Values{}
	q.Set("mode", "external")
	q.Set("multi", strings.Join(terms, ","))
	q.Set("resource", c.resource)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return fmt.Errorf("building lemmatizer request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("lemmatizer returned %s", resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding lemmatizer response: %w", err)
	}
	return nil
}
