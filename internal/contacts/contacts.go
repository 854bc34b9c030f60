// Package contacts resolves free-text captain names to candidate
// team/captain contact records. Resolution is owned by the league
// directory service; this package is only the consuming client.
package contacts

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Contact is one candidate match for a captain search.
type Contact struct {
	TeamID         string `json:"teamId"`
	CaptainName    string `json:"captainName"`
	Club           string `json:"club,omitempty"`
	Series         string `json:"series,omitempty"`
	ContactChannel string `json:"contactChannel,omitempty"`
	ContactAddress string `json:"contactAddress,omitempty"`
}

// Resolver looks up candidate contacts for a free-text name. Results
// are opaque candidates; no retry or fallback logic lives here.
type Resolver interface {
	Search(ctx context.Context, name string) ([]Contact, error)
}

// HTTPResolver queries the league directory service.
type HTTPResolver struct {
	baseURL string
	client  *http.Client
}

// NewHTTPResolver creates a resolver against the directory at baseURL.
func NewHTTPResolver(baseURL string) *HTTPResolver {
	return &HTTPResolver{
		baseURL: strings.TrimRight(baseURL, "/"),
		client: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

func (r *HTTPResolver) Search(ctx context.Context, name string) ([]Contact, error) {
	u := r.baseURL + "/captains/search?name=" + url.QueryEscape(name)

	req, err := http.NewRequestWithContext(ctx, "GET", u, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("directory search: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("directory returned status %d", resp.StatusCode)
	}

	var payload struct {
		Contacts []Contact `json:"contacts"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode directory response: %w", err)
	}
	return payload.Contacts, nil
}

// StaticResolver serves a fixed contact list for demo/development mode.
type StaticResolver struct {
	contacts []Contact
}

// NewStaticResolver creates a resolver over a fixed contact list.
func NewStaticResolver(contacts []Contact) *StaticResolver {
	return &StaticResolver{contacts: contacts}
}

func (r *StaticResolver) Search(ctx context.Context, name string) ([]Contact, error) {
	needle := strings.ToLower(strings.TrimSpace(name))
	if needle == "" {
		return nil, nil
	}

	var matches []Contact
	for _, c := range r.contacts {
		if strings.Contains(strings.ToLower(c.CaptainName), needle) {
			matches = append(matches, c)
		}
	}
	return matches, nil
}
