package contacts

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

var directory = []Contact{
	{TeamID: "team-1", CaptainName: "Ross Freedman", Club: "Tennaqua", Series: "Chicago 22", ContactChannel: "sms", ContactAddress: "+15550100001"},
	{TeamID: "team-2", CaptainName: "Mike Lieberman", Club: "Birchwood", Series: "Chicago 22", ContactChannel: "email", ContactAddress: "mike@example.com"},
	{TeamID: "team-3", CaptainName: "Sarah Chen", Club: "Winnetka", Series: "Series 9"},
}

func TestStaticResolver_SubstringMatch(t *testing.T) {
	r := NewStaticResolver(directory)
	ctx := context.Background()

	matches, err := r.Search(ctx, "lieber")
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(matches) != 1 || matches[0].TeamID != "team-2" {
		t.Errorf("Expected team-2, got %v", matches)
	}

	matches, _ = r.Search(ctx, "nobody")
	if len(matches) != 0 {
		t.Errorf("Expected no matches, got %v", matches)
	}

	matches, _ = r.Search(ctx, "   ")
	if len(matches) != 0 {
		t.Errorf("Blank search should match nothing, got %v", matches)
	}
}

func TestHTTPResolver_Search(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/captains/search" {
			t.Errorf("Unexpected path: %s", r.URL.Path)
		}
		if name := r.URL.Query().Get("name"); name != "ross" {
			t.Errorf("Unexpected name: %s", name)
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"contacts": directory[:1],
		})
	}))
	defer server.Close()

	resolver := NewHTTPResolver(server.URL)
	matches, err := resolver.Search(context.Background(), "ross")
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(matches) != 1 || matches[0].CaptainName != "Ross Freedman" {
		t.Errorf("Unexpected matches: %v", matches)
	}
}

func TestHTTPResolver_DirectoryError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	resolver := NewHTTPResolver(server.URL)
	if _, err := resolver.Search(context.Background(), "ross"); err == nil {
		t.Fatal("Expected error on directory 500")
	}
}

func TestSearchEndpoint(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	v1 := r.Group("/v1")
	NewHandler(NewStaticResolver(directory)).RegisterRoutes(v1)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/v1/contacts/search?name=chen", nil)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}

	var body struct {
		Contacts []Contact `json:"contacts"`
		Count    int       `json:"count"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.Count != 1 || body.Contacts[0].CaptainName != "Sarah Chen" {
		t.Errorf("Unexpected response: %+v", body)
	}
}

func TestSearchEndpoint_ScrubsQuery(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	v1 := r.Group("/v1")
	NewHandler(NewStaticResolver(directory)).RegisterRoutes(v1)

	// Null bytes and padding in the query must not reach the resolver.
	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/v1/contacts/search?name=%00chen%20", nil)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	var body struct {
		Count int `json:"count"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.Count != 1 {
		t.Errorf("Expected 1 match after scrubbing, got %d", body.Count)
	}

	// A query that is nothing but padding is treated as missing.
	w = httptest.NewRecorder()
	req = httptest.NewRequest("GET", "/v1/contacts/search?name=%20%00", nil)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for blank query, got %d", w.Code)
	}
}

func TestSearchEndpoint_MissingName(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	v1 := r.Group("/v1")
	NewHandler(NewStaticResolver(directory)).RegisterRoutes(v1)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/v1/contacts/search", nil)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", w.Code)
	}
}

type failingResolver struct{}

func (failingResolver) Search(ctx context.Context, name string) ([]Contact, error) {
	return nil, context.DeadlineExceeded
}

func TestSearchEndpoint_DirectoryDown(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	v1 := r.Group("/v1")
	NewHandler(failingResolver{}).RegisterRoutes(v1)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/v1/contacts/search?name=x", nil)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusBadGateway {
		t.Errorf("Expected 502, got %d", w.Code)
	}
}
