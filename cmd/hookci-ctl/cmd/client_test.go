package cmd

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hookci/hookci/internal/api"
	"github.com/spf13/viper"
)

func TestCheckResponsePrefersErrorField(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{name: "error body", body: `{"error":"Project not found"}`, want: "API Error (404): Project not found"},
		{name: "message body", body: `{"message":"gone"}`, want: "API Error (404): gone"},
		{name: "plain body", body: `nope`, want: "API Error (404): nope"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := &http.Response{StatusCode: http.StatusNotFound, Body: io.NopCloser(strings.NewReader(tt.body))}
			err := CheckResponse(resp)
			if err == nil || err.Error() != tt.want {
				t.Fatalf("got %v, want %q", err, tt.want)
			}
		})
	}
}

func TestClientDecodesProjects(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/projects" {
			http.NotFound(w, r)
			return
		}
		io.WriteString(w, `[{"id":"proj_1","name":"Shop","type":"single","repos":[{"id":"repo_1","url":"https://github.com/acme/shop","branches":["main"],"hasToken":true}]}]`)
	}))
	defer server.Close()

	viper.Set("url", server.URL+"/")
	defer viper.Set("url", "")

	resp, err := NewClient().Get("/api/projects")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	defer resp.Body.Close()

	var projects []api.Project
	if err := decodeResponse(resp, &projects); err != nil {
		t.Fatalf("decodeResponse: %v", err)
	}
	if len(projects) != 1 || projects[0].Repos[0].URL != "https://github.com/acme/shop" || !projects[0].Repos[0].HasToken {
		t.Fatalf("unexpected projects %+v", projects)
	}
}

func TestSplitList(t *testing.T) {
	got := splitList(" main, develop ,,release ")
	if strings.Join(got, "|") != "main|develop|release" {
		t.Fatalf("unexpected list %v", got)
	}
	if splitList("") != nil {
		t.Fatalf("expected nil for empty input")
	}
}
