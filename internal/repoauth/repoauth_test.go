package repoauth

import (
	"testing"

	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
)

func TestNormalizeGitURL(t *testing.T) {
	cases := map[string]string{
		"https://github.com/Acme/API.git": "https://github.com/acme/api",
		"  https://github.com/acme/api  ": "https://github.com/acme/api",
		"git@github.com:acme/api.git":     "git@github.com:acme/api",
		"https://gitlab.example.com/a/b":  "https://gitlab.example.com/a/b",
	}
	for in, want := range cases {
		if got := NormalizeGitURL(in); got != want {
			t.Errorf("NormalizeGitURL(%q) = %q, want %q", in, got, want)
		}
	}
	if !SameRepo("https://github.com/acme/api.git", "https://GitHub.com/acme/api") {
		t.Fatalf("expected URLs to match")
	}
}

func TestExtractRepoName(t *testing.T) {
	cases := map[string]string{
		"https://github.com/acme/api.git": "api",
		"https://github.com/acme/web":     "web",
		"git@github.com:acme/tools.git":   "tools",
		"not-a-url":                       "unknown",
	}
	for in, want := range cases {
		if got := ExtractRepoName(in); got != want {
			t.Errorf("ExtractRepoName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestParseGitHubURL(t *testing.T) {
	owner, repo, ok := ParseGitHubURL("https://github.com/acme/my.repo.git")
	if !ok || owner != "acme" || repo != "my.repo" {
		t.Fatalf("unexpected result %q %q %v", owner, repo, ok)
	}
	owner, repo, ok = ParseGitHubURL("git@github.com:acme-labs/api")
	if !ok || owner != "acme-labs" || repo != "api" {
		t.Fatalf("unexpected ssh result %q %q %v", owner, repo, ok)
	}
	if _, _, ok := ParseGitHubURL("https://gitlab.com/acme/api"); ok {
		t.Fatalf("expected non-github URL to be rejected")
	}
}

func TestValidateRepo(t *testing.T) {
	if err := ValidateRepo("", ""); err == nil {
		t.Fatalf("expected error for empty URL")
	}
	if err := ValidateRepo("https://github.com/acme/api", "ghp_x"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := ValidateRepo("git@github.com:acme/api.git", ""); err != nil {
		t.Fatalf("unexpected error for public ssh URL: %v", err)
	}
	if err := ValidateRepo("git@github.com:acme/api.git", "ghp_x"); err == nil {
		t.Fatalf("expected token on ssh URL to be rejected")
	}
	if err := ValidateRepo("https:///missing-host", ""); err == nil {
		t.Fatalf("expected error for missing host")
	}
}

func TestAuthMethod(t *testing.T) {
	if AuthMethod("  ") != nil {
		t.Fatalf("expected nil auth for empty token")
	}
	auth, ok := AuthMethod("ghp_secret").(*githttp.BasicAuth)
	if !ok {
		t.Fatalf("expected basic auth")
	}
	if auth.Username != TokenUsername || auth.Password != "ghp_secret" {
		t.Fatalf("unexpected auth %+v", auth)
	}
}
