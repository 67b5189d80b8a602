package repoauth

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/go-git/go-git/v5/plumbing/transport"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
)

// TokenUsername is sent with personal access tokens over HTTPS. GitHub ignores
// the value but go-git requires a non-empty username for basic auth.
const TokenUsername = "x-access-token"

var (
	repoNamePattern   = regexp.MustCompile(`/([^/]+?)(\.git)?$`)
	githubRepoPattern = regexp.MustCompile(`github\.com[/:]([\w-]+)/([\w.-]+?)(?:\.git)?$`)
)

// NormalizeGitURL canonicalizes a repo URL for comparison.
func NormalizeGitURL(repoURL string) string {
	normalized := strings.ToLower(strings.TrimSpace(repoURL))
	return strings.TrimSuffix(normalized, ".git")
}

// SameRepo reports whether two repo URLs refer to the same repository.
func SameRepo(a, b string) bool {
	return NormalizeGitURL(a) == NormalizeGitURL(b)
}

// ExtractRepoName returns the last path segment without ".git", or "unknown".
func ExtractRepoName(repoURL string) string {
	match := repoNamePattern.FindStringSubmatch(strings.TrimSpace(repoURL))
	if match == nil {
		return "unknown"
	}
	return match[1]
}

// ParseGitHubURL splits a github.com HTTPS or SSH URL into owner and repo.
func ParseGitHubURL(repoURL string) (owner, repo string, ok bool) {
	match := githubRepoPattern.FindStringSubmatch(strings.TrimSpace(repoURL))
	if match == nil {
		return "", "", false
	}
	return match[1], match[2], true
}

// ValidateRepo checks repo config before persistence.
func ValidateRepo(repoURL, token string) error {
	repoURL = strings.TrimSpace(repoURL)
	if repoURL == "" {
		return fmt.Errorf("repo URL is required")
	}

	if _, err := hostFromRepoURL(repoURL); err != nil {
		return err
	}

	if token != "" && isSSHRepoURL(repoURL) {
		return fmt.Errorf("access tokens require an HTTPS repo URL")
	}
	return nil
}

// AuthMethod returns go-git credentials for token, or nil for public access.
func AuthMethod(token string) transport.AuthMethod {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil
	}
	return &githttp.BasicAuth{
		Username: TokenUsername,
		Password: token,
	}
}

func isSSHRepoURL(repoURL string) bool {
	trimmed := strings.TrimSpace(repoURL)
	if strings.HasPrefix(strings.ToLower(trimmed), "ssh://") {
		return true
	}
	return !strings.Contains(trimmed, "://") && strings.Contains(trimmed, "@") && strings.Contains(trimmed, ":")
}

func hostFromRepoURL(repoURL string) (string, error) {
	trimmed := strings.TrimSpace(repoURL)
	if trimmed == "" {
		return "", fmt.Errorf("repo URL is required")
	}

	if strings.Contains(trimmed, "://") {
		parsed, err := url.Parse(trimmed)
		if err != nil {
			return "", fmt.Errorf("invalid repo URL: %w", err)
		}
		host := parsed.Hostname()
		if host == "" {
			return "", fmt.Errorf("invalid repo URL host")
		}
		return strings.ToLower(host), nil
	}

	parts := strings.SplitN(trimmed, "@", 2)
	if len(parts) != 2 {
		return "", fmt.Errorf("invalid repo URL")
	}

	hostAndPath := parts[1]
	colonIdx := strings.Index(hostAndPath, ":")
	if colonIdx <= 0 {
		return "", fmt.Errorf("invalid SSH repo URL")
	}

	return strings.ToLower(hostAndPath[:colonIdx]), nil
}
