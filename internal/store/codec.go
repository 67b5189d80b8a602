package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hookci/hookci/internal/api"
)

// encodeRepos serialises project repos for a JSON column. Plaintext tokens are never written.
func encodeRepos(repos []api.Repo) (string, error) {
	stored := make([]api.Repo, len(repos))
	for i, repo := range repos {
		repo.Token = ""
		if repo.Branches == nil {
			repo.Branches = []string{}
		}
		stored[i] = repo
	}
	data, err := json.Marshal(stored)
	if err != nil {
		return "", fmt.Errorf("failed to encode repos: %w", err)
	}
	return string(data), nil
}

func decodeRepos(raw string) ([]api.Repo, error) {
	repos := []api.Repo{}
	if raw == "" {
		return repos, nil
	}
	if err := json.Unmarshal([]byte(raw), &repos); err != nil {
		return nil, fmt.Errorf("failed to decode repos: %w", err)
	}
	return repos, nil
}

func encodeBranches(branches []string) (string, error) {
	if branches == nil {
		branches = []string{}
	}
	data, err := json.Marshal(branches)
	if err != nil {
		return "", fmt.Errorf("failed to encode branches: %w", err)
	}
	return string(data), nil
}

func decodeBranches(raw string) ([]string, error) {
	branches := []string{}
	if raw == "" {
		return branches, nil
	}
	if err := json.Unmarshal([]byte(raw), &branches); err != nil {
		return nil, fmt.Errorf("failed to decode branches: %w", err)
	}
	return branches, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	value := t.Time
	return &value
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func int64Ptr(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	value := v.Int64
	return &value
}
