package fetch

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseGitHubURL(t *testing.T) {
	tests := []struct {
		url   string
		owner string
		repo  string
		ok    bool
	}{
		{"https://github.com/golang/go", "golang", "go", true},
		{"https://github.com/golang/go/tree/master/src", "golang", "go", true},
		{"https://github.com/golang/go.git", "golang", "go", true},
		{"https://github.com/golang", "", "", false},
		{"https://gitlab.com/golang/go", "", "", false},
		{"not a url", "", "", false},
	}
	for _, tt := range tests {
		owner, repo, ok := ParseGitHubURL(tt.url)
		assert.Equal(t, tt.ok, ok, tt.url)
		assert.Equal(t, tt.owner, owner, tt.url)
		assert.Equal(t, tt.repo, repo, tt.url)
	}
}

func TestGitHubRepo(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/repos/golang/go", r.URL.Path)
		assert.Equal(t, "application/vnd.github.v3+json", r.Header.Get("Accept"))
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		io.WriteString(w, `{
			"full_name": "golang/go",
			"description": "The Go programming language",
			"stargazers_count": 120000,
			"forks_count": 17000,
			"language": "Go",
			"html_url": "https://github.com/golang/go",
			"owner": {"login": "golang", "avatar_url": "https://avatars.example/golang.png"}
		}`)
	}))
	defer server.Close()

	g := NewGitHubClient("test-token", testLogger(), WithAPIBase(server.URL))

	repo, err := g.Repo(context.Background(), "golang", "go")
	require.NoError(t, err)
	assert.Equal(t, "golang/go", repo.FullName)
	assert.Equal(t, 120000, repo.Stars)
	assert.Equal(t, "Go", repo.Language)
	assert.Equal(t, "https://avatars.example/golang.png", repo.Owner.AvatarURL)
}

func TestGitHubRepoNotFound(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	defer server.Close()

	g := NewGitHubClient("", testLogger(), WithAPIBase(server.URL))

	_, err := g.Repo(context.Background(), "nobody", "nothing")
	assert.ErrorIs(t, err, ErrNotFound)
}
