package githubapi

import (
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/rebase-inc/knowledge-scanner/internal/domain"
)

const perPage = 100

type repoDTO struct {
	FullName string `json:"full_name"`
	Name     string `json:"name"`
	CloneURL string `json:"clone_url"`
	SizeKB   int64  `json:"size"`
	Fork     bool   `json:"fork"`
	Language string `json:"language"`
}

// ListRepos returns the non-fork repositories owned by username, paginating
// through the upstream API until a short page signals the end.
func (c *Client) ListRepos(ctx domain.Context, username string) ([]domain.RemoteRepo, error) {
	var out []domain.RemoteRepo
	for page := 1; ; page++ {
		rawURL := fmt.Sprintf("%s/users/%s/repos", c.cfg.BaseURL, url.PathEscape(username))
		params := url.Values{
			"per_page": {fmt.Sprint(perPage)},
			"page":     {fmt.Sprint(page)},
			"type":     {"owner"},
		}
		body, err := c.doRequest(ctx, "list_repos", "GET", rawURL, params)
		if err != nil {
			return nil, err
		}
		var pageRepos []repoDTO
		if err := json.Unmarshal(body, &pageRepos); err != nil {
			return nil, fmt.Errorf("githubapi: decode repos page: %w", err)
		}
		for _, r := range pageRepos {
			if r.Fork {
				continue
			}
			out = append(out, domain.RemoteRepo{
				FullName: r.FullName,
				Name:     r.Name,
				CloneURL: r.CloneURL,
				SizeKB:   r.SizeKB,
				Fork:     r.Fork,
				Language: r.Language,
			})
		}
		if len(pageRepos) < perPage {
			break
		}
	}
	return out, nil
}

type commitDTO struct {
	SHA    string `json:"sha"`
	Commit struct {
		Author struct {
			Date time.Time `json:"date"`
		} `json:"author"`
	} `json:"commit"`
	Parents []struct {
		SHA string `json:"sha"`
	} `json:"parents"`
}

// ListAuthoredCommits returns commits in repoFullName authored by username,
// oldest first, paginating through the upstream API.
func (c *Client) ListAuthoredCommits(ctx domain.Context, repoFullName, username string) ([]domain.RemoteCommit, error) {
	// The upstream API lists commits newest-first with no ascending sort
	// option; gather every page in that natural order, then reverse once at
	// the end to honor spec.md's "oldest first" contract.
	var newestFirst []commitDTO
	for page := 1; ; page++ {
		rawURL := fmt.Sprintf("%s/repos/%s/commits", c.cfg.BaseURL, repoFullName)
		params := url.Values{
			"author":   {username},
			"per_page": {fmt.Sprint(perPage)},
			"page":     {fmt.Sprint(page)},
		}
		body, err := c.doRequest(ctx, "list_authored_commits", "GET", rawURL, params)
		if err != nil {
			return nil, err
		}
		var dtos []commitDTO
		if err := json.Unmarshal(body, &dtos); err != nil {
			return nil, fmt.Errorf("githubapi: decode commits page: %w", err)
		}
		newestFirst = append(newestFirst, dtos...)
		if len(dtos) < perPage {
			break
		}
	}

	out := make([]domain.RemoteCommit, len(newestFirst))
	for i, d := range newestFirst {
		parents := make([]string, 0, len(d.Parents))
		for _, p := range d.Parents {
			parents = append(parents, p.SHA)
		}
		out[len(newestFirst)-1-i] = domain.RemoteCommit{
			SHA:        d.SHA,
			AuthoredAt: d.Commit.Author.Date,
			ParentSHAs: parents,
		}
	}
	return out, nil
}

var _ domain.CodeHostingAPI = (*Client)(nil)
