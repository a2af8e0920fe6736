// Package github implements the GitHub intake adapter and the comment
// poster the feedback worker uses. It is a thin REST client: no example in
// the reference corpus carries a GitHub API SDK, so this talks to the v3
// REST API directly over net/http rather than inventing a dependency the
// corpus never reaches for.
package github

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/fluxhive/squads/internal/feedback"
	"github.com/fluxhive/squads/internal/goldenpath"
	"github.com/fluxhive/squads/internal/intake"
	"github.com/fluxhive/squads/internal/types"
)

// Client is a minimal GitHub REST v3 client.
type Client struct {
	token string
	http  *http.Client
	base  string // override for tests
}

// New builds a Client with a personal access / installation token.
func New(token string) *Client {
	return &Client{token: token, http: &http.Client{Timeout: 30 * time.Second}, base: "https://api.github.com"}
}

func (c *Client) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("accept", "application/vnd.github+json")
	if c.token != "" {
		req.Header.Set("authorization", "Bearer "+c.token)
	}
	if body != nil {
		req.Header.Set("content-type", "application/json")
	}
	return c.http.Do(req)
}

type issue struct {
	Number    int       `json:"number"`
	Title     string    `json:"title"`
	State     string    `json:"state"`
	UpdatedAt time.Time `json:"updated_at"`
}

// listIssuesSince lists issues updated after sinceRFC3339 (empty for all),
// narrowed to the given lifecycle stage labels when any are given (spec
// §4.3: poll statuses derived from golden-path.yaml, or the integration's
// configured stages as a fallback). GitHub's issues endpoint also returns
// PRs; callers filter as needed, matching the adapter's own cursor logic.
func (c *Client) listIssuesSince(ctx context.Context, owner, repo, sinceRFC3339 string, stages []string) ([]issue, error) {
	path := fmt.Sprintf("/repos/%s/%s/issues?state=all&sort=updated&direction=asc", owner, repo)
	if sinceRFC3339 != "" {
		path += "&since=" + sinceRFC3339
	}
	if len(stages) > 0 {
		path += "&labels=" + strings.Join(stages, ",")
	}
	resp, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		data, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("github list issues: status %d: %s", resp.StatusCode, data)
	}
	var out []issue
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetGoldenPath fetches and parses .flux/golden-path.yaml from the default
// branch, implementing feedback.GoldenPathFetcher / the intake adapter's
// lifecycle fallback source.
func (c *Client) GetGoldenPath(ctx context.Context, repo feedback.RepoRef) (goldenpath.Config, error) {
	path := fmt.Sprintf("/repos/%s/%s/contents/.flux/golden-path.yaml", repo.Owner, repo.Repo)
	resp, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return goldenpath.Config{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return goldenpath.Config{}, nil
	}
	if resp.StatusCode >= 400 {
		data, _ := io.ReadAll(resp.Body)
		return goldenpath.Config{}, fmt.Errorf("github get golden-path: status %d: %s", resp.StatusCode, data)
	}

	var content struct {
		Content  string `json:"content"`
		Encoding string `json:"encoding"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&content); err != nil {
		return goldenpath.Config{}, err
	}
	raw, err := decodeGitHubContent(content.Content, content.Encoding)
	if err != nil {
		return goldenpath.Config{}, err
	}
	return goldenpath.Parse(raw)
}

// PostComment posts a comment to a GitHub issue, implementing
// feedback.CommentPoster.
func (c *Client) PostComment(ctx context.Context, repo feedback.RepoRef, issueNumber int, body string) error {
	path := fmt.Sprintf("/repos/%s/%s/issues/%d/comments", repo.Owner, repo.Repo, issueNumber)
	resp, err := c.do(ctx, http.MethodPost, path, map[string]string{"body": body})
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("github post comment: status %d: %s", resp.StatusCode, data)
	}
	return nil
}

// adapterCursor is the opaque cursor this adapter persists on the
// integration: the ISO timestamp of the most recently seen issue update.
type adapterCursor struct {
	SinceRFC3339 string `json:"sinceRfc3339"`
}

// Adapter implements intake.Adapter for integration.type == "github".
type Adapter struct {
	Client *Client
}

var _ intake.Adapter = (*Adapter)(nil)

func (a *Adapter) PollIntegration(ctx context.Context, integ types.Integration) (intake.PollResult, error) {
	var cursor adapterCursor
	_ = json.Unmarshal([]byte(integ.IntakeCursor), &cursor)

	var repoCfg struct {
		Owner  string   `json:"owner"`
		Repo   string   `json:"repo"`
		Stages []string `json:"stages"` // configured poll stages, used when no golden-path lifecycle exists
	}
	if err := json.Unmarshal([]byte(integ.Config), &repoCfg); err != nil {
		return intake.PollResult{}, fmt.Errorf("decode integration config: %w", err)
	}

	stages := repoCfg.Stages
	if gp, err := a.Client.GetGoldenPath(ctx, feedback.RepoRef{Owner: repoCfg.Owner, Repo: repoCfg.Repo}); err == nil && gp.HasLifecycle() {
		stages = gp.StageNames()
	}

	issues, err := a.Client.listIssuesSince(ctx, repoCfg.Owner, repoCfg.Repo, cursor.SinceRFC3339, stages)
	if err != nil {
		return intake.PollResult{}, err
	}

	var items []intake.DiscoveredItem
	latest := cursor.SinceRFC3339
	for _, is := range issues {
		payload, _ := json.Marshal(map[string]any{
			"number": is.Number,
			"title":  is.Title,
			"state":  is.State,
		})
		items = append(items, intake.DiscoveredItem{
			ResourceType: "github_issue",
			ResourceID:   repoCfg.Owner + "/" + repoCfg.Repo + "#" + strconv.Itoa(is.Number),
			PayloadJSON:  string(payload),
		})
		updated := is.UpdatedAt.UTC().Format(time.RFC3339)
		if updated > latest {
			latest = updated
		}
	}

	newCursor, _ := json.Marshal(adapterCursor{SinceRFC3339: latest})
	return intake.PollResult{Items: items, NewCursor: string(newCursor)}, nil
}

func decodeGitHubContent(content, encoding string) ([]byte, error) {
	if encoding != "base64" {
		return []byte(content), nil
	}
	return base64Decode(content)
}
