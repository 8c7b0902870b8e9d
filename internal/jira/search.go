package jira

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// baseSearchFields are requested on every search; the configured custom
// fields are appended by searchFields.
var baseSearchFields = []string{
	"summary", "description", "status", "priority", "issuetype", "project",
	"assignee", "reporter", "labels", "created", "updated", "resolutiondate",
	"parent",
}

// SearchOptions tunes a single search.
type SearchOptions struct {
	// PageSize overrides Client.PageSize when positive.
	PageSize int
	// NoChangelog skips expand=changelog, for callers that only need fields.
	NoChangelog bool
}

// PageFunc is called once per page of search results. Returning an error
// stops the search.
type PageFunc func(issues []Issue) error

func (c *Client) searchFields() string {
	fields := append([]string(nil), baseSearchFields...)
	for _, f := range []string{c.Fields.StoryPoints, c.Fields.Sprint, c.Fields.EpicLink} {
		if f != "" {
			fields = append(fields, f)
		}
	}
	return strings.Join(fields, ",")
}

// SearchIssues runs jql and returns every matching issue.
func (c *Client) SearchIssues(ctx context.Context, jql string, opts SearchOptions) ([]Issue, error) {
	var all []Issue
	err := c.SearchIssuesPaged(ctx, jql, opts, func(issues []Issue) error {
		all = append(all, issues...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return all, nil
}

// SearchIssuesPaged runs jql and hands each page to fn as it arrives.
func (c *Client) SearchIssuesPaged(ctx context.Context, jql string, opts SearchOptions, fn PageFunc) error {
	size := c.pageSize()
	if opts.PageSize > 0 && opts.PageSize <= MaxPageSize {
		size = opts.PageSize
	}
	if c.SearchAPI == SearchJQL {
		return c.searchJQL(ctx, jql, size, opts, fn)
	}
	return c.searchLegacy(ctx, jql, size, opts, fn)
}

func (c *Client) searchParams(jql string, size int, opts SearchOptions) url.Values {
	params := url.Values{
		"jql":        {jql},
		"fields":     {c.searchFields()},
		"maxResults": {strconv.Itoa(size)},
	}
	if !opts.NoChangelog {
		params.Set("expand", "changelog")
	}
	return params
}

// searchLegacy pages /rest/api/3/search with startAt.
func (c *Client) searchLegacy(ctx context.Context, jql string, size int, opts SearchOptions, fn PageFunc) error {
	startAt := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		params := c.searchParams(jql, size, opts)
		params.Set("startAt", strconv.Itoa(startAt))

		apiURL := c.URL + "/rest/api/3/search?" + params.Encode()
		body, err := c.doRequest(ctx, "GET", apiURL, nil)
		if err != nil {
			return fmt.Errorf("failed to search issues: %w", err)
		}

		var result SearchResult
		if err := json.Unmarshal(body, &result); err != nil {
			return fmt.Errorf("failed to parse search response: %w", err)
		}
		if len(result.Issues) > 0 {
			if err := fn(result.Issues); err != nil {
				return err
			}
		}

		startAt = result.StartAt + len(result.Issues)
		if len(result.Issues) == 0 || startAt >= result.Total {
			return nil
		}
	}
}

// searchJQL pages /rest/api/3/search/jql with nextPageToken.
func (c *Client) searchJQL(ctx context.Context, jql string, size int, opts SearchOptions, fn PageFunc) error {
	token := ""
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		params := c.searchParams(jql, size, opts)
		if token != "" {
			params.Set("nextPageToken", token)
		}

		apiURL := c.URL + "/rest/api/3/search/jql?" + params.Encode()
		body, err := c.doRequest(ctx, "GET", apiURL, nil)
		if err != nil {
			return fmt.Errorf("failed to search issues: %w", err)
		}

		var result JQLSearchResult
		if err := json.Unmarshal(body, &result); err != nil {
			return fmt.Errorf("failed to parse search response: %w", err)
		}
		if len(result.Issues) > 0 {
			if err := fn(result.Issues); err != nil {
				return err
			}
		}

		if result.IsLast || result.NextPageToken == "" {
			return nil
		}
		token = result.NextPageToken
	}
}

// IssueChangelog fetches the complete changelog for an issue. Search embeds
// at most 100 histories; callers use this when Changelog.Truncated is true.
func (c *Client) IssueChangelog(ctx context.Context, key string) ([]History, error) {
	var all []History
	startAt := 0
	for {
		params := url.Values{
			"startAt":    {strconv.Itoa(startAt)},
			"maxResults": {strconv.Itoa(MaxPageSize)},
		}
		apiURL := fmt.Sprintf("%s/rest/api/3/issue/%s/changelog?%s", c.URL, url.PathEscape(key), params.Encode())
		body, err := c.doRequest(ctx, "GET", apiURL, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch changelog for %s: %w", key, err)
		}

		var page ChangelogPage
		if err := json.Unmarshal(body, &page); err != nil {
			return nil, fmt.Errorf("failed to parse changelog for %s: %w", key, err)
		}
		all = append(all, page.Values...)

		startAt = page.StartAt + len(page.Values)
		if page.IsLast || len(page.Values) == 0 || (page.Total > 0 && startAt >= page.Total) {
			return all, nil
		}
	}
}

// Project fetches project metadata by key.
func (c *Client) Project(ctx context.Context, key string) (*Project, error) {
	apiURL := fmt.Sprintf("%s/rest/api/3/project/%s", c.URL, url.PathEscape(key))
	body, err := c.doRequest(ctx, "GET", apiURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch project %s: %w", key, err)
	}

	var p Project
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("failed to parse project %s: %w", key, err)
	}
	return &p, nil
}
