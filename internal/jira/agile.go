package jira

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
)

// Boards lists the agile boards located in a project.
func (c *Client) Boards(ctx context.Context, projectKey string) ([]Board, error) {
	params := url.Values{"projectKeyOrId": {projectKey}}
	boards, err := listAgile[Board](ctx, c, "/rest/agile/1.0/board", params)
	if err != nil {
		return nil, fmt.Errorf("failed to list boards for %s: %w", projectKey, err)
	}
	return boards, nil
}

// Sprints lists every sprint of a board. Boards without sprint support
// (kanban) answer 400 and yield no sprints.
func (c *Client) Sprints(ctx context.Context, boardID int64) ([]Sprint, error) {
	path := "/rest/agile/1.0/board/" + strconv.FormatInt(boardID, 10) + "/sprint"
	sprints, err := listAgile[Sprint](ctx, c, path, url.Values{})
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusBadRequest {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list sprints for board %d: %w", boardID, err)
	}
	return sprints, nil
}

// listAgile pages an agile list endpoint until isLast.
func listAgile[T any](ctx context.Context, c *Client, path string, params url.Values) ([]T, error) {
	var all []T
	startAt := 0
	size := c.pageSize()
	for {
		params.Set("startAt", strconv.Itoa(startAt))
		params.Set("maxResults", strconv.Itoa(size))

		body, err := c.doRequest(ctx, "GET", c.URL+path+"?"+params.Encode(), nil)
		if err != nil {
			return nil, err
		}

		var p page[T]
		if err := json.Unmarshal(body, &p); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		all = append(all, p.Values...)

		startAt = p.StartAt + len(p.Values)
		if p.IsLast || len(p.Values) == 0 {
			return all, nil
		}
	}
}
