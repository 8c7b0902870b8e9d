package jira

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// SprintRef is a sprint as embedded in the sprint custom field of an issue.
type SprintRef struct {
	ID           int64  `json:"id"`
	Name         string `json:"name"`
	State        string `json:"state"`
	BoardID      int64  `json:"boardId,omitempty"`
	Goal         string `json:"goal,omitempty"`
	StartDate    string `json:"startDate,omitempty"`
	EndDate      string `json:"endDate,omitempty"`
	CompleteDate string `json:"completeDate,omitempty"`
}

// StoryPoints decodes the configured story points field. Unestimated issues
// (field absent or null) return nil.
func (c *Client) StoryPoints(issue *Issue) (*float64, error) {
	raw, ok := issue.Fields.Custom[c.Fields.StoryPoints]
	if !ok || isNull(raw) {
		return nil, nil
	}
	var n float64
	if err := json.Unmarshal(raw, &n); err == nil {
		return &n, nil
	}
	// Some Server instances serialize numeric custom fields as strings.
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		s = strings.TrimSpace(s)
		if s == "" {
			return nil, nil
		}
		n, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, fmt.Errorf("%s: story points %q: %w", issue.Key, s, err)
		}
		return &n, nil
	}
	return nil, fmt.Errorf("%s: unexpected story points value %s", issue.Key, raw)
}

// SprintRefs decodes the configured sprint field. Cloud returns an array of
// sprint objects; older Server versions return serialized Java strings.
func (c *Client) SprintRefs(issue *Issue) ([]SprintRef, error) {
	raw, ok := issue.Fields.Custom[c.Fields.Sprint]
	if !ok || isNull(raw) {
		return nil, nil
	}

	var objs []SprintRef
	if err := json.Unmarshal(raw, &objs); err == nil {
		return objs, nil
	}

	var legacy []string
	if err := json.Unmarshal(raw, &legacy); err != nil {
		return nil, fmt.Errorf("%s: unexpected sprint field value: %w", issue.Key, err)
	}
	refs := make([]SprintRef, 0, len(legacy))
	for _, s := range legacy {
		ref, err := parseLegacySprint(s)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", issue.Key, err)
		}
		refs = append(refs, ref)
	}
	return refs, nil
}

// EpicKey returns the issue's epic: the parent when the parent is an epic
// (team-managed projects), otherwise the epic link custom field.
func (c *Client) EpicKey(issue *Issue) string {
	if issue.Fields.Parent.IsEpic() {
		return issue.Fields.Parent.Key
	}
	raw, ok := issue.Fields.Custom[c.Fields.EpicLink]
	if !ok || isNull(raw) {
		return ""
	}
	var key string
	if err := json.Unmarshal(raw, &key); err != nil {
		return ""
	}
	return key
}

var legacySprintAttrs = regexp.MustCompile(`\[(.*)\]$`)

// parseLegacySprint parses
// "com.atlassian.greenhopper.service.sprint.Sprint@1f[id=12,rapidViewId=3,state=CLOSED,name=Sprint 1,...]".
// Values may contain commas (sprint names), so a key only starts after a
// comma followed by a known attribute name.
func parseLegacySprint(s string) (SprintRef, error) {
	m := legacySprintAttrs.FindStringSubmatch(s)
	if m == nil {
		return SprintRef{}, fmt.Errorf("malformed sprint %q", s)
	}
	attrs := splitLegacyAttrs(m[1])

	id, err := strconv.ParseInt(attrs["id"], 10, 64)
	if err != nil {
		return SprintRef{}, fmt.Errorf("malformed sprint id in %q", s)
	}
	ref := SprintRef{
		ID:           id,
		Name:         attrs["name"],
		State:        strings.ToLower(attrs["state"]),
		Goal:         attrs["goal"],
		StartDate:    attrs["startDate"],
		EndDate:      attrs["endDate"],
		CompleteDate: attrs["completeDate"],
	}
	if board, err := strconv.ParseInt(attrs["rapidViewId"], 10, 64); err == nil {
		ref.BoardID = board
	}
	return ref, nil
}

var legacyKeys = []string{
	"id", "rapidViewId", "state", "name", "goal", "startDate", "endDate",
	"completeDate", "activatedDate", "sequence", "synced", "autoStartStop",
	"incompleteIssuesDestinationId",
}

func splitLegacyAttrs(body string) map[string]string {
	attrs := make(map[string]string)
	isKey := func(s string) (string, bool) {
		for _, k := range legacyKeys {
			if strings.HasPrefix(s, k+"=") {
				return k, true
			}
		}
		return "", false
	}

	rest := body
	key, ok := isKey(rest)
	if !ok {
		return attrs
	}
	rest = rest[len(key)+1:]
	for {
		end := len(rest)
		next := ""
		for i := 0; i < len(rest); i++ {
			if rest[i] != ',' {
				continue
			}
			if k, ok := isKey(rest[i+1:]); ok {
				end, next = i, k
				break
			}
		}
		val := rest[:end]
		if val != "<null>" {
			attrs[key] = val
		}
		if next == "" {
			return attrs
		}
		rest = rest[end+1+len(next)+1:]
		key = next
	}
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}
