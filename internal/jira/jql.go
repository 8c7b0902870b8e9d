package jira

import (
	"strings"
	"time"
)

// jqlTimeLayout is the only minute precision format JQL date clauses accept.
const jqlTimeLayout = "2006-01-02 15:04"

// BuildJQL returns the sync query for a project. A non-nil since restricts
// the query to issues updated at or after it. JQL compares dates in the
// account's time zone, so since is formatted in loc (UTC when nil).
func BuildJQL(projectKey string, since *time.Time, loc *time.Location) string {
	var b strings.Builder
	b.WriteString("project = ")
	b.WriteString(QuoteJQL(projectKey))
	if since != nil {
		if loc == nil {
			loc = time.UTC
		}
		b.WriteString(" AND updated >= ")
		b.WriteString(QuoteJQL(since.In(loc).Format(jqlTimeLayout)))
	}
	b.WriteString(" ORDER BY updated ASC")
	return b.String()
}

// QuoteJQL wraps a value in double quotes, escaping quotes and backslashes.
func QuoteJQL(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`)
	return `"` + r.Replace(s) + `"`
}
