package postgres

import (
	"errors"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// supabasePoolerPort is the port of the Supabase transaction pooler.
const supabasePoolerPort = "6543"

// Conn is a normalized connection string.
type Conn struct {
	String   string
	Redacted string
	// Pooled is set for transaction-mode poolers (pgbouncer, Supavisor).
	Pooled bool
}

// ConnString normalizes a Postgres URL:
//
// Adds application_name if absent, defaults sslmode=require for non-local
// hosts, and sets connect_timeout from SPRINTSYNC_DB_CONNECT_TIMEOUT
// (default 10s). A pgbouncer=true parameter (Prisma style, common in
// Supabase dashboards) is stripped and marks the connection as pooled, as
// does the pooler port 6543.
func ConnString(raw, appName string) (Conn, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Conn{}, errors.New("database url is empty (set database.url or DATABASE_URL)")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return Conn{}, errors.New("database url is not a valid URL")
	}
	if u.Scheme != "postgres" && u.Scheme != "postgresql" {
		return Conn{}, errors.New("database url must use the postgres:// scheme")
	}

	q := u.Query()
	pooled := u.Port() == supabasePoolerPort
	if v := q.Get("pgbouncer"); v != "" {
		pooled = pooled || v == "true"
		q.Del("pgbouncer")
	}
	if appName == "" {
		appName = "sprintsync"
	}
	if q.Get("application_name") == "" {
		q.Set("application_name", appName)
	}
	if q.Get("sslmode") == "" && !isLocalHost(u.Hostname()) {
		q.Set("sslmode", "require")
	}
	if q.Get("connect_timeout") == "" {
		timeout := 10 * time.Second
		if v := strings.TrimSpace(os.Getenv("SPRINTSYNC_DB_CONNECT_TIMEOUT")); v != "" {
			if d, err := time.ParseDuration(v); err == nil && d >= time.Second {
				timeout = d
			}
		}
		q.Set("connect_timeout", strconv.Itoa(int(timeout/time.Second)))
	}
	u.RawQuery = q.Encode()

	return Conn{String: u.String(), Redacted: u.Redacted(), Pooled: pooled}, nil
}

func isLocalHost(host string) bool {
	switch host {
	case "", "localhost", "127.0.0.1", "::1":
		return true
	}
	return false
}
