// cmd/preflight/main.go
package main

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
)

func main() {
	failed := false
	fail := func(msg string) {
		fmt.Fprintln(os.Stderr, "✖", msg)
		failed = true
	}
	warn := func(msg string) { fmt.Fprintln(os.Stderr, "⚠", msg) }
	ok := func(msg string) { fmt.Println("✔", msg) }
	env := func(k string) string { return strings.TrimSpace(os.Getenv(k)) }

	for _, k := range []string{"THRESHOLD_ATTEMPTS", "THRESHOLD_MINUTES"} {
		v := env(k)
		if v == "" {
			warn(k + " empty; the built-in default will be used.")
			continue
		}
		if n, err := strconv.Atoi(v); err != nil || n <= 0 {
			fail(k + " must be a positive integer, got " + strconv.Quote(v))
			continue
		}
		ok(k + "=" + v)
	}

	if e := env("ENDPOINT_INFLUXDB"); e == "" {
		fail("ENDPOINT_INFLUXDB is empty (no availability source).")
	} else if u, err := url.Parse(e); err != nil || u.Host == "" {
		fail("ENDPOINT_INFLUXDB is not a URL: " + e)
	} else {
		ok("ENDPOINT_INFLUXDB host " + u.Host)
	}
	if env("DB_INFLUXDB") == "" {
		warn("DB_INFLUXDB empty; InfluxDB will reject the query.")
	}

	for _, k := range []string{"SENSORS_FILE", "CONTACTS_FILE"} {
		p := env(k)
		if p == "" {
			continue
		}
		if _, err := os.Stat(p); err != nil {
			fail(k + " not readable: " + err.Error())
		} else {
			ok(k + "=" + p)
		}
	}

	if env("DATABASE_URL") == "" {
		warn("DATABASE_URL empty; status is kept in STORE_FILE (CSV).")
	} else {
		ok("DATABASE_URL present")
	}

	if env("SMTP_HOST") == "" && env("SLACK_WEBHOOK") == "" {
		warn("no SMTP_HOST or SLACK_WEBHOOK; notifications are only logged.")
	}
	if env("SMTP_HOST") != "" && env("NOTIFY_FROM") == "" {
		fail("SMTP_HOST set but NOTIFY_FROM is empty.")
	}
	if keys := env("API_KEYS"); keys != "" && strings.Contains(keys, " ") {
		warn("API_KEYS contains spaces; use comma-separated with no spaces, e.g. key1,admin:key2")
	}

	if failed {
		os.Exit(1)
	}
	ok("preflight passed")
}
