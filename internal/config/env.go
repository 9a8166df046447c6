package config

import (
	"net"
	"os"
	"strconv"
	"strings"
	"time"
)

// Lenient readers: a missing or malformed value falls back to the default.

func envStr(k, d string) string {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		return v
	}
	return d
}

func envBool(k string, d bool) bool {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	return d
}

func envInt(k string, d int) int {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
		return n
	}
	return d
}

func envFloat(k string, d float64) float64 {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
		return f
	}
	return d
}

func envDur(k string, d time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	if dur, err := time.ParseDuration(strings.TrimSpace(v)); err == nil {
		return dur
	}
	return d
}

// loader collects every missing or malformed required variable so the
// operator sees all of them at once instead of one per restart.
type loader struct {
	missing []string
	invalid []string
}

func (l *loader) must(key string) string {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		l.missing = append(l.missing, key)
		return ""
	}
	return v
}

func (l *loader) intOr(key string, d int) int {
	v := os.Getenv(key)
	if v == "" {
		return d
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		l.invalid = append(l.invalid, key)
		return d
	}
	return n
}

func (l *loader) durOr(key string, d time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return d
	}
	dur, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil || dur <= 0 {
		l.invalid = append(l.invalid, key)
		return d
	}
	return dur
}

// cidrs parses a comma-separated list of CIDR blocks.  A bare IP is taken
// as a single-host block.
func (l *loader) cidrs(key string) []*net.IPNet {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return nil
	}
	var out []*net.IPNet
	for _, part := range strings.Split(v, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if !strings.Contains(part, "/") {
			if ip := net.ParseIP(part); ip != nil && ip.To4() != nil {
				part += "/32"
			} else {
				part += "/128"
			}
		}
		_, n, err := net.ParseCIDR(part)
		if err != nil {
			l.invalid = append(l.invalid, key)
			return nil
		}
		out = append(out, n)
	}
	return out
}

func (l *loader) err() error {
	if len(l.missing) == 0 && len(l.invalid) == 0 {
		return nil
	}
	return &Error{Missing: l.missing, Invalid: l.invalid}
}
