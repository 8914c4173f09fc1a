package trigger

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// cronParser accepts 5- and 6-field (seconds) expressions plus descriptors.
var cronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

var reHHMM = regexp.MustCompile(`^\s*(\d{1,3}):(\d{2})\s*$`)

// ParseSchedule normalizes a poll schedule into a cron spec.
//
// Accepted forms:
//   - cron: "*/5 * * * *", "@hourly", "@every 30s" ("cron:" prefix forces it)
//   - Go duration: "30s", "2m" (becomes "@every 30s")
//   - HH:MM interval: "00:05" is five minutes
func ParseSchedule(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", fmt.Errorf("schedule required")
	}

	spec := ""
	switch {
	case strings.HasPrefix(strings.ToLower(s), "cron:"):
		spec = strings.TrimSpace(s[len("cron:"):])
	case strings.ContainsAny(s, " \t") || strings.HasPrefix(s, "@"):
		spec = s
	case reHHMM.MatchString(s):
		d, err := parseHHMM(s)
		if err != nil {
			return "", err
		}
		spec = "@every " + d.String()
	default:
		d, err := time.ParseDuration(s)
		if err != nil {
			return "", fmt.Errorf("invalid schedule %q (use cron like '*/5 * * * *', HH:MM like '00:05', or duration like '30s')", raw)
		}
		if d <= 0 {
			return "", fmt.Errorf("interval must be > 0")
		}
		spec = "@every " + d.String()
	}

	if _, err := cronParser.Parse(spec); err != nil {
		return "", fmt.Errorf("invalid schedule %q: %w", raw, err)
	}
	return spec, nil
}

func parseHHMM(v string) (time.Duration, error) {
	m := reHHMM.FindStringSubmatch(v)
	if len(m) != 3 {
		return 0, fmt.Errorf("invalid HH:MM %q", v)
	}
	hh, _ := strconv.Atoi(m[1])
	mm, _ := strconv.Atoi(m[2])
	if mm > 59 {
		return 0, fmt.Errorf("invalid minutes in %q", v)
	}
	d := time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute
	if d <= 0 {
		return 0, fmt.Errorf("interval must be > 0")
	}
	return d, nil
}
