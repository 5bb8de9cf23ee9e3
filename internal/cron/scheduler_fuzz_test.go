package cron

import (
	"testing"

	"github.com/robfig/cron/v3"
)

func FuzzCronSchedule(f *testing.F) {
	// The shipped retention schedules plus malformed shapes.
	f.Add("0 2 * * *")
	f.Add("30 2 * * *")
	f.Add("0 3 * * *")
	f.Add("*/5 * * * *")
	f.Add("invalid")
	f.Add("")
	f.Add("60 * * * *")
	f.Add("0 25 * * *")

	f.Fuzz(func(_ *testing.T, expr string) {
		parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
		// Must not panic — errors are expected and acceptable.
		_, _ = parser.Parse(expr)
	})
}
