package uploaders

import (
	"errors"
	"fmt"
	"strings"

	"github.com/samber/lo"
)

var (
	ErrNoPlatforms = errors.New("no upload platforms enabled")
	ErrAllFailed   = errors.New("all uploads failed")
)

// Report holds per-platform results in invocation order.
type Report struct {
	Results []*UploadResult
}

func (r *Report) Successes() []*UploadResult {
	return lo.Filter(r.Results, func(res *UploadResult, _ int) bool { return res.Success })
}

func (r *Report) Failures() []*UploadResult {
	return lo.Filter(r.Results, func(res *UploadResult, _ int) bool { return !res.Success })
}

// Err is nil when at least one platform succeeded.
func (r *Report) Err() error {
	if len(r.Results) == 0 {
		return ErrNoPlatforms
	}
	if len(r.Successes()) > 0 {
		return nil
	}
	lines := lo.Map(r.Failures(), func(res *UploadResult, _ int) string { return failureLine(res) })
	return fmt.Errorf("%w: %s", ErrAllFailed, strings.Join(lines, "; "))
}

// Text renders the status message posted back to the channel.
func (r *Report) Text() string {
	var lines []string
	if ok := r.Successes(); len(ok) > 0 {
		lines = append(lines, "Upload results:")
		for _, res := range ok {
			lines = append(lines, successLine(res))
		}
	}
	if bad := r.Failures(); len(bad) > 0 {
		if len(lines) > 0 {
			lines = append(lines, "")
		}
		lines = append(lines, "Failed:")
		for _, res := range bad {
			lines = append(lines, failureLine(res))
		}
	}
	return strings.Join(lines, "\n")
}

func successLine(res *UploadResult) string {
	var line string
	switch {
	case res.URL != "":
		line = res.Platform + ": " + res.URL
	case res.IDLabel != "":
		line = res.Platform + " " + res.IDLabel + ": " + res.ID
	default:
		line = res.Platform + ": " + res.ID
	}
	if res.Note != "" {
		line += " (" + res.Note + ")"
	}
	return line
}

func failureLine(res *UploadResult) string {
	return res.Platform + ": " + res.Error
}
