// Package monitor builds portal monitoring hand-off configuration and
// detects content changes between scans via stored fingerprints.
package monitor

import (
	"fmt"
	"sort"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/opphound/opphound/internal/logging"
	"github.com/opphound/opphound/internal/model"
	"github.com/opphound/opphound/internal/utils"
)

// defaultCheckFrequency is used when a portal carries no explicit
// monitoring interval, in minutes.
const defaultCheckFrequency = 24 * 60

// ChangeReport describes what moved between two fingerprints of the same
// portal.
type ChangeReport struct {
	Changed bool     `json:"changed"`
	Added   []string `json:"added,omitempty"`
	Removed []string `json:"removed,omitempty"`
	Summary string   `json:"summary"`
}

// Detector compares portal fingerprints across scans.
type Detector struct {
	logger logging.Logger
}

func New(logger logging.Logger) *Detector {
	return &Detector{logger: logger}
}

// Fingerprint derives a stable, line-oriented fingerprint from a scan's
// content map and discovered opportunities. Lines are sorted so crawl
// order never shows up as a change.
func Fingerprint(contentMap []string, opps []model.Opportunity) string {
	lines := make([]string, 0, len(contentMap)+len(opps))
	for _, u := range contentMap {
		lines = append(lines, "page "+utils.CanonicalURL(u))
	}
	for _, opp := range opps {
		lines = append(lines, "opp "+utils.OpportunityKey(opp.Title, opp.SourceURL))
	}
	sort.Strings(lines)
	return strings.Join(lines, "\n")
}

// Compare diffs the previous fingerprint against the current one. An empty
// previous fingerprint means this is the portal's first scan; that is
// reported as unchanged with a first-scan summary.
func (d *Detector) Compare(previous, current string) ChangeReport {
	if previous == "" {
		return ChangeReport{Summary: "first scan, baseline recorded"}
	}
	if previous == current {
		return ChangeReport{Summary: "no changes since previous scan"}
	}

	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(previous, current, true)
	diffs = dmp.DiffCleanupSemantic(diffs)

	var report ChangeReport
	report.Changed = true
	for _, diff := range diffs {
		for _, line := range strings.Split(diff.Text, "\n") {
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			switch diff.Type {
			case diffmatchpatch.DiffInsert:
				report.Added = append(report.Added, line)
			case diffmatchpatch.DiffDelete:
				report.Removed = append(report.Removed, line)
			}
		}
	}
	report.Summary = fmt.Sprintf("%d added, %d removed", len(report.Added), len(report.Removed))

	if d.logger != nil {
		d.logger.Debug("portal content changed",
			logging.Field{Key: "added", Value: len(report.Added)},
			logging.Field{Key: "removed", Value: len(report.Removed)})
	}
	return report
}

// BuildConfig assembles the monitoring hand-off for a portal. No poller in
// this process consumes it; it is recorded for the consuming system.
func BuildConfig(portal *model.Portal, fingerprint string) *model.MonitoringConfig {
	freq := portal.CheckFrequency
	if freq <= 0 {
		freq = defaultCheckFrequency
	}
	return &model.MonitoringConfig{
		PortalID:       portal.ID,
		Enabled:        true,
		CheckFrequency: freq,
		Fingerprint:    fingerprint,
	}
}
