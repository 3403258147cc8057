package backup

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// RetentionPolicy caps how many backups survive in each age tier. A backup
// falls into exactly one tier by age: hourly (<24h), daily (<7d), weekly
// (<30d), monthly (<365d). Anything older is always pruned.
type RetentionPolicy struct {
	Hourly  int // default 24
	Daily   int // default 7
	Weekly  int // default 4
	Monthly int // default 12
}

func (p RetentionPolicy) normalize() RetentionPolicy {
	if p.Hourly <= 0 {
		p.Hourly = 24
	}
	if p.Daily <= 0 {
		p.Daily = 7
	}
	if p.Weekly <= 0 {
		p.Weekly = 4
	}
	if p.Monthly <= 0 {
		p.Monthly = 12
	}
	return p
}

// List returns the backups under dir, newest first.
func List(dir string) ([]Info, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("backup: read %s: %w", dir, err)
	}

	var backups []Info
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, ".db") {
			continue
		}
		st, err := entry.Info()
		if err != nil {
			continue
		}
		backups = append(backups, Info{
			Path:      filepath.Join(dir, name),
			Timestamp: st.ModTime(),
			Size:      st.Size(),
		})
	}

	sort.Slice(backups, func(i, j int) bool {
		return backups[i].Timestamp.After(backups[j].Timestamp)
	})
	return backups, nil
}

// Prune deletes backups beyond the per-tier caps.
func Prune(dir string, policy RetentionPolicy, now time.Time) error {
	policy = policy.normalize()

	backups, err := List(dir)
	if err != nil {
		return err
	}

	caps := map[string]int{"hourly": policy.Hourly, "daily": policy.Daily, "weekly": policy.Weekly, "monthly": policy.Monthly}
	kept := map[string]int{}

	// backups is newest-first, so each tier keeps its most recent members.
	for _, b := range backups {
		t := tier(now.Sub(b.Timestamp))
		if t != "" && kept[t] < caps[t] {
			kept[t]++
			continue
		}
		if err := os.Remove(b.Path); err != nil {
			return fmt.Errorf("backup: prune %s: %w", b.Path, err)
		}
	}
	return nil
}

func tier(age time.Duration) string {
	switch {
	case age < 24*time.Hour:
		return "hourly"
	case age < 7*24*time.Hour:
		return "daily"
	case age < 30*24*time.Hour:
		return "weekly"
	case age < 365*24*time.Hour:
		return "monthly"
	default:
		return ""
	}
}
