package updater

import "strings"

// ShortRevisionLen is the prefix length shown in status output.
const ShortRevisionLen = 8

// RevisionID identifies a commit. The zero value means unknown.
type RevisionID string

// Short returns the first ShortRevisionLen characters of the revision.
func (r RevisionID) Short() string {
	if len(r) <= ShortRevisionLen {
		return string(r)
	}
	return string(r[:ShortRevisionLen])
}

// IsZero reports whether the revision is unknown.
func (r RevisionID) IsZero() bool { return r == "" }

func parseRevision(out string) (RevisionID, error) {
	rev := strings.TrimSpace(out)
	if rev == "" {
		return "", ErrEmptyRevision
	}
	if i := strings.IndexAny(rev, " \t\r\n"); i >= 0 {
		rev = rev[:i]
	}
	return RevisionID(rev), nil
}

// UpdateAvailable reports whether remote should replace local. Both must be
// known and differ.
func UpdateAvailable(local, remote RevisionID) bool {
	return !local.IsZero() && !remote.IsZero() && local != remote
}

// CycleResult is the outcome of one poll cycle.
type CycleResult int

const (
	NoUpdateAvailable CycleResult = iota
	UpdateApplied
	ProbeFailed
	ApplyFailed
)

func (r CycleResult) String() string {
	switch r {
	case NoUpdateAvailable:
		return "no_update"
	case UpdateApplied:
		return "applied"
	case ProbeFailed:
		return "probe_failed"
	case ApplyFailed:
		return "apply_failed"
	default:
		return "unknown"
	}
}
