package walker

import "errors"

// ErrConflictingOtbackup is returned when the tree already contains a
// `.replit-takeout-otbackup` directory; Walk stops at that point. The
// orchestrator does not single it out: like any other Crosis failure it
// is followed by the fallback zip download.
var ErrConflictingOtbackup = errors.New("walker: conflicting .replit-takeout-otbackup directory")
