package sdcard

import (
	"fmt"
	"path"
	"time"

	"github.com/wizlab/wildlife-camera/internal/clock"
)

// UnknownDateDir holds photos taken before the clock was synced
const UnknownDateDir = "UnknownDate"

// PhotoPath builds the archive path for a photo taken at wall. A zero wall
// time puts the photo under UnknownDate with a random nine digit name.
func PhotoPath(base string, wall time.Time, random int) string {
	if wall.IsZero() {
		return path.Join(base, UnknownDateDir, fmt.Sprintf("WCP-%09d.jpg", random))
	}
	return path.Join(base,
		clock.Format("%Y-%m-%d", wall),
		"WCP-"+clock.Format("%Y%m%d-%H%M%S", wall)+".jpg")
}
