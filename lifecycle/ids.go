package lifecycle

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

var idPrefixes = map[BsdType]string{
	TypeBSDD:    "BSD",
	TypeBSDA:    "BSDA",
	TypeBSDASRI: "DASRI",
	TypeBSVHU:   "VHU",
	TypeBSFF:    "FF",
	TypeBSPAOH:  "PAOH",
}

// NewID returns a readable id such as BSD-20240131-4F6A1C2B9.
func NewID(t BsdType, now time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))[:9]
	return idPrefixes[t] + "-" + now.Format("20060102") + "-" + suffix
}
