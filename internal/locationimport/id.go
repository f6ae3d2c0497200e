package locationimport

import (
	"strings"

	"github.com/google/uuid"
)

func v5(ns uuid.UUID, name string) uuid.UUID {
	return uuid.NewSHA1(ns, []byte(name))
}

// LocationID derives a stable id from the node's level and code path, so
// re-imports update in place instead of duplicating the tree.
func LocationID(ns uuid.UUID, level string, codePath ...string) uuid.UUID {
	return v5(ns, "location:"+level+":"+strings.Join(codePath, "/"))
}

// HouseholdID keys enumerated structures on their census id.
func HouseholdID(ns uuid.UUID, hhid string) uuid.UUID {
	return v5(ns, "household:"+strings.TrimSpace(hhid))
}
