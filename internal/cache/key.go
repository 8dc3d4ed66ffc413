package cache

import (
	"github.com/HendryAvila/docket/internal/digest"
	"github.com/HendryAvila/docket/internal/doc"
)

// Key is a hex sha256 digest identifying one cached outcome.
type Key string

type keyMaterial struct {
	Source  doc.Source `json:"source"`
	Locator string     `json:"locator"`
	Epoch   string     `json:"epoch,omitempty"`
}

// NewKey derives the session cache key of ref. Client and remote refs are
// gated by policy, so their keys include the policy epoch: a policy change
// produces fresh keys and old denials can no longer be hit. Local refs
// ignore the epoch.
func NewKey(ref doc.Ref, epoch string) Key {
	m := keyMaterial{Source: ref.Source, Locator: ref.Locator}
	if ref.Source == doc.SourceClient || ref.Source == doc.SourceRemote {
		m.Epoch = epoch
	}
	return mustDigest(m)
}

// StoreKey derives the persistent store key of ref. It never includes the
// epoch: only policy-independent outcomes are persisted, and the policy
// gate runs before any cache lookup.
func StoreKey(ref doc.Ref) Key {
	return mustDigest(keyMaterial{Source: ref.Source, Locator: ref.Locator})
}

func mustDigest(m keyMaterial) Key {
	sum, err := digest.JSON(m)
	if err != nil {
		// keyMaterial only holds strings.
		panic(err)
	}
	return Key(sum)
}
