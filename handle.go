package entity

import (
	"fmt"

	"github.com/google/uuid"
)

// Handle is an opaque token correlating a Builder, a staged entity, and the
// record committed for it. Identity comes from a random 128-bit token; the
// label is descriptive only, so two handles sharing a label never collide.
type Handle struct {
	id    uuid.UUID
	label string
}

// NewHandle mints a new Handle carrying label for diagnostics.
func NewHandle(label string) Handle {
	return Handle{id: uuid.New(), label: label}
}

// Label returns the descriptive label supplied at mint time.
func (h Handle) Label() string {
	return h.label
}

// IsZero reports whether h is the zero Handle, which is never minted.
func (h Handle) IsZero() bool {
	return h.id == uuid.Nil
}

func (h Handle) String() string {
	if h.IsZero() {
		return "Handle(<zero>)"
	}
	return fmt.Sprintf("Handle(%s)#%s", h.label, h.id.String()[:8])
}
