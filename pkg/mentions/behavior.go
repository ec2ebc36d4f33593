package mentions

import (
	"errors"
	"fmt"
	"strings"
)

type RemoveBehavior string

const (
	RemoveFull RemoveBehavior = "full"
	RemoveTags RemoveBehavior = "tags"
	RemoveNone RemoveBehavior = "none"
)

var ErrUnknownBehavior = errors.New("unknown mention remove behavior")

// ParseRemoveBehavior accepts full, tags or none in any case.
func ParseRemoveBehavior(s string) (RemoveBehavior, error) {
	b := RemoveBehavior(strings.ToLower(strings.TrimSpace(s)))
	if !b.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownBehavior, s)
	}
	return b, nil
}

func (b RemoveBehavior) Valid() bool {
	switch b {
	case RemoveFull, RemoveTags, RemoveNone:
		return true
	}
	return false
}

func (b RemoveBehavior) String() string {
	return string(b)
}
