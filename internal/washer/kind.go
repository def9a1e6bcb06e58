package washer

import "fmt"

// Kind distinguishes the stage roles.
type Kind int

const (
	KindSource Kind = iota + 1
	KindTransform
	KindSink
	KindMaintenance
)

var kindNames = map[Kind]string{
	KindSource:      "source",
	KindTransform:   "transform",
	KindSink:        "sink",
	KindMaintenance: "maintenance",
}

func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// ParseKind is the inverse of String.
func ParseKind(s string) (Kind, error) {
	for k, n := range kindNames {
		if n == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown stage kind %q", s)
}

// Subscribes reports whether stages of this kind consume upstream items.
func (k Kind) Subscribes() bool { return k == KindTransform || k == KindSink }

// Emits reports whether stages of this kind produce persisted items.
func (k Kind) Emits() bool { return k == KindSource || k == KindTransform }

// Exclusive reports whether a run requires every other stage to be idle.
func (k Kind) Exclusive() bool { return k == KindMaintenance }
