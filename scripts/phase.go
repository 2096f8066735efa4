package scripts

import (
	"fmt"
	"strings"
)

// Phase is one stage of the fixed migration lifecycle.
type Phase int

const (
	PhaseInit Phase = iota
	PhaseInitContent
	PhaseInstall
	PhaseInstallContent
	PhaseSettle
	PhaseSettleContent
)

// DefaultOrder is the lifecycle order phases run in.
var DefaultOrder = []Phase{
	PhaseInit,
	PhaseInitContent,
	PhaseInstall,
	PhaseInstallContent,
	PhaseSettle,
	PhaseSettleContent,
}

var phaseNames = map[Phase]string{
	PhaseInit:           "init",
	PhaseInitContent:    "initContent",
	PhaseInstall:        "install",
	PhaseInstallContent: "installContent",
	PhaseSettle:         "settle",
	PhaseSettleContent:  "settleContent",
}

func (p Phase) String() string {
	if n, ok := phaseNames[p]; ok {
		return n
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

// ParsePhase accepts the names produced by String in any case, with or
// without '-' or '_' separators ("install-content", "INSTALL_CONTENT").
func ParsePhase(s string) (Phase, error) {
	norm := strings.ToLower(strings.NewReplacer("-", "", "_", "", " ", "").Replace(s))
	for p, n := range phaseNames {
		if strings.ToLower(n) == norm {
			return p, nil
		}
	}
	return 0, fmt.Errorf("unknown phase %q", s)
}

// ParseOrder parses a list of phase names. An empty list yields DefaultOrder.
// Phases may be omitted but must keep their lifecycle order and appear once.
func ParseOrder(names []string) ([]Phase, error) {
	if len(names) == 0 {
		out := make([]Phase, len(DefaultOrder))
		copy(out, DefaultOrder)
		return out, nil
	}
	out := make([]Phase, 0, len(names))
	for i, n := range names {
		p, err := ParsePhase(n)
		if err != nil {
			return nil, err
		}
		if i > 0 && p <= out[i-1] {
			return nil, fmt.Errorf("phase %q listed out of lifecycle order after %q", p, out[i-1])
		}
		out = append(out, p)
	}
	return out, nil
}

// MarshalText implements encoding.TextMarshaler.
func (p Phase) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Phase) UnmarshalText(b []byte) error {
	parsed, err := ParsePhase(string(b))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}
