package strategies

import (
	"strings"

	"github.com/tkomnos/stealthtrader/internal/domain"
)

// Consensus is the cross-validated outcome for one symbol. Composite
// blends the conviction of the agreeing strategies into [0,1]; the
// signal generator turns it into a final confidence.
type Consensus struct {
	Agreement         domain.Agreement
	Composite         float64
	ExpectedReturnPct float64
	Verdicts          []Verdict
	Vetoed            bool
	VetoReason        string
}

// CrossValidate folds independent strategy verdicts into a consensus.
// Any single AVOID vetoes the symbol outright regardless of how the
// other strategies voted.
func CrossValidate(verdicts []Verdict) Consensus {
	out := Consensus{Agreement: domain.AgreementNone, Verdicts: verdicts}

	var avoidReasons []string
	for _, v := range verdicts {
		if v.Vote == VoteAvoid {
			avoidReasons = append(avoidReasons, v.Strategy+": "+v.Reason)
		}
	}
	if len(avoidReasons) > 0 {
		out.Vetoed = true
		out.VetoReason = strings.Join(avoidReasons, "; ")
		return out
	}

	var (
		buys     int
		confSum  float64
		expected float64
	)
	for _, v := range verdicts {
		if v.Vote != VoteBuy {
			continue
		}
		buys++
		confSum += v.Confidence
		if v.ExpectedReturnPct > expected {
			expected = v.ExpectedReturnPct
		}
	}
	if buys == 0 {
		return out
	}

	switch buys {
	case 1:
		out.Agreement = domain.AgreementLow
	case 2:
		out.Agreement = domain.AgreementMedium
	default:
		out.Agreement = domain.AgreementHigh
	}
	out.Composite = confSum / float64(buys)
	out.ExpectedReturnPct = expected
	return out
}
