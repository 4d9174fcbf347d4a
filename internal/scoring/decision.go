package scoring

// Decision is the action recommended to the caller.
type Decision string

const (
	DecisionAllow  Decision = "allow"
	DecisionReview Decision = "review"
	DecisionBlock  Decision = "block"
)

// Decision thresholds. Review starts where manual attention pays for
// itself; block starts where it no longer does.
const (
	ReviewThreshold = 50
	BlockThreshold  = 80
)

// Decide maps a final risk score onto an action using the default
// thresholds.
func Decide(score int) Decision {
	return Mapper{}.Decide(score)
}

// Mapper maps scores to decisions with configurable cutoffs. Zero values
// fall back to the defaults.
type Mapper struct {
	Review int
	Block  int
}

// NewMapper builds a mapper from configured thresholds.
func NewMapper(review, block int) Mapper {
	return Mapper{Review: review, Block: block}
}

func (m Mapper) Decide(score int) Decision {
	review, block := m.Review, m.Block
	if review <= 0 {
		review = ReviewThreshold
	}
	if block <= 0 {
		block = BlockThreshold
	}
	switch {
	case score >= block:
		return DecisionBlock
	case score >= review:
		return DecisionReview
	default:
		return DecisionAllow
	}
}
