package domain

// Mode selects the response shape and output budget for a request.
type Mode string

const (
	ModeStrike   Mode = "strike"
	ModeGuidance Mode = "guidance"
	ModeDeep     Mode = "deep"
)

// Modes lists every recognized mode.
var Modes = []Mode{ModeStrike, ModeGuidance, ModeDeep}

// Ranges accepted in UsageContext.Range.
const (
	RangeToday  = "today"
	Range7Days  = "7d"
	Range30Days = "30d"
)

// Scores are the per-area usage scores reported by the client.
type Scores struct {
	Total   float64 `json:"total"`
	Body    float64 `json:"body"`
	Mind    float64 `json:"mind"`
	Finance float64 `json:"finance"`
	Status  float64 `json:"status"`
}

// UsageContext is the optional usage summary sent with a request. It is only
// ever rendered into a single descriptive prompt line.
type UsageContext struct {
	Scores     *Scores `json:"scores,omitempty"`
	StreakDays int     `json:"streakDays,omitempty"`
	Level      int     `json:"level,omitempty"`
	Range      string  `json:"range,omitempty"`
}

// Normalized returns a copy with malformed or missing fields replaced by
// their defaults: streakDays 0, level 1, range "today".
func (u UsageContext) Normalized() UsageContext {
	if u.StreakDays < 0 {
		u.StreakDays = 0
	}
	if u.Level < 1 {
		u.Level = 1
	}
	switch u.Range {
	case RangeToday, Range7Days, Range30Days:
	default:
		u.Range = RangeToday
	}
	return u
}
