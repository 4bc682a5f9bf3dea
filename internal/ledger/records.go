package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// ScanRecord is one classification event credited to the balance
type ScanRecord struct {
	ID         string    `json:"id"`
	Timestamp  time.Time `json:"timestamp"`
	Label      string    `json:"label"`
	Category   string    `json:"category"`
	Confidence float64   `json:"confidence"` // 0-100
	Points     int       `json:"points"`
	Fact       string    `json:"fact"`
	Image      string    `json:"image,omitempty"` // archived upload, if any
}

// RedemptionRecord is one exchange of points for a reward
type RedemptionRecord struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Reward    string    `json:"reward"`
	Points    int       `json:"points"`
}

// Classification is the payload a classifier hands to the ledger. Numeric
// fields are pointers so an absent value can be told apart from zero.
type Classification struct {
	Label      string   `json:"label" validate:"required"`
	Category   string   `json:"category"`
	Confidence *float64 `json:"confidence" validate:"required,gte=0,lte=100"`
	Points     *int     `json:"points" validate:"required,gte=0"`
	Fact       string   `json:"fact"`
	Image      string   `json:"image,omitempty"`
}

// Stats is a derived view over the whole ledger
type Stats struct {
	TotalScans    int             `json:"total_scans"`
	TotalPoints   int             `json:"total_points"`
	TotalRedeemed int             `json:"total_redeemed"`
	CO2Saved      decimal.Decimal `json:"co2_saved"` // kg
	RecycledItems int             `json:"recycled_items"`
	WeeklyScans   int             `json:"weekly_scans"`
	WeeklyPoints  int             `json:"weekly_points"`
	MonthlyPoints int             `json:"monthly_points"`
}

// Float returns a pointer to v, for building a Classification in code.
func Float(v float64) *float64 { return &v }

// Int returns a pointer to v, for building a Classification in code.
func Int(v int) *int { return &v }
