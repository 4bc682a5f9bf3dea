package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// labelTrash is the only label that does not count as recycled
const labelTrash = "trash"

// co2PerScan is the rough kilograms of CO2 saved per sorted item
var co2PerScan = decimal.NewFromFloat(0.5)

func computeStats(st *state, now time.Time) Stats {
	stats := Stats{
		TotalScans:  len(st.scans),
		TotalPoints: st.balance,
		CO2Saved:    decimal.NewFromInt(int64(len(st.scans))).Mul(co2PerScan).Round(1),
	}
	for _, r := range st.redemptions {
		stats.TotalRedeemed += r.Points
	}
	for _, s := range st.scans {
		if s.Label != labelTrash {
			stats.RecycledItems++
		}
		if FilterWeek.Match(s.Timestamp, now) {
			stats.WeeklyScans++
			stats.WeeklyPoints += s.Points
		}
		if FilterMonth.Match(s.Timestamp, now) {
			stats.MonthlyPoints += s.Points
		}
	}
	return stats
}

// Achievement is a milestone unlocked by activity
type Achievement struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Unlocked bool   `json:"unlocked"`
}

// Achievements evaluates every milestone against s
func Achievements(s Stats) []Achievement {
	return []Achievement{
		{ID: "first-scan", Name: "First Scan", Unlocked: s.TotalScans >= 1},
		{ID: "ten-scans", Name: "10 Scans", Unlocked: s.TotalScans >= 10},
		{ID: "hundred-points", Name: "100 Points", Unlocked: s.TotalPoints >= 100},
		{ID: "eco-warrior", Name: "Eco Warrior", Unlocked: s.TotalScans >= 50},
	}
}
