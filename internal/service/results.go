package service

import (
	"math"
	"sort"

	"github.com/lvdashuaibi/contestvote/internal/model"
)

// percentage rounds part/total*100 to two decimals; zero when total is zero.
func percentage(part, total int64) float64 {
	if total <= 0 {
		return 0
	}
	return math.Round(float64(part)/float64(total)*100*100) / 100
}

// BuildResults sorts tallies by vote count descending, then name ascending,
// then id ascending, and fills in the percentages.
func BuildResults(tallies []model.ResultRow) model.Results {
	rows := make([]model.ResultRow, len(tallies))
	copy(rows, tallies)

	var total int64
	for _, row := range rows {
		total += row.VoteCount
	}

	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].VoteCount != rows[j].VoteCount {
			return rows[i].VoteCount > rows[j].VoteCount
		}
		if rows[i].Name != rows[j].Name {
			return rows[i].Name < rows[j].Name
		}
		return rows[i].ID < rows[j].ID
	})

	for i := range rows {
		rows[i].Percentage = percentage(rows[i].VoteCount, total)
	}

	return model.Results{Rows: rows, TotalVotes: total}
}

// BuildTicketStats derives the usage figures from the two counts.
func BuildTicketStats(total, used int64) model.TicketStats {
	return model.TicketStats{
		TotalTickets:    total,
		UsedTickets:     used,
		UnusedTickets:   total - used,
		UsagePercentage: percentage(used, total),
	}
}
