package engine

import (
	"sort"

	"github.com/rawblock/trace-engine/pkg/models"
)

// Flow Analyzer
//
// Directional accounting of value into and out of the target address.
// Transactions are partitioned on which side names the target:
//   to == target   → incoming
//   from == target → outgoing
//
// From the outgoing side it ranks counterparties by received value and
// keeps the top five as major recipients, each with its share of total
// outflow. Shares are 0%, never NaN, when nothing flowed out.
//
// Temporal classification buckets transactions by hour-of-day and
// reads the modal hour:
//   hour < 6 or > 22 → night-heavy     (automation, evasion timezones)
//   hour in [9, 17]  → business-hours  (human, office timezone)
//   otherwise        → mixed

const maxMajorRecipients = 5

// AnalyzeFlow computes the directional flow summary for target over
// the given transaction set.
func AnalyzeFlow(txs []models.Transaction, target string) models.FlowAnalysis {
	flow := models.FlowAnalysis{
		MajorRecipients: []models.MajorRecipient{},
		TimePattern:     models.TimePatternMixed,
	}

	outByRecipient := make(map[string]float64)
	var hourBuckets [24]int

	for _, tx := range txs {
		switch target {
		case tx.To:
			flow.IncomingValue += tx.Amount
		case tx.From:
			flow.OutgoingValue += tx.Amount
			outByRecipient[tx.To] += tx.Amount
		}
		hourBuckets[tx.Timestamp.Hour()]++
	}
	flow.NetFlow = flow.IncomingValue - flow.OutgoingValue

	recipients := make([]models.MajorRecipient, 0, len(outByRecipient))
	for addr, amount := range outByRecipient {
		recipients = append(recipients, models.MajorRecipient{Address: addr, Amount: amount})
	}
	sort.Slice(recipients, func(i, j int) bool {
		if recipients[i].Amount != recipients[j].Amount {
			return recipients[i].Amount > recipients[j].Amount
		}
		return recipients[i].Address < recipients[j].Address // stable order for equal amounts
	})
	if len(recipients) > maxMajorRecipients {
		recipients = recipients[:maxMajorRecipients]
	}
	for i := range recipients {
		if flow.OutgoingValue > 0 {
			recipients[i].Percentage = recipients[i].Amount / flow.OutgoingValue * 100
		}
	}
	flow.MajorRecipients = recipients

	if len(txs) > 0 {
		flow.TimePattern = classifyModalHour(hourBuckets)
	}
	return flow
}

// classifyModalHour picks the busiest hour-of-day bucket and maps it
// to a coarse activity pattern.
func classifyModalHour(buckets [24]int) string {
	modal := 0
	for h := 1; h < 24; h++ {
		if buckets[h] > buckets[modal] {
			modal = h
		}
	}
	switch {
	case modal < 6 || modal > 22:
		return models.TimePatternNightHeavy
	case modal >= 9 && modal <= 17:
		return models.TimePatternBusinessHours
	default:
		return models.TimePatternMixed
	}
}
