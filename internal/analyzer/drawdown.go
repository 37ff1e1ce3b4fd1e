package analyzer

import (
	"sort"

	"github.com/quantlab/portfolio-backend/pkg/types"
)

// DefaultDrawdownTopN is the number of episodes reported when the caller
// does not ask for a specific count.
const DefaultDrawdownTopN = 3

// MaxDrawdownEpisodes ranks the deepest non-overlapping drawdown episodes of
// the total-value series, up to topN. An episode spans from the most recent
// peak preceding its trough to the first later day whose value regains that
// peak (or the series end if none does); a candidate whose span overlaps an
// already-accepted span in its interior is skipped.
//
// A monotonically non-decreasing series has no local minima and yields an
// empty result, as does a series shorter than three points. The relative
// order of equal-magnitude troughs follows sort stability and is not a
// guarantee.
func (a *Analyzer) MaxDrawdownEpisodes(topN int) []types.DrawdownEpisode {
	if topN <= 0 {
		topN = DefaultDrawdownTopN
	}

	values := a.table.TotalValues()
	n := len(values)
	if n < 3 {
		return nil
	}

	// Running maximum up to and including each day, and the drawdown
	// percentage against it.
	peaks := make([]float64, n)
	drawdowns := make([]float64, n)
	peak := values[0]
	for i, v := range values {
		if v > peak {
			peak = v
		}
		peaks[i] = peak
		drawdowns[i] = (v/peak - 1) * 100
	}

	// Interior strict local minima are the trough candidates.
	var troughs []int
	for i := 1; i < n-1; i++ {
		if drawdowns[i] < drawdowns[i-1] && drawdowns[i] < drawdowns[i+1] {
			troughs = append(troughs, i)
		}
	}

	sort.SliceStable(troughs, func(i, j int) bool {
		return drawdowns[troughs[i]] < drawdowns[troughs[j]]
	})

	var episodes []types.DrawdownEpisode
	type span struct{ start, end int }
	var used []span

	for _, t := range troughs {
		if len(episodes) >= topN {
			break
		}

		// Peak index: the most recent day at or before the trough achieving
		// the running maximum.
		p := 0
		best := values[0]
		for i := 1; i <= t; i++ {
			if values[i] >= best {
				best = values[i]
				p = i
			}
		}

		// Recovery: first later day whose value regains the peak value.
		recovery := -1
		for i := t; i < n; i++ {
			if values[i] >= values[p] {
				recovery = i
				break
			}
		}

		end := n - 1
		if recovery >= 0 {
			end = recovery
		}

		// Episodes may touch at a boundary day: one episode's recovery day
		// is naturally the next episode's peak. Only interior overlap
		// disqualifies a candidate.
		overlaps := false
		for _, u := range used {
			if p < u.end && end > u.start {
				overlaps = true
				break
			}
		}
		if overlaps {
			continue
		}
		used = append(used, span{start: p, end: end})

		episode := types.DrawdownEpisode{
			MaxDrawdown:    drawdowns[t],
			PeakDate:       a.table.Days[p].Date,
			TroughDate:     a.table.Days[t].Date,
			DrawdownLength: t - p + 1,
		}
		if recovery >= 0 {
			date := a.table.Days[recovery].Date
			length := recovery - t + 1
			episode.RecoveryDate = &date
			episode.RecoveryLength = &length
		}
		episodes = append(episodes, episode)
	}
	return episodes
}
