// Package schedule derives line segments from scheduled-service data.
//
// A line segment is the piece of a line between two successive stops. Two
// lines running from stop A to stop B yield two distinct segments. Each
// segment carries the mean travel time and headway observed over the trips
// of its pattern inside the analysis window.
//
// Headways are assumed uniform for trips of the same pattern; opposite
// directions are separate patterns. All times are seconds from 00h00m00s.
package schedule

import (
	"fmt"
	"math"
	"sort"
)

// Trip associates a scheduled trip with its stop pattern.
type Trip struct {
	ID        string
	PatternID string
}

// StopTime is one scheduled stop event of a trip. Seq is the stop sequence
// index within the trip, starting at 0.
type StopTime struct {
	TripID    string
	Seq       int32
	Arrival   float64
	Departure float64
}

// RouteLink is one segment of a pattern's stop sequence. Seq is the segment
// sequence index, starting at 0.
type RouteLink struct {
	PatternID string
	Seq       int32
	FromStop  string
	ToStop    string
}

// Route names a pattern.
type Route struct {
	PatternID string
	ShortName string
}

// Feed bundles the scheduled-service tables supplied by the schedule store.
type Feed struct {
	Trips      []Trip
	StopTimes  []StopTime
	RouteLinks []RouteLink
	Routes     []Route
}

// Window is the analysis time period. Margin widens the period on both
// sides when filtering stop events.
type Window struct {
	Start  float64
	End    float64
	Margin float64
}

func (w Window) start() float64  { return w.Start - w.Margin }
func (w Window) end() float64    { return w.End + w.Margin }
func (w Window) length() float64 { return w.end() - w.start() }

func (w Window) contains(st StopTime) bool {
	return st.Departure >= w.start() && st.Arrival <= w.end()
}

// LineSegment is the derived per-segment record consumed by the graph
// builder. Freq is 1/Headway; a single-trip pattern gets
// Headway = window length, treated as near-uncertain rather than
// instantaneous.
type LineSegment struct {
	PatternID string
	Seq       int32
	FromStop  string
	ToStop    string
	LineID    string
	TravTime  float64
	Headway   float64
	Freq      float64
}

type patternSeq struct {
	pattern string
	seq     int32
}

// DeriveSegments filters the feed to the analysis window and produces one
// LineSegment per (pattern, segment) served within it.
//
// Travel time per segment is the mean over in-window trips; missing values
// fall back to the all-day mean, then to the window length. The headway per
// pattern is the per-trip minimum inter-trip headway across the pattern's
// stops, averaged over trips.
func DeriveSegments(feed Feed, win Window) ([]LineSegment, error) {
	if win.End <= win.Start {
		return nil, fmt.Errorf("schedule: window end %g not after start %g", win.End, win.Start)
	}

	pattern := make(map[string]string, len(feed.Trips)) // trip -> pattern
	for _, t := range feed.Trips {
		pattern[t.ID] = t.PatternID
	}
	shortName := make(map[string]string, len(feed.Routes))
	for _, r := range feed.Routes {
		shortName[r.PatternID] = r.ShortName
	}

	// patterns with at least one in-window stop event
	active := make(map[string]bool)
	for _, st := range feed.StopTimes {
		if win.contains(st) {
			active[pattern[st.TripID]] = true
		}
	}

	travTime := meanSegmentTravelTimes(feed, pattern, &win)
	travTimeFull := meanSegmentTravelTimes(feed, pattern, nil)
	headway := meanPatternHeadways(feed, pattern, win)

	var segments []LineSegment
	seen := make(map[patternSeq]bool)
	for _, link := range feed.RouteLinks {
		if !active[link.PatternID] {
			continue
		}
		key := patternSeq{pattern: link.PatternID, seq: link.Seq}
		if seen[key] {
			continue
		}
		seen[key] = true

		tt, ok := travTime[key]
		if !ok {
			tt, ok = travTimeFull[key]
		}
		if !ok {
			tt = win.length()
		}

		hw, ok := headway[link.PatternID]
		if !ok {
			hw = win.length()
		}
		freq := math.Inf(1)
		if hw > 0 {
			freq = 1.0 / hw
		}

		name := shortName[link.PatternID]
		lineID := link.PatternID
		if name != "" {
			lineID = name + "_" + link.PatternID
		}

		segments = append(segments, LineSegment{
			PatternID: link.PatternID,
			Seq:       link.Seq,
			FromStop:  link.FromStop,
			ToStop:    link.ToStop,
			LineID:    lineID,
			TravTime:  tt,
			Headway:   hw,
			Freq:      freq,
		})
	}

	sort.Slice(segments, func(i, j int) bool {
		if segments[i].LineID != segments[j].LineID {
			return segments[i].LineID < segments[j].LineID
		}
		return segments[i].Seq < segments[j].Seq
	})
	return segments, nil
}

// meanSegmentTravelTimes computes, per (pattern, segment), the mean of
// arrival[seq+1] - departure[seq] over trips. A nil window means all-day.
func meanSegmentTravelTimes(feed Feed, pattern map[string]string, win *Window) map[patternSeq]float64 {
	byTrip := make(map[string][]StopTime)
	for _, st := range feed.StopTimes {
		if win != nil && !win.contains(st) {
			continue
		}
		byTrip[st.TripID] = append(byTrip[st.TripID], st)
	}

	sum := make(map[patternSeq]float64)
	count := make(map[patternSeq]int)
	for tripID, events := range byTrip {
		sort.Slice(events, func(i, j int) bool { return events[i].Seq < events[j].Seq })
		for i := 1; i < len(events); i++ {
			if events[i].Seq != events[i-1].Seq+1 {
				continue
			}
			// stop sequence index i maps to segment sequence index i-1
			key := patternSeq{pattern: pattern[tripID], seq: events[i].Seq - 1}
			sum[key] += events[i].Arrival - events[i-1].Departure
			count[key]++
		}
	}

	out := make(map[patternSeq]float64, len(sum))
	for key, s := range sum {
		out[key] = s / float64(count[key])
	}
	return out
}

// meanPatternHeadways computes the mean headway per pattern: successive
// arrival gaps per stop, backfilled for each stop's first trip, reduced to
// the minimum across stops per trip, then averaged over trips. A stop
// served by a single trip observes the window length.
func meanPatternHeadways(feed Feed, pattern map[string]string, win Window) map[string]float64 {
	type arrival struct {
		tripID  string
		arrival float64
	}
	byStop := make(map[patternSeq][]arrival)
	for _, st := range feed.StopTimes {
		if !win.contains(st) {
			continue
		}
		key := patternSeq{pattern: pattern[st.TripID], seq: st.Seq}
		byStop[key] = append(byStop[key], arrival{tripID: st.TripID, arrival: st.Arrival})
	}

	// per (pattern, trip): minimum headway observed across stops
	minHeadway := make(map[[2]string]float64)
	for key, arrivals := range byStop {
		sort.Slice(arrivals, func(i, j int) bool {
			if arrivals[i].arrival != arrivals[j].arrival {
				return arrivals[i].arrival < arrivals[j].arrival
			}
			return arrivals[i].tripID < arrivals[j].tripID
		})

		headways := make([]float64, len(arrivals))
		if len(arrivals) == 1 {
			headways[0] = win.length()
		} else {
			for i := 1; i < len(arrivals); i++ {
				headways[i] = arrivals[i].arrival - arrivals[i-1].arrival
			}
			headways[0] = headways[1] // backfill the first trip at this stop
		}

		for i, a := range arrivals {
			tk := [2]string{key.pattern, a.tripID}
			if cur, ok := minHeadway[tk]; !ok || headways[i] < cur {
				minHeadway[tk] = headways[i]
			}
		}
	}

	// mean across trips of a pattern
	sum := make(map[string]float64)
	count := make(map[string]int)
	for tk, hw := range minHeadway {
		sum[tk[0]] += hw
		count[tk[0]]++
	}
	out := make(map[string]float64, len(sum))
	for pat, s := range sum {
		out[pat] = s / float64(count[pat])
	}
	return out
}
