package schedule

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

// twoTripFeed serves pattern p1 (stops A -> B -> C) with two trips ten
// minutes apart, both inside the 07:00-08:00 window.
func twoTripFeed() Feed {
	return Feed{
		Trips: []Trip{
			{ID: "t1", PatternID: "p1"},
			{ID: "t2", PatternID: "p1"},
		},
		StopTimes: []StopTime{
			{TripID: "t1", Seq: 0, Arrival: 25200, Departure: 25200},
			{TripID: "t1", Seq: 1, Arrival: 25500, Departure: 25520},
			{TripID: "t1", Seq: 2, Arrival: 25800, Departure: 25800},
			{TripID: "t2", Seq: 0, Arrival: 25800, Departure: 25800},
			{TripID: "t2", Seq: 1, Arrival: 26100, Departure: 26120},
			{TripID: "t2", Seq: 2, Arrival: 26400, Departure: 26400},
		},
		RouteLinks: []RouteLink{
			{PatternID: "p1", Seq: 0, FromStop: "A", ToStop: "B"},
			{PatternID: "p1", Seq: 1, FromStop: "B", ToStop: "C"},
		},
		Routes: []Route{{PatternID: "p1", ShortName: "10"}},
	}
}

var window = Window{Start: 25200, End: 28800}

func TestDeriveSegmentsBasic(t *testing.T) {
	segments, err := DeriveSegments(twoTripFeed(), window)
	require.NoError(t, err)
	require.Len(t, segments, 2)

	first := segments[0]
	require.Equal(t, "10_p1", first.LineID)
	require.Equal(t, "A", first.FromStop)
	require.Equal(t, "B", first.ToStop)
	require.InDelta(t, 300.0, first.TravTime, 1e-9)
	require.InDelta(t, 600.0, first.Headway, 1e-9)
	require.InDelta(t, 1.0/600.0, first.Freq, 1e-12)

	second := segments[1]
	require.Equal(t, int32(1), second.Seq)
	require.InDelta(t, 280.0, second.TravTime, 1e-9) // arrival minus previous departure
	require.InDelta(t, 600.0, second.Headway, 1e-9)
}

func TestLineIDWithoutShortName(t *testing.T) {
	feed := twoTripFeed()
	feed.Routes = nil

	segments, err := DeriveSegments(feed, window)
	require.NoError(t, err)
	require.Equal(t, "p1", segments[0].LineID)
}

func TestInactivePatternExcluded(t *testing.T) {
	feed := twoTripFeed()
	// p2 runs entirely before the window
	feed.Trips = append(feed.Trips, Trip{ID: "t3", PatternID: "p2"})
	feed.StopTimes = append(feed.StopTimes,
		StopTime{TripID: "t3", Seq: 0, Arrival: 3600, Departure: 3600},
		StopTime{TripID: "t3", Seq: 1, Arrival: 3900, Departure: 3900},
	)
	feed.RouteLinks = append(feed.RouteLinks, RouteLink{PatternID: "p2", Seq: 0, FromStop: "D", ToStop: "E"})

	segments, err := DeriveSegments(feed, window)
	require.NoError(t, err)
	for _, seg := range segments {
		require.Equal(t, "p1", seg.PatternID)
	}
}

func TestTravTimeFallsBackToAllDayMean(t *testing.T) {
	feed := twoTripFeed()
	// shrink the window so every trip's last stop falls outside: segment 1
	// is not observable in-window, but the all-day mean still is
	narrow := Window{Start: 25200, End: 25700}

	segments, err := DeriveSegments(feed, narrow)
	require.NoError(t, err)
	require.Len(t, segments, 2)
	require.InDelta(t, 280.0, segments[1].TravTime, 1e-9)
}

func TestTravTimeFallsBackToWindowLength(t *testing.T) {
	feed := Feed{
		Trips: []Trip{{ID: "t1", PatternID: "p1"}},
		StopTimes: []StopTime{
			// seq 1 is never observed, so neither segment time is
			// computable from consecutive events
			{TripID: "t1", Seq: 0, Arrival: 25200, Departure: 25200},
			{TripID: "t1", Seq: 2, Arrival: 25800, Departure: 25800},
		},
		RouteLinks: []RouteLink{
			{PatternID: "p1", Seq: 0, FromStop: "A", ToStop: "B"},
			{PatternID: "p1", Seq: 1, FromStop: "B", ToStop: "C"},
		},
	}
	segments, err := DeriveSegments(feed, window)
	require.NoError(t, err)
	require.Len(t, segments, 2)
	for _, seg := range segments {
		require.InDelta(t, window.length(), seg.TravTime, 1e-9)
	}
}

func TestSingleTripHeadwayIsWindowLength(t *testing.T) {
	feed := twoTripFeed()
	feed.Trips = feed.Trips[:1]
	feed.StopTimes = feed.StopTimes[:3]

	segments, err := DeriveSegments(feed, window)
	require.NoError(t, err)
	require.Len(t, segments, 2)
	require.InDelta(t, window.length(), segments[0].Headway, 1e-9)
	require.InDelta(t, 1.0/window.length(), segments[0].Freq, 1e-12)
}

func TestWindowMarginWidensFilter(t *testing.T) {
	feed := twoTripFeed()
	// the bare window cuts off t1's last stop; the margin pulls it back in
	narrow := Window{Start: 25200, End: 25700, Margin: 300}

	segments, err := DeriveSegments(feed, narrow)
	require.NoError(t, err)
	// with the margin, segment 1 is observable in-window again
	require.InDelta(t, 280.0, segments[1].TravTime, 1e-9)
}

func TestDeriveSegmentsSorted(t *testing.T) {
	feed := twoTripFeed()
	feed.Trips = append(feed.Trips, Trip{ID: "t4", PatternID: "p0"})
	feed.StopTimes = append(feed.StopTimes,
		StopTime{TripID: "t4", Seq: 0, Arrival: 25300, Departure: 25300},
		StopTime{TripID: "t4", Seq: 1, Arrival: 25400, Departure: 25400},
	)
	feed.RouteLinks = append(feed.RouteLinks,
		RouteLink{PatternID: "p0", Seq: 0, FromStop: "D", ToStop: "E"},
	)

	segments, err := DeriveSegments(feed, window)
	require.NoError(t, err)
	require.Len(t, segments, 3)
	require.Equal(t, "10_p1", segments[0].LineID)
	require.Equal(t, int32(0), segments[0].Seq)
	require.Equal(t, int32(1), segments[1].Seq)
	require.Equal(t, "p0", segments[2].LineID)
}

func TestBadWindowRejected(t *testing.T) {
	_, err := DeriveSegments(twoTripFeed(), Window{Start: 28800, End: 25200})
	require.Error(t, err)
	_, err = DeriveSegments(twoTripFeed(), Window{Start: 25200, End: 25200})
	require.Error(t, err)
}

func TestWindowMathHelpers(t *testing.T) {
	w := Window{Start: 100, End: 200, Margin: 10}
	require.Equal(t, 90.0, w.start())
	require.Equal(t, 210.0, w.end())
	require.Equal(t, 120.0, w.length())
	require.False(t, math.IsInf(w.length(), 0))
}
