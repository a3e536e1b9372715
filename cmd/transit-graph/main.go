package main

import (
	"encoding/csv"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkt"
	"github.com/paulmach/orb/project"

	"transit_assign/pkg/config"
	"transit_assign/pkg/schedule"
	"transit_assign/pkg/transitgraph"
)

func main() {
	dataDir := flag.String("data", "", "Directory with stops.csv, zones.csv, trips.csv, stop_times.csv, route_links.csv, routes.csv")
	configPath := flag.String("config", "", "Optional YAML run configuration")
	output := flag.String("output", "graph.bin", "Output binary graph file path")
	flag.Parse()

	if *dataDir == "" {
		fmt.Fprintln(os.Stderr, "Usage: transit-graph --data <dir> [--config run.yml] [--output graph.bin]")
		os.Exit(1)
	}

	cfg := config.Default()
	if *configPath != "" {
		var err error
		cfg, err = config.Load(*configPath)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
	}

	start := time.Now()

	// Step 1: Read the schedule feed and zone system.
	log.Printf("Reading feed from %s...", *dataDir)
	stops, err := readStops(*dataDir + "/stops.csv")
	if err != nil {
		log.Fatalf("Failed to read stops: %v", err)
	}
	zones, err := readZones(*dataDir + "/zones.csv")
	if err != nil {
		log.Fatalf("Failed to read zones: %v", err)
	}
	feed, err := readFeed(*dataDir)
	if err != nil {
		log.Fatalf("Failed to read schedule: %v", err)
	}
	log.Printf("Feed: %d stops, %d zones, %d trips, %d stop events",
		len(stops), len(zones), len(feed.Trips), len(feed.StopTimes))

	// Step 2: Derive line segments for the analysis window.
	win := cfg.TimeWindow()
	log.Printf("Deriving segments for window [%.0f, %.0f]s...", win.Start, win.End)
	segments, err := schedule.DeriveSegments(feed, win)
	if err != nil {
		log.Fatalf("Failed to derive segments: %v", err)
	}
	log.Printf("Segments: %d", len(segments))

	// Step 3: Build the assignment graph.
	log.Println("Building graph...")
	builder, err := transitgraph.NewBuilder(cfg.GraphConfig(), mercator{}, segments, stops, zones)
	if err != nil {
		log.Fatalf("Failed to set up builder: %v", err)
	}
	g, err := builder.Build()
	if err != nil {
		log.Fatalf("Failed to build graph: %v", err)
	}
	log.Printf("Graph: %d vertices, %d edges, %d zones", g.NumVertices(), g.NumEdges(), len(g.ODMapping))

	conn := g.Connectivity()
	if conn.Components > 1 {
		log.Printf("Warning: graph has %d components (largest covers %d of %d vertices)",
			conn.Components, conn.LargestSize, g.NumVertices())
	}
	for _, zone := range conn.IsolatedZones {
		log.Printf("Warning: zone %s is disconnected from the main network", zone)
	}

	// Step 4: Serialize to binary.
	log.Printf("Writing binary to %s...", *output)
	if err := transitgraph.SaveBinary(*output, g); err != nil {
		log.Fatalf("Failed to write binary: %v", err)
	}

	info, _ := os.Stat(*output)
	log.Printf("Done in %s. Output: %s (%.1f KB)",
		time.Since(start).Round(time.Millisecond), *output, float64(info.Size())/1024)
}

// mercator projects between WGS84 lon/lat and web mercator meters.
type mercator struct{}

func (mercator) ToProjected(p orb.Point) orb.Point  { return project.WGS84.ToMercator(p) }
func (mercator) ToGeographic(p orb.Point) orb.Point { return project.Mercator.ToWGS84(p) }

func readCSV(path string, fields int) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	r := csv.NewReader(f)
	r.FieldsPerRecord = fields
	rows, err := r.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(rows) > 0 {
		rows = rows[1:] // header
	}
	return rows, nil
}

func readStops(path string) ([]transitgraph.Stop, error) {
	rows, err := readCSV(path, 4)
	if err != nil {
		return nil, err
	}
	stops := make([]transitgraph.Stop, 0, len(rows))
	for i, row := range rows {
		lon, err1 := strconv.ParseFloat(row[2], 64)
		lat, err2 := strconv.ParseFloat(row[3], 64)
		if err1 != nil || err2 != nil {
			return nil, fmt.Errorf("stops.csv row %d: bad coordinates", i+2)
		}
		stops = append(stops, transitgraph.Stop{
			ID:            row[0],
			ParentStation: row[1],
			Geom:          orb.Point{lon, lat},
		})
	}
	return stops, nil
}

func readZones(path string) ([]transitgraph.Zone, error) {
	rows, err := readCSV(path, 2)
	if err != nil {
		return nil, err
	}
	zones := make([]transitgraph.Zone, 0, len(rows))
	for i, row := range rows {
		geom, err := wkt.Unmarshal(row[1])
		if err != nil {
			return nil, fmt.Errorf("zones.csv row %d: %w", i+2, err)
		}
		poly, ok := geom.(orb.Polygon)
		if !ok {
			return nil, fmt.Errorf("zones.csv row %d: geometry is %T, want polygon", i+2, geom)
		}
		zones = append(zones, transitgraph.Zone{ID: row[0], Geometry: poly})
	}
	return zones, nil
}

func readFeed(dir string) (schedule.Feed, error) {
	var feed schedule.Feed

	rows, err := readCSV(dir+"/trips.csv", 2)
	if err != nil {
		return feed, err
	}
	for _, row := range rows {
		feed.Trips = append(feed.Trips, schedule.Trip{ID: row[0], PatternID: row[1]})
	}

	rows, err = readCSV(dir+"/stop_times.csv", 4)
	if err != nil {
		return feed, err
	}
	for i, row := range rows {
		seq, err1 := strconv.ParseInt(row[1], 10, 32)
		arr, err2 := strconv.ParseFloat(row[2], 64)
		dep, err3 := strconv.ParseFloat(row[3], 64)
		if err1 != nil || err2 != nil || err3 != nil {
			return feed, fmt.Errorf("stop_times.csv row %d: bad numeric field", i+2)
		}
		feed.StopTimes = append(feed.StopTimes, schedule.StopTime{
			TripID: row[0], Seq: int32(seq), Arrival: arr, Departure: dep,
		})
	}

	rows, err = readCSV(dir+"/route_links.csv", 4)
	if err != nil {
		return feed, err
	}
	for i, row := range rows {
		seq, err := strconv.ParseInt(row[1], 10, 32)
		if err != nil {
			return feed, fmt.Errorf("route_links.csv row %d: bad sequence", i+2)
		}
		feed.RouteLinks = append(feed.RouteLinks, schedule.RouteLink{
			PatternID: row[0], Seq: int32(seq), FromStop: row[2], ToStop: row[3],
		})
	}

	rows, err = readCSV(dir+"/routes.csv", 2)
	if err != nil {
		return feed, err
	}
	for _, row := range rows {
		feed.Routes = append(feed.Routes, schedule.Route{PatternID: row[0], ShortName: row[1]})
	}

	return feed, nil
}
