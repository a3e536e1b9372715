package main

import (
	"encoding/csv"
	"flag"
	"fmt"
	"log"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"transit_assign/pkg/assign"
	"transit_assign/pkg/config"
	"transit_assign/pkg/transitgraph"
)

func main() {
	graphPath := flag.String("graph", "", "Path to binary graph file (see transitgraph.SaveBinary)")
	demandPath := flag.String("demand", "", "Path to demand CSV: origin_zone,destination_zone,volume")
	configPath := flag.String("config", "", "Optional YAML run configuration")
	threads := flag.Int("threads", 0, "Worker count override (0 = config value, which defaults to all CPUs)")
	outDir := flag.String("out", ".", "Output directory for volume and skim CSVs")
	flag.Parse()

	if *graphPath == "" || *demandPath == "" {
		fmt.Fprintln(os.Stderr, "Usage: transit-assign --graph <graph.bin> --demand <demand.csv> [--config run.yml] [--threads N] [--out dir]")
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
	if *threads > 0 {
		cfg.Assignment.Threads = *threads
	}
	skims, err := cfg.SkimCols()
	if err != nil {
		log.Fatalf("Bad skim selection: %v", err)
	}

	start := time.Now()

	// Step 1: Load graph.
	log.Printf("Loading graph from %s...", *graphPath)
	g, err := transitgraph.LoadBinary(*graphPath)
	if err != nil {
		log.Fatalf("Failed to load graph: %v", err)
	}
	log.Printf("Graph: %d vertices, %d edges, %d zones", g.NumVertices(), g.NumEdges(), len(g.ODMapping))

	// Step 2: Read demand.
	log.Printf("Reading demand from %s...", *demandPath)
	demand, err := readDemand(*demandPath)
	if err != nil {
		log.Fatalf("Failed to read demand: %v", err)
	}
	log.Printf("Demand: %d entries", len(demand))

	// Step 3: Assign.
	log.Println("Running assignment...")
	orch, err := assign.New(g, assign.Options{Threads: cfg.Assignment.Threads, Skims: skims})
	if err != nil {
		log.Fatalf("Failed to set up assignment: %v", err)
	}
	res, err := orch.Run(demand)
	if err != nil {
		log.Fatalf("Assignment failed: %v", err)
	}

	// Step 4: Write outputs.
	volPath := filepath.Join(*outDir, "edge_volumes.csv")
	log.Printf("Writing edge volumes to %s...", volPath)
	if err := writeVolumes(volPath, g, res); err != nil {
		log.Fatalf("Failed to write volumes: %v", err)
	}
	for _, col := range skims {
		path := filepath.Join(*outDir, "skim_"+col.String()+".csv")
		log.Printf("Writing %s skim to %s...", col, path)
		m, _ := res.Skim(col)
		if err := writeMatrix(path, m); err != nil {
			log.Fatalf("Failed to write skim: %v", err)
		}
	}

	log.Printf("Done in %s.", time.Since(start).Round(time.Millisecond))
}

func readDemand(path string) ([]assign.Demand, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = 3
	rows, err := r.ReadAll()
	if err != nil {
		return nil, err
	}

	demand := make([]assign.Demand, 0, len(rows))
	for i, row := range rows {
		if i == 0 && row[2] == "volume" {
			continue // header
		}
		vol, err := strconv.ParseFloat(row[2], 64)
		if err != nil {
			return nil, fmt.Errorf("row %d: bad volume %q: %w", i+1, row[2], err)
		}
		demand = append(demand, assign.Demand{Origin: row[0], Dest: row[1], Volume: vol})
	}
	return demand, nil
}

func writeVolumes(path string, g *transitgraph.Graph, res *assign.TransitResults) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{"edge_id", "type", "line_id", "volume"}); err != nil {
		return err
	}
	for _, load := range res.LoadResults() {
		e := g.Edges[load.EdgeID-1]
		rec := []string{
			strconv.FormatInt(int64(load.EdgeID), 10),
			e.Type.String(),
			e.LineID,
			strconv.FormatFloat(load.Volume, 'g', -1, 64),
		}
		if err := w.Write(rec); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

func writeMatrix(path string, m *assign.Matrix) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	zones := m.ZoneIDs()
	header := append([]string{"origin"}, zones...)
	if err := w.Write(header); err != nil {
		return err
	}
	rec := make([]string, len(zones)+1)
	for _, o := range zones {
		rec[0] = o
		for j, d := range zones {
			v, err := m.At(o, d)
			if err != nil {
				return err
			}
			if assign.IsUnreached(v) {
				v = math.Inf(1)
			}
			rec[j+1] = strconv.FormatFloat(v, 'g', -1, 64)
		}
		if err := w.Write(rec); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}
