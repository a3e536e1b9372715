package transitgraph

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"unsafe"

	"github.com/paulmach/orb"
)

const (
	magicBytes  = "TRNGRAPH"
	version     = uint32(1)
	maxVertices = 50_000_000
	maxEdges    = 200_000_000
)

// fileHeader is the binary header.
type fileHeader struct {
	Magic       [8]byte
	Version     uint32
	NumVertices uint32
	NumEdges    uint32
	NumODNodes  uint32
	NumStrings  uint32
}

// stringTable interns the text columns of the vertex and edge tables so
// they serialize as uint32 indices. Index 0 is the empty string.
type stringTable struct {
	index   map[string]uint32
	strings []string
}

func newStringTable() *stringTable {
	t := &stringTable{index: map[string]uint32{"": 0}, strings: []string{""}}
	return t
}

func (t *stringTable) intern(s string) uint32 {
	if i, ok := t.index[s]; ok {
		return i
	}
	i := uint32(len(t.strings))
	t.index[s] = i
	t.strings = append(t.strings, s)
	return i
}

func (t *stringTable) lookup(i uint32) (string, error) {
	if int(i) >= len(t.strings) {
		return "", fmt.Errorf("string index %d out of range (%d strings)", i, len(t.strings))
	}
	return t.strings[i], nil
}

// SaveBinary serializes a graph to a binary file via a temp file and an
// atomic rename. The format is column-oriented with zero-copy slice I/O
// and a CRC32 trailer; a reloaded graph is identical to the saved one,
// configuration included.
func SaveBinary(path string, g *Graph) error {
	tmpPath := path + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		f.Close()
		os.Remove(tmpPath) // clean up on error
	}()

	strs := newStringTable()
	vcols := packVertices(g.Vertices, strs)
	ecols := packEdges(g.Edges, strs)
	ocols := packODMapping(g.ODMapping, strs)
	ccol := packConfig(&g.Config, strs)

	crcW := crc32Writer{w: f, hash: crc32.NewIEEE()}
	w := &crcW

	hdr := fileHeader{
		Version:     version,
		NumVertices: uint32(len(g.Vertices)),
		NumEdges:    uint32(len(g.Edges)),
		NumODNodes:  uint32(len(g.ODMapping)),
		NumStrings:  uint32(len(strs.strings)),
	}
	copy(hdr.Magic[:], magicBytes)
	if err := binary.Write(w, binary.LittleEndian, &hdr); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	if err := writeStringTable(w, strs); err != nil {
		return fmt.Errorf("write string table: %w", err)
	}
	if err := vcols.writeTo(w); err != nil {
		return fmt.Errorf("write vertex table: %w", err)
	}
	if err := ecols.writeTo(w); err != nil {
		return fmt.Errorf("write edge table: %w", err)
	}
	if err := ocols.writeTo(w); err != nil {
		return fmt.Errorf("write od mapping: %w", err)
	}
	if err := ccol.writeTo(w); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	checksum := crcW.hash.Sum32()
	if err := binary.Write(f, binary.LittleEndian, checksum); err != nil {
		return fmt.Errorf("write CRC32: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}

// LoadBinary deserializes a graph saved by SaveBinary, validating the
// magic, version, checksum and vertex references.
func LoadBinary(path string) (*Graph, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}
	defer f.Close()

	crcR := crc32Reader{r: f, hash: crc32.NewIEEE()}
	r := &crcR

	var hdr fileHeader
	if err := binary.Read(r, binary.LittleEndian, &hdr); err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if string(hdr.Magic[:]) != magicBytes {
		return nil, fmt.Errorf("invalid magic bytes: %q", hdr.Magic)
	}
	if hdr.Version != version {
		return nil, fmt.Errorf("unsupported version: %d", hdr.Version)
	}
	if hdr.NumVertices > maxVertices {
		return nil, fmt.Errorf("NumVertices %d exceeds limit %d", hdr.NumVertices, maxVertices)
	}
	if hdr.NumEdges > maxEdges {
		return nil, fmt.Errorf("NumEdges %d exceeds limit %d", hdr.NumEdges, maxEdges)
	}

	strs, err := readStringTable(r, int(hdr.NumStrings))
	if err != nil {
		return nil, fmt.Errorf("read string table: %w", err)
	}

	vcols := newVertexColumns(int(hdr.NumVertices))
	if err := vcols.readFrom(r); err != nil {
		return nil, fmt.Errorf("read vertex table: %w", err)
	}
	ecols := newEdgeColumns(int(hdr.NumEdges))
	if err := ecols.readFrom(r); err != nil {
		return nil, fmt.Errorf("read edge table: %w", err)
	}
	ocols := newODColumns(int(hdr.NumODNodes))
	if err := ocols.readFrom(r); err != nil {
		return nil, fmt.Errorf("read od mapping: %w", err)
	}
	var ccol configColumns
	if err := ccol.readFrom(r); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	expectedCRC := crcR.hash.Sum32()
	var storedCRC uint32
	if err := binary.Read(f, binary.LittleEndian, &storedCRC); err != nil {
		return nil, fmt.Errorf("read CRC32: %w", err)
	}
	if storedCRC != expectedCRC {
		return nil, fmt.Errorf("CRC32 mismatch: stored=%08x computed=%08x", storedCRC, expectedCRC)
	}

	g := &Graph{}
	if g.Vertices, err = vcols.unpack(strs); err != nil {
		return nil, fmt.Errorf("unpack vertex table: %w", err)
	}
	if g.Edges, err = ecols.unpack(strs); err != nil {
		return nil, fmt.Errorf("unpack edge table: %w", err)
	}
	if g.ODMapping, err = ocols.unpack(strs); err != nil {
		return nil, fmt.Errorf("unpack od mapping: %w", err)
	}
	if g.Config, err = ccol.unpack(strs); err != nil {
		return nil, fmt.Errorf("unpack config: %w", err)
	}

	nv := int32(len(g.Vertices))
	for _, e := range g.Edges {
		if e.Tail < 1 || e.Tail > nv || e.Head < 1 || e.Head > nv {
			return nil, fmt.Errorf("edge %d references vertex out of range (%d -> %d, %d vertices)",
				e.ID, e.Tail, e.Head, nv)
		}
	}
	return g, nil
}

// vertexColumns is the column-oriented form of the vertex table.
type vertexColumns struct {
	typ        []uint8
	stopID     []uint32
	lineID     []uint32
	lineSegIdx []int32
	zoneID     []uint32
	geomX      []float64
	geomY      []float64
}

func newVertexColumns(n int) *vertexColumns {
	return &vertexColumns{
		typ:        make([]uint8, n),
		stopID:     make([]uint32, n),
		lineID:     make([]uint32, n),
		lineSegIdx: make([]int32, n),
		zoneID:     make([]uint32, n),
		geomX:      make([]float64, n),
		geomY:      make([]float64, n),
	}
}

func packVertices(vs []Vertex, strs *stringTable) *vertexColumns {
	c := newVertexColumns(len(vs))
	for i, v := range vs {
		c.typ[i] = uint8(v.Type)
		c.stopID[i] = strs.intern(v.StopID)
		c.lineID[i] = strs.intern(v.LineID)
		c.lineSegIdx[i] = v.LineSegIdx
		c.zoneID[i] = strs.intern(v.ZoneID)
		c.geomX[i] = v.Geom[0]
		c.geomY[i] = v.Geom[1]
	}
	return c
}

func (c *vertexColumns) unpack(strs *stringTable) ([]Vertex, error) {
	vs := make([]Vertex, len(c.typ))
	for i := range vs {
		stopID, err := strs.lookup(c.stopID[i])
		if err != nil {
			return nil, err
		}
		lineID, err := strs.lookup(c.lineID[i])
		if err != nil {
			return nil, err
		}
		zoneID, err := strs.lookup(c.zoneID[i])
		if err != nil {
			return nil, err
		}
		vs[i] = Vertex{
			ID:         int32(i + 1),
			Type:       VertexType(c.typ[i]),
			StopID:     stopID,
			LineID:     lineID,
			LineSegIdx: c.lineSegIdx[i],
			ZoneID:     zoneID,
			Geom:       orb.Point{c.geomX[i], c.geomY[i]},
		}
	}
	return vs, nil
}

func (c *vertexColumns) writeTo(w io.Writer) error {
	return writeAll(w,
		c.typ, c.stopID, c.lineID, c.lineSegIdx, c.zoneID, c.geomX, c.geomY)
}

func (c *vertexColumns) readFrom(r io.Reader) error {
	return readAll(r,
		c.typ, c.stopID, c.lineID, c.lineSegIdx, c.zoneID, c.geomX, c.geomY)
}

// edgeColumns is the column-oriented form of the edge table.
type edgeColumns struct {
	typ        []uint8
	lineID     []uint32
	stopID     []uint32
	lineSegIdx []int32
	tail       []int32
	head       []int32
	trav       []float64
	freq       []float64
	oLineID    []uint32
	dLineID    []uint32
	direction  []uint8
}

func newEdgeColumns(n int) *edgeColumns {
	return &edgeColumns{
		typ:        make([]uint8, n),
		lineID:     make([]uint32, n),
		stopID:     make([]uint32, n),
		lineSegIdx: make([]int32, n),
		tail:       make([]int32, n),
		head:       make([]int32, n),
		trav:       make([]float64, n),
		freq:       make([]float64, n),
		oLineID:    make([]uint32, n),
		dLineID:    make([]uint32, n),
		direction:  make([]uint8, n),
	}
}

func packEdges(es []Edge, strs *stringTable) *edgeColumns {
	c := newEdgeColumns(len(es))
	for i, e := range es {
		c.typ[i] = uint8(e.Type)
		c.lineID[i] = strs.intern(e.LineID)
		c.stopID[i] = strs.intern(e.StopID)
		c.lineSegIdx[i] = e.LineSegIdx
		c.tail[i] = e.Tail
		c.head[i] = e.Head
		c.trav[i] = e.TravTime
		c.freq[i] = e.Freq
		c.oLineID[i] = strs.intern(e.OLineID)
		c.dLineID[i] = strs.intern(e.DLineID)
		c.direction[i] = uint8(e.Direction)
	}
	return c
}

func (c *edgeColumns) unpack(strs *stringTable) ([]Edge, error) {
	es := make([]Edge, len(c.typ))
	for i := range es {
		lineID, err := strs.lookup(c.lineID[i])
		if err != nil {
			return nil, err
		}
		stopID, err := strs.lookup(c.stopID[i])
		if err != nil {
			return nil, err
		}
		oLineID, err := strs.lookup(c.oLineID[i])
		if err != nil {
			return nil, err
		}
		dLineID, err := strs.lookup(c.dLineID[i])
		if err != nil {
			return nil, err
		}
		es[i] = Edge{
			ID:         int32(i + 1),
			Type:       EdgeType(c.typ[i]),
			LineID:     lineID,
			StopID:     stopID,
			LineSegIdx: c.lineSegIdx[i],
			Tail:       c.tail[i],
			Head:       c.head[i],
			TravTime:   c.trav[i],
			Freq:       c.freq[i],
			OLineID:    oLineID,
			DLineID:    dLineID,
			Direction:  int8(c.direction[i]),
		}
	}
	return es, nil
}

func (c *edgeColumns) writeTo(w io.Writer) error {
	return writeAll(w,
		c.typ, c.lineID, c.stopID, c.lineSegIdx, c.tail, c.head,
		c.trav, c.freq, c.oLineID, c.dLineID, c.direction)
}

func (c *edgeColumns) readFrom(r io.Reader) error {
	return readAll(r,
		c.typ, c.lineID, c.stopID, c.lineSegIdx, c.tail, c.head,
		c.trav, c.freq, c.oLineID, c.dLineID, c.direction)
}

// odColumns is the column-oriented form of the od-node mapping.
type odColumns struct {
	zoneID     []uint32
	originNode []int32
	destNode   []int32
}

func newODColumns(n int) *odColumns {
	return &odColumns{
		zoneID:     make([]uint32, n),
		originNode: make([]int32, n),
		destNode:   make([]int32, n),
	}
}

func packODMapping(ms []ODNode, strs *stringTable) *odColumns {
	c := newODColumns(len(ms))
	for i, m := range ms {
		c.zoneID[i] = strs.intern(m.ZoneID)
		c.originNode[i] = m.OriginNode
		c.destNode[i] = m.DestNode
	}
	return c
}

func (c *odColumns) unpack(strs *stringTable) ([]ODNode, error) {
	ms := make([]ODNode, len(c.zoneID))
	for i := range ms {
		zoneID, err := strs.lookup(c.zoneID[i])
		if err != nil {
			return nil, err
		}
		ms[i] = ODNode{ZoneID: zoneID, OriginNode: c.originNode[i], DestNode: c.destNode[i]}
	}
	return ms, nil
}

func (c *odColumns) writeTo(w io.Writer) error {
	return writeAll(w, c.zoneID, c.originNode, c.destNode)
}

func (c *odColumns) readFrom(r io.Reader) error {
	return readAll(r, c.zoneID, c.originNode, c.destNode)
}

// configColumns flattens Config into fixed-width fields.
type configColumns struct {
	floats [9]float64
	bools  [6]uint8
	method uint32
	maxCon int32
	seed   uint64
}

func packConfig(cfg *Config, strs *stringTable) *configColumns {
	c := &configColumns{
		floats: [9]float64{
			cfg.UniformDwellTime, cfg.AlightingPenalty, cfg.WaitTimeFactor,
			cfg.WalkTimeFactor, cfg.WalkingSpeed, cfg.AccessTimeFactor,
			cfg.EgressTimeFactor, cfg.DistanceUpperBound, cfg.NoiseCoef,
		},
		method: strs.intern(string(cfg.ConnectorMethod)),
		maxCon: int32(cfg.MaxConnectorsPerZone),
		seed:   cfg.Seed,
	}
	bools := []bool{
		cfg.WithInnerStopTransfers, cfg.WithOuterStopTransfers,
		cfg.WithWalkingEdges, cfg.AllowMissingConnections,
		cfg.BlockingCentroidFlows, cfg.GeometryNoise,
	}
	for i, b := range bools {
		if b {
			c.bools[i] = 1
		}
	}
	return c
}

func (c *configColumns) unpack(strs *stringTable) (Config, error) {
	method, err := strs.lookup(c.method)
	if err != nil {
		return Config{}, err
	}
	return Config{
		UniformDwellTime:        c.floats[0],
		AlightingPenalty:        c.floats[1],
		WaitTimeFactor:          c.floats[2],
		WalkTimeFactor:          c.floats[3],
		WalkingSpeed:            c.floats[4],
		AccessTimeFactor:        c.floats[5],
		EgressTimeFactor:        c.floats[6],
		DistanceUpperBound:      c.floats[7],
		NoiseCoef:               c.floats[8],
		ConnectorMethod:         ConnectorMethod(method),
		MaxConnectorsPerZone:    int(c.maxCon),
		Seed:                    c.seed,
		WithInnerStopTransfers:  c.bools[0] != 0,
		WithOuterStopTransfers:  c.bools[1] != 0,
		WithWalkingEdges:        c.bools[2] != 0,
		AllowMissingConnections: c.bools[3] != 0,
		BlockingCentroidFlows:   c.bools[4] != 0,
		GeometryNoise:           c.bools[5] != 0,
	}, nil
}

func (c *configColumns) writeTo(w io.Writer) error {
	if err := writeAll(w, c.floats[:], c.bools[:]); err != nil {
		return err
	}
	for _, v := range []any{c.method, c.maxCon, c.seed} {
		if err := binary.Write(w, binary.LittleEndian, v); err != nil {
			return err
		}
	}
	return nil
}

func (c *configColumns) readFrom(r io.Reader) error {
	if err := readAll(r, c.floats[:], c.bools[:]); err != nil {
		return err
	}
	for _, v := range []any{&c.method, &c.maxCon, &c.seed} {
		if err := binary.Read(r, binary.LittleEndian, v); err != nil {
			return err
		}
	}
	return nil
}

func writeStringTable(w io.Writer, t *stringTable) error {
	for _, s := range t.strings {
		if err := binary.Write(w, binary.LittleEndian, uint32(len(s))); err != nil {
			return err
		}
		if _, err := io.WriteString(w, s); err != nil {
			return err
		}
	}
	return nil
}

func readStringTable(r io.Reader, n int) (*stringTable, error) {
	if n < 1 {
		return nil, fmt.Errorf("string table must hold at least the empty string")
	}
	t := &stringTable{index: make(map[string]uint32, n), strings: make([]string, 0, n)}
	buf := make([]byte, 0, 64)
	for i := 0; i < n; i++ {
		var sz uint32
		if err := binary.Read(r, binary.LittleEndian, &sz); err != nil {
			return nil, err
		}
		if sz > 1<<20 {
			return nil, fmt.Errorf("string %d too large: %d bytes", i, sz)
		}
		if cap(buf) < int(sz) {
			buf = make([]byte, sz)
		}
		buf = buf[:sz]
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, err
		}
		s := string(buf)
		t.index[s] = uint32(i)
		t.strings = append(t.strings, s)
	}
	if t.strings[0] != "" {
		return nil, fmt.Errorf("string table slot 0 must be the empty string")
	}
	return t, nil
}

// Zero-copy slice I/O, one code path per element width via generics.

type column interface {
	~uint8 | ~int32 | ~uint32 | ~float64
}

func writeSlice[T column](w io.Writer, s []T) error {
	if len(s) == 0 {
		return nil
	}
	b := unsafe.Slice((*byte)(unsafe.Pointer(&s[0])), len(s)*int(unsafe.Sizeof(s[0])))
	_, err := w.Write(b)
	return err
}

func readSlice[T column](r io.Reader, s []T) error {
	if len(s) == 0 {
		return nil
	}
	b := unsafe.Slice((*byte)(unsafe.Pointer(&s[0])), len(s)*int(unsafe.Sizeof(s[0])))
	_, err := io.ReadFull(r, b)
	return err
}

func writeAll(w io.Writer, cols ...any) error {
	for _, c := range cols {
		var err error
		switch s := c.(type) {
		case []uint8:
			err = writeSlice(w, s)
		case []int32:
			err = writeSlice(w, s)
		case []uint32:
			err = writeSlice(w, s)
		case []float64:
			err = writeSlice(w, s)
		default:
			err = fmt.Errorf("unsupported column type %T", c)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func readAll(r io.Reader, cols ...any) error {
	for _, c := range cols {
		var err error
		switch s := c.(type) {
		case []uint8:
			err = readSlice(r, s)
		case []int32:
			err = readSlice(r, s)
		case []uint32:
			err = readSlice(r, s)
		case []float64:
			err = readSlice(r, s)
		default:
			err = fmt.Errorf("unsupported column type %T", c)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// CRC32 wrapping writer/reader.

type crc32Writer struct {
	w    io.Writer
	hash crc32Hash
}

type crc32Hash interface {
	Write([]byte) (int, error)
	Sum32() uint32
}

func (cw *crc32Writer) Write(p []byte) (int, error) {
	cw.hash.Write(p)
	return cw.w.Write(p)
}

type crc32Reader struct {
	r    io.Reader
	hash crc32Hash
}

func (cr *crc32Reader) Read(p []byte) (int, error) {
	n, err := cr.r.Read(p)
	if n > 0 {
		cr.hash.Write(p[:n])
	}
	return n, err
}
