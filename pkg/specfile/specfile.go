// Package specfile reads SPEC data files: a text format where a file header
// names the motors and each scan carries its own header lines, column labels
// and one row of numbers per scan point.
package specfile

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// ErrScanNotFound is returned when a scan key is not present in the file.
var ErrScanNotFound = errors.New("scan not found")

// Motor and label names may contain single spaces, so fields are separated
// by two or more.
var wideSep = regexp.MustCompile(`\s{2,}`)

// File is a parsed SPEC file.
type File struct {
	Path  string
	scans []*Scan
	index map[string]*Scan
}

// Scan is one "#S" block of a SPEC file.
type Scan struct {
	Number     int
	Occurrence int
	Command    string

	header    []string
	labels    []string
	rows      [][]float64
	motors    []string
	positions []float64
}

// Open reads and parses a SPEC file from disk.
func Open(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("error opening spec file: %w", err)
	}
	defer f.Close()

	sf, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("error parsing %s: %w", path, err)
	}
	sf.Path = path
	return sf, nil
}

// Parse reads SPEC text from r.
func Parse(r io.Reader) (*File, error) {
	sf := &File{index: make(map[string]*Scan)}
	occurrences := make(map[int]int)

	// motorNames holds the "#O<n>" lines of the current file header by n
	motorNames := make(map[int][]string)
	var current *Scan
	inData := false

	finish := func() {
		if current != nil {
			sf.scans = append(sf.scans, current)
			sf.index[current.Key()] = current
		}
		current = nil
		inData = false
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimRight(scanner.Text(), "\r")
		trimmed := strings.TrimSpace(line)

		switch {
		case trimmed == "":
			finish()

		case strings.HasPrefix(trimmed, "#S "):
			finish()
			s, err := newScan(trimmed, occurrences)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", lineNo, err)
			}
			s.motors = flattenMotors(motorNames)
			s.header = append(s.header, trimmed)
			current = s

		case current == nil:
			// File header
			if strings.HasPrefix(trimmed, "#F") {
				motorNames = make(map[int][]string)
			}
			if n, rest, ok := numberedTag(trimmed, "#O"); ok {
				motorNames[n] = splitWide(rest)
			}

		case strings.HasPrefix(trimmed, "#C") && inData:
			// Comments between data rows

		case strings.HasPrefix(trimmed, "#"):
			current.header = append(current.header, trimmed)
			if strings.HasPrefix(trimmed, "#L ") {
				current.labels = splitWide(strings.TrimSpace(trimmed[2:]))
			}
			if _, rest, ok := numberedTag(trimmed, "#P"); ok {
				for _, tok := range strings.Fields(rest) {
					v, err := strconv.ParseFloat(tok, 64)
					if err != nil {
						return nil, fmt.Errorf("line %d: bad positioner value %q: %w", lineNo, tok, err)
					}
					current.positions = append(current.positions, v)
				}
			}

		case strings.HasPrefix(trimmed, "@"):
			// MCA spectra are not used

		default:
			row, err := parseRow(trimmed)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", lineNo, err)
			}
			if len(current.labels) > 0 && len(row) != len(current.labels) {
				return nil, fmt.Errorf("line %d: scan %s row has %d columns, #L names %d",
					lineNo, current.Key(), len(row), len(current.labels))
			}
			current.rows = append(current.rows, row)
			inData = true
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading spec data: %w", err)
	}
	finish()

	return sf, nil
}

func newScan(line string, occurrences map[int]int) (*Scan, error) {
	fields := strings.Fields(line[2:])
	if len(fields) == 0 {
		return nil, fmt.Errorf("malformed scan line %q", line)
	}
	number, err := strconv.Atoi(fields[0])
	if err != nil {
		return nil, fmt.Errorf("malformed scan number in %q: %w", line, err)
	}
	occurrences[number]++
	return &Scan{
		Number:     number,
		Occurrence: occurrences[number],
		Command:    strings.Join(fields[1:], " "),
	}, nil
}

// numberedTag matches "#O3 rest" style lines.
func numberedTag(line, tag string) (int, string, bool) {
	if !strings.HasPrefix(line, tag) {
		return 0, "", false
	}
	rest := line[len(tag):]
	end := 0
	for end < len(rest) && rest[end] >= '0' && rest[end] <= '9' {
		end++
	}
	if end == 0 {
		return 0, "", false
	}
	n, _ := strconv.Atoi(rest[:end])
	return n, strings.TrimSpace(rest[end:]), true
}

func splitWide(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return wideSep.Split(s, -1)
}

func flattenMotors(byLine map[int][]string) []string {
	keys := make([]int, 0, len(byLine))
	for k := range byLine {
		keys = append(keys, k)
	}
	sort.Ints(keys)

	var out []string
	for _, k := range keys {
		out = append(out, byLine[k]...)
	}
	return out
}

func parseRow(line string) ([]float64, error) {
	fields := strings.Fields(line)
	row := make([]float64, len(fields))
	for i, tok := range fields {
		v, err := strconv.ParseFloat(tok, 64)
		if err != nil {
			return nil, fmt.Errorf("bad data value %q: %w", tok, err)
		}
		row[i] = v
	}
	return row, nil
}

// Keys returns the scan keys in file order.
func (f *File) Keys() []string {
	keys := make([]string, len(f.scans))
	for i, s := range f.scans {
		keys[i] = s.Key()
	}
	return keys
}

// Scan returns the scan with the given "number.occurrence" key.
func (f *File) Scan(key string) (*Scan, error) {
	s, ok := f.index[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrScanNotFound, key)
	}
	return s, nil
}

// ScanNumber returns the first occurrence of scan number n.
func (f *File) ScanNumber(n int) (*Scan, error) {
	return f.Scan(fmt.Sprintf("%d.1", n))
}

// Key returns the "number.occurrence" identifier of the scan.
func (s *Scan) Key() string {
	return fmt.Sprintf("%d.%d", s.Number, s.Occurrence)
}

// Labels returns the column labels from "#L".
func (s *Scan) Labels() []string {
	return s.labels
}

// Points returns the number of data rows.
func (s *Scan) Points() int {
	return len(s.rows)
}

// Measurement returns the column with the given label.
func (s *Scan) Measurement(label string) ([]float64, bool) {
	col := -1
	for i, l := range s.labels {
		if l == label {
			col = i
			break
		}
	}
	if col < 0 {
		return nil, false
	}

	out := make([]float64, len(s.rows))
	for i, row := range s.rows {
		out[i] = row[col]
	}
	return out, true
}

// Positioner returns the value of a motor at the start of the scan,
// matching "#P" values to the "#O" names of the file header.
func (s *Scan) Positioner(name string) (float64, bool) {
	for i, m := range s.motors {
		if m == name && i < len(s.positions) {
			return s.positions[i], true
		}
	}
	return 0, false
}

// Header returns the raw scan header lines; the first is the "#S" line.
func (s *Scan) Header() []string {
	return s.header
}

// HeaderLine returns the i-th raw scan header line.
func (s *Scan) HeaderLine(i int) (string, bool) {
	if i < 0 || i >= len(s.header) {
		return "", false
	}
	return s.header[i], true
}

// OrientationMatrix returns the UB matrix stored as the first nine values of
// the "#G3" line, row-major.
func (s *Scan) OrientationMatrix() ([9]float64, bool) {
	var ub [9]float64
	for _, line := range s.header {
		n, rest, ok := numberedTag(line, "#G")
		if !ok || n != 3 {
			continue
		}
		fields := strings.Fields(rest)
		if len(fields) < 9 {
			return ub, false
		}
		for i := 0; i < 9; i++ {
			v, err := strconv.ParseFloat(fields[i], 64)
			if err != nil {
				return ub, false
			}
			ub[i] = v
		}
		return ub, true
	}
	return ub, false
}
