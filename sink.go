package mgp

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// DiagnosticSink receives the grid arrays of every fit map. Names are
// "<grid tag>_<mean|var>_<interaction>", e.g. "grid2_mean_H_O". Shape is
// the grid resolution, followed by the training DOF count for variances;
// data is row-major.
type DiagnosticSink interface {
	Save(name string, shape []int, data []float64) error
}

// NopSink discards everything.
type NopSink struct{}

// Save implements DiagnosticSink.
func (NopSink) Save(string, []int, []float64) error { return nil }

// NpySink writes each array to Dir/<name>.npy in NumPy format version 1.0,
// little-endian float64.
type NpySink struct {
	Dir string
}

// Save implements DiagnosticSink.
func (s NpySink) Save(name string, shape []int, data []float64) error {
	size := 1
	for _, n := range shape {
		size *= n
	}

	if size != len(data) {
		return fmt.Errorf("npy %s: shape %v holds %d values, got %d", name, shape, size, len(data))
	}

	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return fmt.Errorf("npy %s: %w", name, err)
	}

	f, err := os.Create(filepath.Join(s.Dir, name+".npy"))
	if err != nil {
		return fmt.Errorf("npy %s: %w", name, err)
	}

	w := bufio.NewWriter(f)

	if _, err := w.Write(npyHeader(shape)); err != nil {
		f.Close()

		return fmt.Errorf("npy %s: %w", name, err)
	}

	var buf [8]byte
	for _, v := range data {
		binary.LittleEndian.PutUint64(buf[:], math.Float64bits(v))
		w.Write(buf[:])
	}

	if err := w.Flush(); err != nil {
		f.Close()

		return fmt.Errorf("npy %s: %w", name, err)
	}

	return f.Close()
}

// npyHeader returns the magic string, version, header length and the
// space-padded header dict, aligned to 64 bytes.
func npyHeader(shape []int) []byte {
	dims := make([]string, len(shape))
	for i, n := range shape {
		dims[i] = strconv.Itoa(n)
	}

	tuple := strings.Join(dims, ", ")
	if len(shape) == 1 {
		tuple += ","
	}

	dict := fmt.Sprintf("{'descr': '<f8', 'fortran_order': False, 'shape': (%s), }", tuple)

	const prefix = 10 // magic (6) + version (2) + header length (2)

	total := prefix + len(dict) + 1
	if rem := total % 64; rem != 0 {
		total += 64 - rem
	}

	header := make([]byte, 0, total)
	header = append(header, "\x93NUMPY"...)
	header = append(header, 1, 0)
	header = binary.LittleEndian.AppendUint16(header, uint16(total-prefix))
	header = append(header, dict...)

	for len(header) < total-1 {
		header = append(header, ' ')
	}

	return append(header, '\n')
}
