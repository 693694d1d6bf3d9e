package mgp

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// coefficientsPerLine is the record width of the coefficient file.
const coefficientsPerLine = 5

// WriteCoefficients writes the mean spline as one coefficient-file record.
//
// The header is the element symbols, then the lower bounds, the upper
// bounds and the resolutions, space separated; for a pair "H O 0.5 5.0 64".
// Coefficients follow in "%.10e " format, five per line, and the record ends
// with a single newline.
//
// Parameters:
// - w: destination; output is buffered and flushed before returning
//
// Returns:
// - error: NotFitError before Build, or the writer's error
//
// Thread safety:
// - Takes the read lock, so a concurrent Build waits for the record to be
// written completely.
func (m *SingleInteractionMap) WriteCoefficients(w io.Writer) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.state != Fit {
		return &NotFitError{Key: m.key}
	}

	bw := bufio.NewWriter(w)

	fields := make([]string, 0, len(m.key.Elements())+3*m.grid.Dims())
	for _, z := range m.key.Elements() {
		fields = append(fields, ElementSymbol(z))
	}

	for _, v := range m.grid.Lower {
		fields = append(fields, pythonFloat(v))
	}

	for _, v := range m.grid.Upper {
		fields = append(fields, pythonFloat(v))
	}

	for _, n := range m.grid.Resolution {
		fields = append(fields, strconv.Itoa(n))
	}

	bw.WriteString(strings.Join(fields, " "))
	bw.WriteByte('\n')

	coeffs := m.mean.Coefficients()
	for c, v := range coeffs {
		fmt.Fprintf(bw, "%.10e ", v)

		if c%coefficientsPerLine == coefficientsPerLine-1 && c != len(coeffs)-1 {
			bw.WriteByte('\n')
		}
	}

	bw.WriteByte('\n')

	if err := bw.Flush(); err != nil {
		return fmt.Errorf("mgp: write %s coefficients: %w", m.key, err)
	}

	return nil
}

// WriteCoefficients writes one record per interaction, in key order.
//
// Parameters:
// - w: destination; records are written back to back, each ending with a
// single newline
//
// Returns:
// - error: NotFitError before the first successful Build, or the first
// write failure. Records written before the failure stay in w.
//
// Usage example:
//
//	f, err := os.Create("lmp.mgp")
//	if err != nil {
//	    return err
//	}
//	defer f.Close()
//
//	if err := surrogate.WriteCoefficients(f); err != nil {
//	    return err
//	}
func (s *MappedSurrogate) WriteCoefficients(w io.Writer) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, key := range s.keys {
		if err := s.maps[key].WriteCoefficients(w); err != nil {
			return err
		}
	}

	return nil
}
