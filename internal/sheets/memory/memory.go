package memory

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"bilancio/internal/report"
	ports "bilancio/internal/sheets"
)

var (
	_ ports.ReportWriter   = (*Store)(nil)
	_ ports.ReportLister   = (*Store)(nil)
	_ ports.CategoryReader = (*Store)(nil)
)

type Store struct {
	mu   sync.Mutex
	cats []string
	rows []ports.ReportRow
}

func New(cats []string) *Store {
	return &Store{cats: dedupe(cats)}
}

// NewFromFile seeds categories from path, one per line. Blank lines and
// lines starting with # are skipped.
func NewFromFile(path string) (*Store, error) {
	cats, err := readLines(path)
	if err != nil {
		return nil, err
	}
	return New(cats), nil
}

// AppendReport stores the report row and returns a synthetic row reference.
func (s *Store) AppendReport(_ context.Context, r report.Report) (string, error) {
	if !r.Kind.Valid() {
		return "", fmt.Errorf("unknown report kind %q", r.Kind)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = append(s.rows, ports.RowFrom(r))
	return fmt.Sprintf("mem:%d", len(s.rows)), nil
}

func (s *Store) ListReports(_ context.Context) ([]ports.ReportRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ports.ReportRow(nil), s.rows...), nil
}

func (s *Store) ListCategories(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.cats...), nil
}

func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open categories file: %w", err)
	}
	defer f.Close()
	var out []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read categories file: %w", err)
	}
	return dedupe(out), nil
}

// dedupe drops blanks and repeats, preserving input order.
func dedupe(in []string) []string {
	seen := map[string]struct{}{}
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
