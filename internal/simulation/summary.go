package simulation

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

const (
	responseColumn = "response"
	barWidth       = 40
)

// ErrNoResponseColumn is returned for a CSV without a response column.
var ErrNoResponseColumn = errors.New("CSV file must contain a 'response' column")

// Count is how often one response occurred.
type Count struct {
	Response string `json:"response"`
	Count    int    `json:"count"`
}

// SummarizeFile counts the responses in a CSV file.
func SummarizeFile(path string) ([]Count, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open responses: %w", err)
	}
	defer f.Close()
	return Summarize(f)
}

// Summarize counts the values of the response column, most frequent
// first. Ties keep first-seen order; empty cells are ignored.
func Summarize(r io.Reader) ([]Count, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, errors.New("CSV file is empty")
	}
	if err != nil {
		return nil, fmt.Errorf("parse CSV: %w", err)
	}
	col := -1
	for i, h := range header {
		if strings.TrimSpace(h) == responseColumn {
			col = i
			break
		}
	}
	if col < 0 {
		return nil, ErrNoResponseColumn
	}

	index := make(map[string]int)
	var counts []Count
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse CSV: %w", err)
		}
		if col >= len(row) || strings.TrimSpace(row[col]) == "" {
			continue
		}
		v := row[col]
		if i, ok := index[v]; ok {
			counts[i].Count++
			continue
		}
		index[v] = len(counts)
		counts = append(counts, Count{Response: v, Count: 1})
	}
	sort.SliceStable(counts, func(i, j int) bool { return counts[i].Count > counts[j].Count })
	return counts, nil
}

// Bar is the histogram bar for count, scaled so max fills barWidth cells.
func Bar(count, max int) string {
	if max <= 0 || count <= 0 {
		return ""
	}
	return strings.Repeat("█", count*barWidth/max)
}

// RenderSummary draws counts as a table with a bar column.
func RenderSummary(counts []Count) string {
	if len(counts) == 0 {
		return "No data found in response column"
	}
	max := counts[0].Count
	for _, c := range counts {
		if c.Count > max {
			max = c.Count
		}
	}

	header := lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cell := lipgloss.NewStyle().Padding(0, 1)
	bar := cell.Foreground(lipgloss.Color("40"))

	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("Response", "Count", "Bar").
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return header
			case col == 1:
				return cell.Align(lipgloss.Right)
			case col == 2:
				return bar
			}
			return cell
		})
	for _, c := range counts {
		t.Row(c.Response, strconv.Itoa(c.Count), Bar(c.Count, max))
	}
	title := lipgloss.NewStyle().Bold(true).Render("Response Summary")
	return title + "\n" + t.Render()
}
