// Package shell implements the interactive SQL shell of axislogd.
//
// Lines starting with a backslash are shell commands; everything else is
// sent to DuckDB as SQL. The log and archive views of the query service
// are available to every statement.
package shell

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/c-bata/go-prompt"
	"github.com/xtxerr/axislog/internal/storage/query"
	"github.com/xtxerr/axislog/internal/storage/types"
)

// Querier is the part of the query service used by the shell.
type Querier interface {
	ExecuteSQL(ctx context.Context, sql string) (*query.Result, error)
	Summaries(ctx context.Context, src query.Source, r query.Range) ([]query.ChannelSummary, error)
	CountRows(ctx context.Context, src query.Source, r query.Range) (int64, error)
	Refresh() error
}

// Shell evaluates user input against a Querier.
type Shell struct {
	q   Querier
	out io.Writer

	// target is a CSV file receiving query results instead of out.
	target string
	// timing prints the execution time of every statement.
	timing bool
	quit   bool
}

// New creates a shell writing to out.
func New(q Querier, out io.Writer) *Shell {
	return &Shell{q: q, out: out}
}

// Run reads lines from the terminal until the user quits.
func (s *Shell) Run() {
	fmt.Fprintln(s.out, `axislog SQL shell. Type \help to see command options`)

	p := prompt.New(
		func(line string) { s.Execute(line) },
		s.complete,
		prompt.OptionPrefix("axislog> "),
		prompt.OptionTitle("axislog"),
		prompt.OptionSetExitCheckerOnInput(func(_ string, breakline bool) bool {
			return breakline && s.quit
		}),
	)
	p.Run()
}

// Execute evaluates one line. It returns false once the user quits.
func (s *Shell) Execute(line string) bool {
	line = strings.TrimSpace(line)

	switch {
	case line == "":
	case line == `\q`, line == `\quit`, line == "exit", line == "quit":
		s.quit = true
	case line == "help", strings.HasPrefix(line, `\help`), strings.HasPrefix(line, `\?`):
		s.help()
	case strings.HasPrefix(line, `\timing`):
		s.timing = !s.timing
		fmt.Fprintf(s.out, "Timing is %s.\n", onOff(s.timing))
	case strings.HasPrefix(line, `\o`):
		s.output(line)
	case strings.HasPrefix(line, `\refresh`):
		if err := s.q.Refresh(); err != nil {
			s.errorf("%v", err)
		}
	case strings.HasPrefix(line, `\summary`):
		s.summary(line)
	case strings.HasPrefix(line, `\count`):
		s.count(line)
	case strings.HasPrefix(line, `\`):
		s.errorf("unknown command %s (type \\help)", strings.Fields(line)[0])
	default:
		s.sql(strings.TrimSuffix(line, ";"))
	}

	return !s.quit
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

func (s *Shell) errorf(format string, args ...any) {
	fmt.Fprintf(s.out, "ERROR: "+format+"\n", args...)
}

func (s *Shell) help() {
	fmt.Fprint(s.out, `
	Commands:

		\summary [log|archive] [<from> [<to>]]   per-channel statistics
		\count   [log|archive] [<from> [<to>]]   number of rows
		\refresh                                 pick up new archive files
		\o [<file>]                              write results to a CSV file, or back to the terminal
		\timing                                  toggle execution time output
		\q                                       quit

	Times are YYYY-MM-DD[THH:MM[:SS]], local time.

	Anything else is run as SQL. Views:

		log      ts, x, y, z   (the CSV log)
		archive  ts, x, y, z   (the Parquet archive)

	Example:

		SELECT date_trunc('minute', ts) AS minute, avg(x), avg(y), avg(z)
		FROM log GROUP BY 1 ORDER BY 1;

`)
}

func (s *Shell) output(line string) {
	args := strings.Fields(line)
	if len(args) > 1 {
		s.target = args[1]
		fmt.Fprintf(s.out, "Writing results to %s.\n", s.target)
	} else {
		s.target = ""
	}
}

// parseRange parses "[log|archive] [<from> [<to>]]".
func parseRange(args []string) (query.Source, query.Range, error) {
	src := query.SourceLog
	if len(args) > 0 && (args[0] == string(query.SourceLog) || args[0] == string(query.SourceArchive)) {
		src = query.Source(args[0])
		args = args[1:]
	}
	if len(args) > 2 {
		return "", query.Range{}, fmt.Errorf("too many arguments")
	}

	var r query.Range
	var err error
	if len(args) > 0 {
		if r.From, err = query.ParseTime(args[0]); err != nil {
			return "", r, err
		}
	}
	if len(args) > 1 {
		if r.To, err = query.ParseTime(args[1]); err != nil {
			return "", r, err
		}
	}
	return src, r, nil
}

func (s *Shell) summary(line string) {
	src, r, err := parseRange(strings.Fields(line)[1:])
	if err != nil {
		s.errorf("%v", err)
		return
	}

	sums, err := s.q.Summaries(context.Background(), src, r)
	if err != nil {
		s.errorf("%v", err)
		return
	}

	res := &query.Result{Columns: []string{"channel", "count", "missing", "min", "max", "mean", "stddev", "median", "first", "last"}}
	for _, sum := range sums {
		res.Rows = append(res.Rows, []any{
			sum.Channel.String(), sum.Count, sum.Missing,
			sum.Min, sum.Max, sum.Mean, sum.StdDev, sum.Median,
			sum.First, sum.Last,
		})
	}
	s.print(res)
}

func (s *Shell) count(line string) {
	src, r, err := parseRange(strings.Fields(line)[1:])
	if err != nil {
		s.errorf("%v", err)
		return
	}

	n, err := s.q.CountRows(context.Background(), src, r)
	if err != nil {
		s.errorf("%v", err)
		return
	}
	fmt.Fprintf(s.out, "%d rows\n", n)
}

// sql executes a sql statement.
func (s *Shell) sql(line string) {
	start := time.Now()

	res, err := s.q.ExecuteSQL(context.Background(), line)
	if err != nil {
		s.errorf("%v", err)
		return
	}

	elapsed := time.Since(start)

	if s.target != "" {
		if err := writeCSV(s.target, res); err != nil {
			s.errorf("%v", err)
		}
	} else {
		s.print(res)
	}

	if s.timing {
		fmt.Fprintf(s.out, "Elapsed query time: %5.3f ms\n", 1000*elapsed.Seconds())
	}
}

// print renders res as a right-aligned table framed by '=' lines.
func (s *Shell) print(res *query.Result) {
	widths := make([]int, len(res.Columns))
	cells := make([][]string, len(res.Rows))
	for i, name := range res.Columns {
		widths[i] = len(name)
	}
	for r, row := range res.Rows {
		cells[r] = make([]string, len(row))
		for i, v := range row {
			cells[r][i] = formatCell(v)
			widths[i] = max(widths[i], len([]rune(cells[r][i])))
		}
	}

	var sb strings.Builder
	rule := func() {
		for _, w := range widths {
			sb.WriteString(strings.Repeat("=", w))
			sb.WriteString("  ")
		}
		sb.WriteString("\n")
	}
	line := func(fields []string) {
		for i, f := range fields {
			sb.WriteString(strings.Repeat(" ", widths[i]-len([]rune(f))))
			sb.WriteString(f)
			sb.WriteString("  ")
		}
		sb.WriteString("\n")
	}

	rule()
	line(res.Columns)
	rule()
	for _, row := range cells {
		line(row)
	}
	rule()
	fmt.Fprintf(&sb, "(%d rows * %d columns)\n", len(res.Rows), len(res.Columns))
	if res.Truncated {
		sb.WriteString("(result truncated)\n")
	}

	fmt.Fprint(s.out, sb.String())
}

func formatCell(v any) string {
	switch v := v.(type) {
	case nil:
		return "NULL"
	case float64:
		return types.FormatValue(v)
	case float32:
		return types.FormatValue(float64(v))
	case time.Time:
		if v.IsZero() {
			return "NULL"
		}
		return v.Format(time.DateTime)
	case []byte:
		return string(v)
	default:
		return fmt.Sprint(v)
	}
}

func writeCSV(path string, res *query.Result) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	w.Write(res.Columns)
	for _, row := range res.Rows {
		rec := make([]string, len(row))
		for i, v := range row {
			rec[i] = formatCell(v)
		}
		w.Write(rec)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}
	return f.Close()
}

var suggestions = []prompt.Suggest{
	{Text: `\summary`, Description: "per-channel statistics"},
	{Text: `\count`, Description: "number of rows"},
	{Text: `\refresh`, Description: "pick up new archive files"},
	{Text: `\o`, Description: "redirect results to a CSV file"},
	{Text: `\timing`, Description: "toggle execution time output"},
	{Text: `\help`, Description: "show commands"},
	{Text: `\q`, Description: "quit"},
	{Text: "SELECT"},
	{Text: "FROM"},
	{Text: "WHERE"},
	{Text: "GROUP BY"},
	{Text: "ORDER BY"},
	{Text: "LIMIT"},
	{Text: "log", Description: "CSV log view"},
	{Text: "archive", Description: "Parquet archive view"},
	{Text: "ts", Description: "reading timestamp"},
	{Text: "x"},
	{Text: "y"},
	{Text: "z"},
}

func (s *Shell) complete(d prompt.Document) []prompt.Suggest {
	word := d.GetWordBeforeCursor()
	if word == "" {
		return nil
	}
	return prompt.FilterHasPrefix(suggestions, word, true)
}
