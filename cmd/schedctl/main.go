// Command schedctl drives the scheduling API from the shell and prints JSON.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"
)

const (
	exitOK                = 0
	exitOther             = 1
	exitUsage             = 2
	exitInvalidInterval   = 3
	exitCrossesDay        = 4
	exitDoctorUnavailable = 5
	exitDoctorConflict    = 6
	exitNotFound          = 7
	exitInvalidTransition = 8
)

var exitCodes = map[string]int{
	"invalid_interval":     exitInvalidInterval,
	"crosses_day_boundary": exitCrossesDay,
	"doctor_unavailable":   exitDoctorUnavailable,
	"doctor_conflict":      exitDoctorConflict,
	"not_found":            exitNotFound,
	"invalid_transition":   exitInvalidTransition,
}

const usage = `usage: schedctl [-api URL] <command> [flags]

commands:
  book        -patient ID -doctor ID -start RFC3339 (-end RFC3339 | -duration MIN) [-notes TEXT]
  reschedule  ID -start RFC3339 [-end RFC3339 | -duration MIN]
  cancel      ID
  confirm     ID
  complete    ID
  no-show     ID
  get         ID
  list        [-doctor ID] [-patient ID] [-status a,b] [-from RFC3339] [-to RFC3339]
  find-slots  -doctor ID [-from RFC3339] [-duration MIN] [-limit N]
`

var errUsage = errors.New("usage")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	global := flag.NewFlagSet("schedctl", flag.ContinueOnError)
	global.SetOutput(stderr)
	global.Usage = func() { fmt.Fprint(stderr, usage) }
	apiURL := global.String("api", envOr("SCHEDCTL_API", "http://localhost:8080"), "API base URL")
	if err := global.Parse(args); err != nil {
		return exitUsage
	}
	if global.NArg() == 0 {
		fmt.Fprint(stderr, usage)
		return exitUsage
	}

	c := newClient(*apiURL)
	cmd, rest := global.Arg(0), global.Args()[1:]

	var (
		out json.RawMessage
		err error
	)
	switch cmd {
	case "book":
		out, err = book(ctx, c, rest, stderr)
	case "reschedule":
		out, err = reschedule(ctx, c, rest, stderr)
	case "cancel", "confirm", "complete", "no-show":
		out, err = transition(ctx, c, cmd, rest, stderr)
	case "get":
		out, err = get(ctx, c, rest, stderr)
	case "list":
		out, err = list(ctx, c, rest, stderr)
	case "find-slots":
		out, err = findSlots(ctx, c, rest, stderr)
	default:
		fmt.Fprintf(stderr, "unknown command %q\n\n%s", cmd, usage)
		return exitUsage
	}

	if err != nil {
		return report(err, stderr)
	}
	writeIndented(stdout, out)
	return exitOK
}

func report(err error, stderr io.Writer) int {
	if errors.Is(err, errUsage) || errors.Is(err, flag.ErrHelp) {
		return exitUsage
	}
	fmt.Fprintln(stderr, "error:", err)

	var apiErr *apiError
	if errors.As(err, &apiErr) {
		if code, ok := exitCodes[apiErr.Code]; ok {
			return code
		}
	}
	return exitOther
}

type intervalFlags struct {
	start    *string
	end      *string
	duration *int
}

func addIntervalFlags(fs *flag.FlagSet, defaultDuration int) intervalFlags {
	return intervalFlags{
		start:    fs.String("start", "", "start time, RFC3339"),
		end:      fs.String("end", "", "end time, RFC3339"),
		duration: fs.Int("duration", defaultDuration, "duration in minutes when -end is not given"),
	}
}

// body fills start plus either end or duration_minutes.
func (f intervalFlags) body(m map[string]any) error {
	if *f.start == "" {
		return fmt.Errorf("%w: -start is required", errUsage)
	}
	start, err := time.Parse(time.RFC3339, *f.start)
	if err != nil {
		return fmt.Errorf("%w: -start must be RFC3339", errUsage)
	}
	m["start"] = start
	if *f.end != "" {
		end, err := time.Parse(time.RFC3339, *f.end)
		if err != nil {
			return fmt.Errorf("%w: -end must be RFC3339", errUsage)
		}
		m["end"] = end
		return nil
	}
	if *f.duration != 0 {
		m["duration_minutes"] = *f.duration
	}
	return nil
}

func newFlagSet(name string, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	return fs
}

// parseWithID accepts the id before or after the flags.
func parseWithID(fs *flag.FlagSet, args []string, stderr io.Writer) (string, error) {
	var id string
	if len(args) > 0 && len(args[0]) > 0 && args[0][0] != '-' {
		id, args = args[0], args[1:]
	}
	if err := fs.Parse(args); err != nil {
		return "", errUsage
	}
	if id == "" && fs.NArg() > 0 {
		id = fs.Arg(0)
	}
	if id == "" {
		fmt.Fprintf(stderr, "%s: appointment id is required\n", fs.Name())
		return "", errUsage
	}
	return id, nil
}

func book(ctx context.Context, c *client, args []string, stderr io.Writer) (json.RawMessage, error) {
	fs := newFlagSet("book", stderr)
	patient := fs.String("patient", "", "patient id")
	doctor := fs.String("doctor", "", "doctor id")
	notes := fs.String("notes", "", "free-text notes")
	iv := addIntervalFlags(fs, 30)
	if err := fs.Parse(args); err != nil {
		return nil, errUsage
	}
	if *patient == "" || *doctor == "" {
		fmt.Fprintln(stderr, "book: -patient and -doctor are required")
		return nil, errUsage
	}

	body := map[string]any{"patient_id": *patient, "doctor_id": *doctor}
	if *notes != "" {
		body["notes"] = *notes
	}
	if err := iv.body(body); err != nil {
		fmt.Fprintln(stderr, "book:", err)
		return nil, errUsage
	}
	return c.do(ctx, "POST", "/appointments", body)
}

func reschedule(ctx context.Context, c *client, args []string, stderr io.Writer) (json.RawMessage, error) {
	fs := newFlagSet("reschedule", stderr)
	iv := addIntervalFlags(fs, 0)
	id, err := parseWithID(fs, args, stderr)
	if err != nil {
		return nil, err
	}

	body := map[string]any{}
	if err := iv.body(body); err != nil {
		fmt.Fprintln(stderr, "reschedule:", err)
		return nil, errUsage
	}
	return c.do(ctx, "POST", "/appointments/"+url.PathEscape(id)+"/reschedule", body)
}

func transition(ctx context.Context, c *client, action string, args []string, stderr io.Writer) (json.RawMessage, error) {
	id, err := parseWithID(newFlagSet(action, stderr), args, stderr)
	if err != nil {
		return nil, err
	}
	return c.do(ctx, "POST", "/appointments/"+url.PathEscape(id)+"/"+action, nil)
}

func get(ctx context.Context, c *client, args []string, stderr io.Writer) (json.RawMessage, error) {
	id, err := parseWithID(newFlagSet("get", stderr), args, stderr)
	if err != nil {
		return nil, err
	}
	return c.do(ctx, "GET", "/appointments/"+url.PathEscape(id), nil)
}

func list(ctx context.Context, c *client, args []string, stderr io.Writer) (json.RawMessage, error) {
	fs := newFlagSet("list", stderr)
	doctor := fs.String("doctor", "", "doctor id")
	patient := fs.String("patient", "", "patient id")
	status := fs.String("status", "", "comma-separated statuses")
	from := fs.String("from", "", "window start, RFC3339")
	to := fs.String("to", "", "window end, RFC3339")
	if err := fs.Parse(args); err != nil {
		return nil, errUsage
	}

	q := url.Values{}
	setIf(q, "doctor_id", *doctor)
	setIf(q, "patient_id", *patient)
	setIf(q, "status", *status)
	setIf(q, "from", *from)
	setIf(q, "to", *to)
	return c.do(ctx, "GET", withQuery("/appointments", q), nil)
}

func findSlots(ctx context.Context, c *client, args []string, stderr io.Writer) (json.RawMessage, error) {
	fs := newFlagSet("find-slots", stderr)
	doctor := fs.String("doctor", "", "doctor id")
	from := fs.String("from", "", "search start, RFC3339 (default now)")
	duration := fs.Int("duration", 30, "slot length in minutes")
	limit := fs.Int("limit", 10, "maximum number of slots")
	if err := fs.Parse(args); err != nil {
		return nil, errUsage
	}
	if *doctor == "" {
		fmt.Fprintln(stderr, "find-slots: -doctor is required")
		return nil, errUsage
	}

	q := url.Values{}
	setIf(q, "from", *from)
	q.Set("duration_minutes", fmt.Sprint(*duration))
	q.Set("limit", fmt.Sprint(*limit))
	return c.do(ctx, "GET", withQuery("/doctors/"+url.PathEscape(*doctor)+"/slots", q), nil)
}

func setIf(q url.Values, key, v string) {
	if v != "" {
		q.Set(key, v)
	}
}

func withQuery(path string, q url.Values) string {
	if len(q) == 0 {
		return path
	}
	return path + "?" + q.Encode()
}

func writeIndented(w io.Writer, raw json.RawMessage) {
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		_, _ = w.Write(raw)
		return
	}
	buf.WriteByte('\n')
	_, _ = w.Write(buf.Bytes())
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
