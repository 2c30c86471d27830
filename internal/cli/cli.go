package cli

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"github.com/Vicaadrn/web-scanner-project/internal/reconcile"
)

// Commands understood by scanctl.
const (
	CmdSubmit = "submit"
	CmdWatch  = "watch"
	CmdStatus = "status"
	CmdList   = "list"
	CmdCancel = "cancel"
	CmdMe     = "me"
)

// Environment variables consulted when the matching flag is not given.
const (
	EnvServer = "SCANNER_URL"
	EnvToken  = "SCANNER_TOKEN"
)

const defaultServer = "http://localhost:8080"

var ErrUsage = errors.New("usage")

// CLIArgs are the parsed command line of one scanctl invocation.
type CLIArgs struct {
	Command string
	// Arg is the command's positional argument: a target for submit, a job
	// id for watch, status and cancel.
	Arg string

	Server   string
	Token    string
	ScanType string
	Wordlist string

	// Watch makes submit follow the scan until it ends.
	Watch        bool
	Limit        int
	JSON         bool
	PollInterval time.Duration
	Timeout      time.Duration

	// RawArgs is the original args slice (useful for debugging/tests).
	RawArgs []string

	serverSet, tokenSet bool
}

// ParseArgs parses a slice of args and returns CLIArgs. It does not read
// os.Args or the environment; see ApplyEnv.
func ParseArgs(args []string) (*CLIArgs, error) {
	fs := pflag.NewFlagSet("scanctl", pflag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.SetInterspersed(true)

	a := &CLIArgs{RawArgs: args}
	fs.StringVarP(&a.Server, "server", "s", defaultServer, "Scan service base URL")
	fs.StringVar(&a.Token, "token", "", "Bearer token of a logged-in account")
	fs.StringVarP(&a.ScanType, "type", "t", "quick", "Scan tier: quick|deep|full")
	fs.StringVarP(&a.Wordlist, "wordlist", "w", "", "Wordlist name (defaults per tier)")
	fs.BoolVar(&a.Watch, "watch", false, "Follow a submitted scan until it ends")
	fs.IntVarP(&a.Limit, "limit", "n", 0, "Maximum sessions listed (0=server default)")
	fs.BoolVar(&a.JSON, "json", false, "Print JSON instead of text")
	fs.DurationVar(&a.PollInterval, "poll", reconcile.DefaultPollInterval, "Status poll interval while watching")
	fs.DurationVar(&a.Timeout, "timeout", reconcile.DefaultClientTimeout, "Give up watching after this long without activity")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	a.serverSet = fs.Changed("server")
	a.tokenSet = fs.Changed("token")

	rest := fs.Args()
	if len(rest) == 0 {
		return nil, fmt.Errorf("%w: missing command", ErrUsage)
	}
	a.Command = strings.ToLower(rest[0])
	rest = rest[1:]

	switch a.Command {
	case CmdSubmit, CmdWatch, CmdStatus, CmdCancel:
		if len(rest) != 1 || strings.TrimSpace(rest[0]) == "" {
			return nil, fmt.Errorf("%w: %s takes exactly one argument", ErrUsage, a.Command)
		}
		a.Arg = strings.TrimSpace(rest[0])
	case CmdList, CmdMe:
		if len(rest) != 0 {
			return nil, fmt.Errorf("%w: %s takes no arguments", ErrUsage, a.Command)
		}
	default:
		return nil, fmt.Errorf("%w: unknown command %q", ErrUsage, a.Command)
	}
	if a.Limit < 0 {
		return nil, fmt.Errorf("%w: --limit must not be negative", ErrUsage)
	}
	return a, nil
}

// ApplyEnv fills the server and token from the environment unless they were
// given as flags.
func (a *CLIArgs) ApplyEnv(getenv func(string) string) {
	if v := strings.TrimSpace(getenv(EnvServer)); v != "" && !a.serverSet {
		a.Server = v
	}
	if v := strings.TrimSpace(getenv(EnvToken)); v != "" && !a.tokenSet {
		a.Token = v
	}
}

// Usage describes the command line.
func Usage() string {
	return `usage: scanctl [flags] <command> [argument]

commands:
  submit <url>     start a scan (add --watch to follow it)
  watch <job-id>   follow a scan until it ends
  status <job-id>  print a scan's current state
  cancel <job-id>  stop a scan
  list             list your recent scans
  me               show who the service thinks you are

flags:
  -s, --server URL     scan service (env ` + EnvServer + `, default ` + defaultServer + `)
      --token TOKEN    bearer token (env ` + EnvToken + `)
  -t, --type TIER      quick|deep|full (default quick)
  -w, --wordlist NAME  wordlist name
      --watch          follow a submitted scan
  -n, --limit N        sessions listed
      --json           print JSON
      --poll DURATION  poll interval while watching (default 3s)
      --timeout DURATION  inactivity limit while watching (default 5m)
`
}
