package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/go-json-experiment/json"
	"github.com/go-json-experiment/json/jsontext"

	"github.com/Vicaadrn/web-scanner-project/internal/client"
	"github.com/Vicaadrn/web-scanner-project/internal/logging"
	"github.com/Vicaadrn/web-scanner-project/internal/model"
)

// Run executes one parsed command against the service, writing results to
// out.
func Run(ctx context.Context, a *CLIArgs, out io.Writer, logger logging.Logger) error {
	cfg := client.DefaultConfig()
	cfg.BaseURL = a.Server
	cfg.Token = a.Token
	cfg.PollInterval = a.PollInterval
	cfg.Timeout = a.Timeout

	c, err := client.New(cfg, logger, nil)
	if err != nil {
		return err
	}
	r := &runner{args: a, client: c, out: out}
	defer c.Observe(r.observe)()

	switch a.Command {
	case CmdSubmit:
		return r.submit(ctx)
	case CmdWatch:
		return r.watch(ctx, a.Arg)
	case CmdStatus:
		s, err := c.Status(ctx, a.Arg)
		if err != nil {
			return err
		}
		return r.printSession(s)
	case CmdCancel:
		s, err := c.Cancel(ctx, a.Arg)
		if err != nil {
			return err
		}
		return r.printSession(s)
	case CmdList:
		list, err := c.List(ctx, a.Limit)
		if err != nil {
			return err
		}
		return r.printList(list)
	case CmdMe:
		user, err := c.Me(ctx)
		if err != nil {
			return err
		}
		if a.JSON {
			return r.printJSON(map[string]any{"user": user})
		}
		if user == nil {
			fmt.Fprintln(out, "anonymous")
			return nil
		}
		fmt.Fprintf(out, "%s (%s)\n", user.Email, user.ID)
		return nil
	}
	return fmt.Errorf("%w: unknown command %q", ErrUsage, a.Command)
}

type runner struct {
	args   *CLIArgs
	client *client.Client
	out    io.Writer
}

func (r *runner) observe(ev client.Event) {
	if r.args.JSON {
		return
	}
	switch e := ev.(type) {
	case client.StateChanged:
		fmt.Fprintf(r.out, "%s  %-11s %3d%%  discovered=%d vulnerabilities=%d\n",
			time.Now().Format("15:04:05"), e.State.Phase, e.State.Progress,
			e.State.Discovered, e.State.Vulnerabilities)
	case client.AuthRequired:
		fmt.Fprintf(r.out, "free scans used up (%d of %d), log in to continue\n", e.ScanCount, e.MaxFreeScans)
	}
}

func (r *runner) submit(ctx context.Context) error {
	resp, err := r.client.Submit(ctx, client.SubmitRequest{
		URL:      r.args.Arg,
		ScanType: r.args.ScanType,
		Wordlist: r.args.Wordlist,
	})
	if err != nil {
		return err
	}
	if r.args.JSON && !r.args.Watch {
		return r.printJSON(resp)
	}
	if !r.args.JSON {
		fmt.Fprintf(r.out, "job %s accepted for %s\n", resp.JobID, resp.Session.Target)
		if resp.ScanInfo.RemainingScans != nil {
			fmt.Fprintf(r.out, "free scans left today: %d of %d\n", *resp.ScanInfo.RemainingScans, resp.ScanInfo.MaxFreeScans)
		}
	}
	if !r.args.Watch {
		return nil
	}
	return r.watch(ctx, resp.JobID)
}

func (r *runner) watch(ctx context.Context, jobID string) error {
	final, err := r.client.Watch(ctx, jobID)
	if err != nil && !errors.Is(err, model.ErrTimeout) {
		return err
	}
	if r.args.JSON {
		if perr := r.printJSON(final); perr != nil {
			return perr
		}
		return err
	}
	r.printResult(final)
	return err
}

func (r *runner) printSession(s *client.Session) error {
	if r.args.JSON {
		return r.printJSON(s)
	}
	fmt.Fprintf(r.out, "job:       %s\n", s.JobID)
	fmt.Fprintf(r.out, "target:    %s (%s)\n", s.Target, s.Tier)
	fmt.Fprintf(r.out, "phase:     %s %d%%\n", s.Phase, s.Progress)
	fmt.Fprintf(r.out, "found:     %d endpoints, %d vulnerabilities\n", s.Discovered, s.Vulnerabilities)
	if s.Error != "" {
		fmt.Fprintf(r.out, "error:     %s (%s)\n", s.Error, s.Reason)
	}
	if s.Result != nil {
		writeResult(r.out, s.Result)
	}
	return nil
}

func (r *runner) printList(list []client.Session) error {
	if r.args.JSON {
		return r.printJSON(list)
	}
	if len(list) == 0 {
		fmt.Fprintln(r.out, "no scans yet")
		return nil
	}
	tw := tabwriter.NewWriter(r.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "JOB\tTARGET\tPHASE\tPROGRESS\tCREATED")
	for _, s := range list {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d%%\t%s\n", s.JobID, s.Target, s.Phase, s.Progress, s.CreatedAt.Local().Format(time.DateTime))
	}
	return tw.Flush()
}

func (r *runner) printResult(s model.ScanState) {
	fmt.Fprintf(r.out, "scan %s %s\n", s.JobID, s.Phase)
	if s.Error != "" {
		fmt.Fprintf(r.out, "error: %s (%s)\n", s.Error, s.Reason)
	}
	if s.Result != nil {
		writeResult(r.out, s.Result)
	}
}

func (r *runner) printJSON(v any) error {
	return json.MarshalWrite(r.out, v, jsontext.WithIndent("  "))
}

func writeResult(out io.Writer, res *model.NormalizedResult) {
	c := res.Counts
	fmt.Fprintf(out, "severity:  critical=%d high=%d medium=%d low=%d\n", c.Critical, c.High, c.Medium, c.Low)
	if res.Malformed {
		fmt.Fprintf(out, "result could not be read: %s\n", res.Error)
		return
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	if len(res.Endpoints) > 0 {
		fmt.Fprintln(tw, "PATH\tSTATUS\tLENGTH\tWORDS")
		for _, ep := range res.Endpoints {
			fmt.Fprintf(tw, "%s\t%d\t%d\t%d\n", ep.Path, ep.Status, ep.Length, ep.WordCount)
		}
		_ = tw.Flush()
	}
	if len(res.Vulnerabilities) > 0 {
		fmt.Fprintln(tw, "SEVERITY\tNAME\tTEMPLATE")
		for _, v := range res.Vulnerabilities {
			fmt.Fprintf(tw, "%s\t%s\t%s\n", v.Severity, strings.TrimSpace(v.Name), v.TemplateID)
		}
		_ = tw.Flush()
	}
}
