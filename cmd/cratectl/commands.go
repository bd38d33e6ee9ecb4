package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/crategate/crategate/internal/client"
	"github.com/crategate/crategate/internal/crate"
	"github.com/crategate/crategate/internal/engine"
	"github.com/crategate/crategate/internal/job"
)

const defaultInterval = client.DefaultPollInterval

var stdout io.Writer = os.Stdout

func newClient(cmd *cli.Command) *client.Client {
	return client.New(cmd.String("url"), client.WithAPIKey(cmd.String("api-key")))
}

func pollOptions(cmd *cli.Command) client.PollOptions {
	return client.PollOptions{
		Interval:    cmd.Duration("interval"),
		MaxAttempts: int(cmd.Int("max-attempts")),
	}
}

// exportFormat maps the --format flag onto a media type.
func exportFormat(name string) (string, error) {
	switch strings.ToLower(name) {
	case "jsonld", "json-ld", crate.MediaTypeJSONLD:
		return crate.MediaTypeJSONLD, nil
	case "zip", crate.MediaTypeZip:
		return crate.MediaTypeZip, nil
	default:
		return "", fmt.Errorf("unknown format %q, want jsonld or zip", name)
	}
}

// contentTypeFor picks the validate content type from a file name.
func contentTypeFor(path string) string {
	if strings.EqualFold(filepath.Ext(path), ".zip") {
		return crate.MediaTypeZip
	}
	return crate.MediaTypeJSONLD
}

func exportAction(ctx context.Context, cmd *cli.Command) error {
	ids := cmd.Args().Slice()
	if len(ids) == 0 {
		return errors.New("export needs at least one identifier")
	}
	format, err := exportFormat(cmd.String("format"))
	if err != nil {
		return err
	}
	flags := engine.Flags{
		WithLevelsAbove:  cmd.Bool("with-levels-above"),
		WithLevelsBelow:  cmd.Bool("with-levels-below"),
		ImportCompatible: cmd.Bool("import-compatible"),
		WithParents:      cmd.Bool("with-parents"),
		WithOtherSpaces:  cmd.Bool("with-other-spaces"),
	}

	c := newClient(cmd)
	resp, err := c.Export(ctx, ids, format, flags)
	if err != nil {
		return describe(err)
	}

	switch {
	case resp.JobID == "" && resp.DownloadURL == "":
		return writeOutput(cmd.String("output"), resp.Content)
	case resp.JobID == "":
		return fetch(ctx, c, resp.DownloadURL, cmd.String("output"))
	case !cmd.Bool("wait"):
		fmt.Fprintln(stdout, resp.JobID)
		return nil
	}

	j, err := c.Poll(ctx, resp.JobID, pollOptions(cmd))
	if err != nil {
		return err
	}
	if j.Status == job.StatusFailed {
		return jobFailed(j)
	}
	return fetch(ctx, c, j.DownloadURL, cmd.String("output"))
}

func validateAction(ctx context.Context, cmd *cli.Command) error {
	path := cmd.Args().First()
	if path == "" {
		return errors.New("validate needs a file")
	}
	document, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	c := newClient(cmd)
	resp, err := c.Validate(ctx, document, contentTypeFor(path))
	if err != nil {
		return describe(err)
	}

	report := resp.Report
	if resp.JobID != "" {
		if !cmd.Bool("wait") {
			fmt.Fprintln(stdout, resp.JobID)
			return nil
		}
		j, err := c.Poll(ctx, resp.JobID, pollOptions(cmd))
		if err != nil {
			return err
		}
		if j.Status == job.StatusFailed {
			return jobFailed(j)
		}
		report = j.ValidationResult
	}

	if err := printJSON(report); err != nil {
		return err
	}
	if !report.IsValid {
		return cli.Exit("crate is not valid", 2)
	}
	return nil
}

func statusAction(ctx context.Context, cmd *cli.Command) error {
	id := cmd.Args().First()
	if id == "" {
		return errors.New("status needs a job id")
	}

	c := newClient(cmd)
	var (
		j   *job.Job
		err error
	)
	if cmd.Bool("wait") {
		j, err = c.Poll(ctx, id, pollOptions(cmd))
	} else {
		j, err = c.Status(ctx, id)
	}
	if err != nil {
		return describe(err)
	}
	return printJSON(j)
}

func downloadAction(ctx context.Context, cmd *cli.Command) error {
	target := cmd.Args().First()
	if target == "" {
		return errors.New("download needs a URL")
	}
	return fetch(ctx, newClient(cmd), target, cmd.String("output"))
}

func fetch(ctx context.Context, c *client.Client, downloadURL, output string) error {
	content, _, err := c.Download(ctx, downloadURL)
	if err != nil {
		return describe(err)
	}
	return writeOutput(output, content)
}

func writeOutput(path string, content []byte) error {
	if path == "" || path == "-" {
		_, err := stdout.Write(content)
		return err
	}
	return os.WriteFile(path, content, 0o644)
}

func printJSON(v any) error {
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// describe appends the per-identifier errors of a 404 to the message.
func describe(err error) error {
	var apiErr *client.APIError
	if !errors.As(err, &apiErr) || len(apiErr.Errors) == 0 {
		return err
	}
	var b strings.Builder
	b.WriteString(apiErr.Error())
	for _, e := range apiErr.Errors {
		fmt.Fprintf(&b, "\n  %s", e.Message)
	}
	return errors.New(b.String())
}

func jobFailed(j *job.Job) error {
	msgs := make([]string, 0, len(j.Errors))
	for _, e := range j.Errors {
		msgs = append(msgs, e.Message)
	}
	return fmt.Errorf("job %s failed (%s): %s", j.ID, elapsed(j), strings.Join(msgs, "; "))
}

func elapsed(j *job.Job) time.Duration {
	if j.CompletedAt == nil {
		return 0
	}
	return j.CompletedAt.Sub(j.CreatedAt).Round(time.Millisecond)
}
