package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"ensemble/internal/version"
)

const defaultServerURL = "http://localhost:8080"

// Config carries everything a single submission needs.
type Config struct {
	URL         string
	Token       string
	DocumentID  string
	Title       string
	Fields      map[string]string
	Wait        bool
	WaitTimeout time.Duration
	Verbose     bool
	ShowVersion bool
	LogWriter   io.Writer
}

type fieldFlags map[string]string

func (f fieldFlags) String() string {
	parts := make([]string, 0, len(f))
	for key, value := range f {
		parts = append(parts, key+"="+value)
	}
	return strings.Join(parts, ",")
}

func (f fieldFlags) Set(raw string) error {
	key, value, found := strings.Cut(raw, "=")
	key = strings.TrimSpace(key)
	if !found || key == "" {
		return fmt.Errorf("invalid field %q: expected key=value", raw)
	}
	f[key] = value
	return nil
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(args []string, in io.Reader, out, errOut io.Writer) int {
	cfg, err := parseArgs(args, errOut)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 1
	}
	if cfg.ShowVersion {
		info := version.Get()
		if info.Version == "" || info.Version == "dev" {
			fmt.Fprintln(out, "ensemble-send dev")
		} else {
			fmt.Fprintf(out, "ensemble-send version %s\n", info.Version)
		}
		return 0
	}
	cfg.LogWriter = errOut

	content, err := io.ReadAll(in)
	if err != nil {
		fmt.Fprintf(errOut, "read stdin: %v\n", err)
		return 3
	}
	if strings.TrimSpace(cfg.Title) == "" && len(strings.TrimSpace(string(content))) == 0 {
		fmt.Fprintln(errOut, "nothing to submit: provide --title or pipe content on stdin")
		return 1
	}

	submission, err := submitDocument(cfg, string(content))
	if err != nil {
		return handleSendError(err, errOut)
	}
	fmt.Fprintf(out, "submitted document %s (workflow %s)\n", submission.DocumentID, submission.WorkflowID)

	if !cfg.Wait {
		return 0
	}
	state, err := waitForDocument(cfg, submission.WorkflowID)
	if err != nil {
		return handleSendError(err, errOut)
	}
	fmt.Fprintf(out, "document %s finished with status %s\n", state.DocumentID, state.Status)
	if state.Status != "completed" {
		return 1
	}
	return 0
}

func parseArgs(args []string, errOut io.Writer) (Config, error) {
	fs := flag.NewFlagSet("ensemble-send", flag.ContinueOnError)
	fs.SetOutput(errOut)
	urlFlag := fs.String("url", "", "Ensemble server URL (env: ENSEMBLE_URL, default: "+defaultServerURL+")")
	tokenFlag := fs.String("token", "", "Auth token (env: ENSEMBLE_TOKEN, default: none)")
	idFlag := fs.String("id", "", "Document ID (default: server assigned)")
	titleFlag := fs.String("title", "", "Document title")
	waitFlag := fs.Bool("wait", false, "Poll until the document pipeline finishes")
	waitTimeoutFlag := fs.Duration("wait-timeout", 2*time.Minute, "Give up waiting after this long")
	verboseFlag := fs.Bool("verbose", false, "Verbose output")
	versionFlag := fs.Bool("version", false, "Print version and exit")
	fields := fieldFlags{}
	fs.Var(fields, "field", "Document field as key=value (repeatable)")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	url := strings.TrimSpace(*urlFlag)
	if url == "" {
		url = strings.TrimSpace(os.Getenv("ENSEMBLE_URL"))
	}
	if url == "" {
		url = defaultServerURL
	}
	url = strings.TrimRight(url, "/")

	token := *tokenFlag
	if token == "" {
		token = os.Getenv("ENSEMBLE_TOKEN")
	}

	return Config{
		URL:         url,
		Token:       token,
		DocumentID:  strings.TrimSpace(*idFlag),
		Title:       *titleFlag,
		Fields:      fields,
		Wait:        *waitFlag,
		WaitTimeout: *waitTimeoutFlag,
		Verbose:     *verboseFlag,
		ShowVersion: *versionFlag,
	}, nil
}

func handleSendError(err error, errOut io.Writer) int {
	var sendErr *sendError
	if errors.As(err, &sendErr) {
		fmt.Fprintln(errOut, sendErr.Message)
		switch {
		case sendErr.Code == 401 || sendErr.Code == 403:
			return 4
		case sendErr.Code == 503:
			return 5
		default:
			return 2
		}
	}
	fmt.Fprintln(errOut, err)
	return 2
}
