// The `outscraper` CLI calls the extraction API (or a local sandbox) and
// prints the JSON it gets back.
//
// Usage:
//
//	outscraper call [flags] <path>   call an endpoint, e.g. maps/search
//	outscraper wait <id>             poll the archive until a task settles
//	outscraper archive <id>          fetch one archived request
//	outscraper history               list recent requests
//	outscraper version               version info
//
// Credentials come from -config, or OUTSCRAPER_API_KEY / OUTSCRAPER_BASE_URL.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/georgeshao/outscraper-go/pkg/outscraper"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		var usage usageError
		if errors.As(err, &usage) {
			printUsage(os.Stderr)
		}
		os.Exit(1)
	}
}

type usageError string

func (e usageError) Error() string { return string(e) }

func run(ctx context.Context, args []string, out io.Writer) error {
	if len(args) < 1 {
		return usageError("missing command")
	}

	switch args[0] {
	case "call":
		return handleCall(ctx, args[1:], out)
	case "wait":
		return handleByID(ctx, "wait", args[1:], out, (*outscraper.Client).AwaitCompletion)
	case "archive":
		return handleByID(ctx, "archive", args[1:], out, (*outscraper.Client).RequestArchive)
	case "history":
		return handleHistory(ctx, args[1:], out)
	case "version":
		_, err := fmt.Fprintf(out, "outscraper %s\n", outscraper.Version)
		return err
	case "help", "--help", "-h":
		printUsage(out)
		return nil
	default:
		return usageError("unknown command: " + args[0])
	}
}

func printUsage(w io.Writer) {
	fmt.Fprint(w, `Usage: outscraper <command> [flags]

Commands:
  call [flags] <path>   call an endpoint
  wait <id>             poll the archive until a task settles
  archive <id>          fetch one archived request
  history               list recent requests
  version               version info

Run "outscraper <command> -h" for command flags.
`)
}

// clientFlags are shared by every command that talks to the API.
type clientFlags struct {
	configPath string
	baseURL    string
	apiKey     string
	poll       time.Duration
	verbose    bool
}

func (f *clientFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&f.configPath, "config", "", "path to YAML client config")
	fs.StringVar(&f.baseURL, "base-url", os.Getenv("OUTSCRAPER_BASE_URL"), "API base URL")
	fs.StringVar(&f.apiKey, "api-key", os.Getenv("OUTSCRAPER_API_KEY"), "API key")
	fs.DurationVar(&f.poll, "poll", 0, "archive poll interval (0 keeps the configured one)")
	fs.BoolVar(&f.verbose, "v", false, "log HTTP exchanges to stderr")
}

func (f *clientFlags) client() (*outscraper.Client, error) {
	var cfg outscraper.Config
	if f.configPath != "" {
		loaded, err := outscraper.LoadConfig(f.configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if f.baseURL != "" {
		cfg.BaseURL = f.baseURL
	}
	if f.apiKey != "" {
		cfg.APIKey = f.apiKey
	}
	if f.poll > 0 {
		cfg.PollInterval = f.poll
	}

	var opts []outscraper.Option
	if f.verbose {
		logger, err := zap.NewDevelopment()
		if err != nil {
			return nil, err
		}
		opts = append(opts, outscraper.WithLogger(logger))
	}
	return outscraper.NewClient(cfg, opts...)
}

// paramList collects repeated -p key=value flags in order.
type paramList []string

func (p *paramList) String() string { return strings.Join(*p, ",") }

func (p *paramList) Set(v string) error {
	if !strings.Contains(v, "=") {
		return fmt.Errorf("parameter %q is not key=value", v)
	}
	*p = append(*p, v)
	return nil
}

func (p paramList) params() *outscraper.Params {
	out := outscraper.NewParams()
	for _, kv := range p {
		k, v, _ := strings.Cut(kv, "=")
		out.Add(k, v)
	}
	return out
}

func parseMode(s string) (outscraper.Mode, error) {
	switch s {
	case "immediate":
		return outscraper.Immediate, nil
	case "submit":
		return outscraper.SubmitOnly, nil
	case "wait":
		return outscraper.SubmitAndWait, nil
	default:
		return 0, fmt.Errorf("unknown mode %q (immediate, submit, wait)", s)
	}
}

func handleCall(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("call", flag.ContinueOnError)
	var cf clientFlags
	cf.register(fs)

	var params paramList
	fs.Var(&params, "p", "query parameter as key=value (repeatable)")
	method := fs.String("method", "GET", "HTTP method")
	body := fs.String("body", "", "JSON object sent as the POST body")
	modeName := fs.String("mode", "wait", "immediate, submit or wait")
	dataOnly := fs.Bool("data", false, "print only the data field of the result")
	raw := fs.Bool("raw", false, "send one request and print the body as received, ignoring -mode")
	timeout := fs.Duration("timeout", 0, "overall deadline (0 means none)")

	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return usageError("call needs exactly one endpoint path")
	}

	mode, err := parseMode(*modeName)
	if err != nil {
		return err
	}

	req := outscraper.Request{
		Method:      *method,
		Path:        fs.Arg(0),
		Params:      params.params(),
		ExtractData: *dataOnly,
	}
	if *body != "" {
		var obj map[string]any
		if err := json.Unmarshal([]byte(*body), &obj); err != nil {
			return fmt.Errorf("body must be a JSON object: %w", err)
		}
		req.Body = obj
	}

	client, err := cf.client()
	if err != nil {
		return err
	}

	if *timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *timeout)
		defer cancel()
	}

	start := time.Now()
	var result json.RawMessage
	if *raw {
		if *dataOnly {
			return usageError("-raw and -data cannot be combined")
		}
		result, err = client.Transport().Execute(ctx, req)
	} else {
		result, err = client.Dispatch(ctx, req, mode)
	}
	if err != nil {
		return err
	}
	if cf.verbose {
		fmt.Fprintf(os.Stderr, "done in %s\n", time.Since(start).Round(time.Millisecond))
	}
	return printJSON(out, result)
}

func handleByID(ctx context.Context, name string, args []string, out io.Writer,
	fetch func(*outscraper.Client, context.Context, string) (json.RawMessage, error)) error {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	var cf clientFlags
	cf.register(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return usageError(name + " needs exactly one request id")
	}

	client, err := cf.client()
	if err != nil {
		return err
	}
	raw, err := fetch(client, ctx, fs.Arg(0))
	if err != nil {
		return err
	}
	return printJSON(out, raw)
}

func handleHistory(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("history", flag.ContinueOnError)
	var cf clientFlags
	cf.register(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := cf.client()
	if err != nil {
		return err
	}
	raw, err := client.RequestsHistory(ctx)
	if err != nil {
		return err
	}
	return printJSON(out, raw)
}

func printJSON(w io.Writer, raw json.RawMessage) error {
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		// not JSON we can indent; print as received
		_, werr := fmt.Fprintln(w, string(raw))
		return werr
	}
	buf.WriteByte('\n')
	_, err := buf.WriteTo(w)
	return err
}
