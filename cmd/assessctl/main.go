package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"github.com/celerix-dev/assessment-bridge/internal/config"
	"github.com/celerix-dev/assessment-bridge/pkg/engine"
	"github.com/celerix-dev/assessment-bridge/pkg/schema"
	"github.com/celerix-dev/assessment-bridge/pkg/sdk"
)

type globals struct {
	backendURL string
	apiKey     string
	dataFile   string
	timeout    time.Duration
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	_ = config.LoadDotEnv()

	if len(args) < 1 {
		printUsage()
		return nil
	}

	g := globals{
		backendURL: config.String("ASSESS_BACKEND_URL", ""),
		apiKey:     config.String("ASSESS_API_KEY", ""),
		dataFile:   config.String("ASSESS_DATA_FILE", "./data/assessments.json"),
		timeout:    15 * time.Second,
	}

	command := strings.ToLower(args[0])
	fs := pflag.NewFlagSet("assessctl "+command, pflag.ContinueOnError)
	fs.StringVar(&g.backendURL, "backend-url", g.backendURL, "backend base URL (empty: embedded store)")
	fs.StringVar(&g.apiKey, "api-key", g.apiKey, "shared secret for protected endpoints")
	fs.StringVar(&g.dataFile, "data-file", g.dataFile, "store file used in embedded mode")
	fs.DurationVar(&g.timeout, "timeout", g.timeout, "request timeout")

	switch command {
	case "packages":
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}
		return withBackend(g, func(ctx context.Context, b sdk.Backend) error {
			pkgs, err := b.ListPackages(ctx)
			if err != nil {
				return err
			}
			return printJSON(pkgs)
		})

	case "create":
		var req schema.CreateRequest
		fs.StringVar(&req.Name, "name", "", "candidate name")
		fs.StringVar(&req.Email, "email", "", "candidate email")
		fs.IntVar(&req.PackageID, "package", 0, "package id")
		fs.StringVar(&req.WebhookURL, "webhook-url", "", "URL notified on status changes")
		fs.StringVar(&req.PlatformURL, "platform-url", "", "host platform URL")
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}
		if req.Name == "" || req.Email == "" {
			return errors.New("usage: assessctl create --name <name> --email <email> --package <id>")
		}
		return withBackend(g, func(ctx context.Context, b sdk.Backend) error {
			rec, err := b.CreateAssessment(ctx, req)
			if err != nil {
				return err
			}
			return printJSON(rec)
		})

	case "get", "report":
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}
		if fs.NArg() != 1 {
			return fmt.Errorf("usage: assessctl %s <id>", command)
		}
		id := fs.Arg(0)
		return withBackend(g, func(ctx context.Context, b sdk.Backend) error {
			if command == "report" {
				rep, err := b.GetReport(ctx, id)
				if err != nil {
					return err
				}
				return printJSON(rep)
			}
			rec, err := b.GetAssessment(ctx, id)
			if err != nil {
				return err
			}
			return printJSON(rec)
		})

	case "update":
		var status string
		var score int
		fs.StringVar(&status, "status", "", "new status: "+statusList())
		fs.IntVar(&score, "score", 0, "score (omit to keep the stored score)")
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}
		if fs.NArg() != 1 || status == "" {
			return errors.New("usage: assessctl update <id> --status <status> [--score <n>]")
		}
		upd := schema.StatusUpdate{Status: schema.Status(status)}
		if fs.Changed("score") {
			upd.Score = &score
		}
		id := fs.Arg(0)
		return withBackend(g, func(ctx context.Context, b sdk.Backend) error {
			rec, err := b.UpdateStatus(ctx, id, upd)
			if err != nil {
				return err
			}
			return printJSON(rec)
		})

	case "migrate":
		var from, to string
		fs.StringVar(&from, "from", "", "source store file")
		fs.StringVar(&to, "to", "", "destination store file")
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}
		if from == "" || to == "" {
			return errors.New("usage: assessctl migrate --from <file> --to <file>")
		}
		return migrate(from, to)

	case "help", "-h", "--help":
		printUsage()
		return nil

	default:
		printUsage()
		return fmt.Errorf("unknown command: %s", command)
	}
}

func withBackend(g globals, fn func(context.Context, sdk.Backend) error) error {
	b, err := sdk.New(sdk.Options{
		BackendURL: g.backendURL,
		APIKey:     g.apiKey,
		Timeout:    g.timeout,
		DataFile:   g.dataFile,
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), g.timeout)
	defer cancel()
	err = fn(ctx, b)

	// Embedded mode relays in the background; let it finish before exit.
	if w, ok := b.(interface{ Wait() }); ok {
		w.Wait()
	}
	return err
}

func migrate(from, to string) error {
	src, err := openStore(from, false)
	if err != nil {
		return err
	}
	dst, err := openStore(to, true)
	if err != nil {
		return err
	}
	n, err := engine.Migrate(src, dst)
	if err != nil {
		return err
	}
	fmt.Printf("migrated %d records from %s to %s\n", n, from, to)
	return nil
}

// openStore reads a store file without quarantining it, so a corrupt file
// stops the command and stays where it is. Only a writable store persists.
func openStore(path string, writable bool) (*engine.MemStore, error) {
	if !writable {
		records, err := (&engine.Persistence{Path: path}).Peek()
		if err != nil {
			return nil, err
		}
		return engine.NewMemStore(records, nil), nil
	}

	p, err := engine.NewPersistence(path)
	if err != nil {
		return nil, err
	}
	records, err := p.Peek()
	if err != nil {
		return nil, err
	}
	return engine.NewMemStore(records, p), nil
}

func statusList() string {
	names := make([]string, 0, len(schema.Statuses))
	for _, s := range schema.Statuses {
		names = append(names, string(s))
	}
	return strings.Join(names, ", ")
}

func printUsage() {
	fmt.Println("assessctl - command line client for the assessment backend")
	fmt.Println("\nUsage:")
	fmt.Println("  assessctl packages")
	fmt.Println("  assessctl create --name <name> --email <email> --package <id> [--webhook-url <url>]")
	fmt.Println("  assessctl get <id>")
	fmt.Println("  assessctl update <id> --status <status> [--score <n>]")
	fmt.Println("  assessctl report <id>")
	fmt.Println("  assessctl migrate --from <file> --to <file>")
	fmt.Println("\nCommon flags: --backend-url, --api-key, --data-file, --timeout")
	fmt.Println("\nEnvironment Variables:")
	fmt.Println("  ASSESS_BACKEND_URL   Backend base URL; when unset the store file is used directly")
	fmt.Println("  ASSESS_API_KEY       Shared secret sent with protected requests")
	fmt.Println("  ASSESS_DATA_FILE     Store file for embedded mode (default: ./data/assessments.json)")
}

func printJSON(v any) error {
	bytes, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(bytes))
	return nil
}
