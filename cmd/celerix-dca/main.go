package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/celerix-dev/celerix-dca/internal/ingest"
	"github.com/celerix-dev/celerix-dca/pkg/schema"
	"github.com/celerix-dev/celerix-dca/pkg/sdk"
)

func main() {
	_ = godotenv.Load() // silently ignore if .env doesn't exist

	if len(os.Args) < 2 {
		printUsage(os.Stdout)
		return
	}

	addr := os.Getenv("CELERIX_STORE_ADDR")
	if addr == "" {
		addr = "localhost:7001"
	}

	var opts []sdk.ClientOption
	if os.Getenv("CELERIX_DISABLE_TLS") == "true" {
		opts = append(opts, sdk.WithoutTLS())
	}
	client, err := sdk.Connect(addr, opts...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to connect to %s: %v\n", addr, err)
		os.Exit(1)
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	if err := run(ctx, client, os.Args[1], os.Args[2:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		client.Close()
		os.Exit(exitCode(err))
	}
}

var errUsage = errors.New("invalid usage")

func run(ctx context.Context, client *sdk.Client, command string, args []string, out io.Writer) error {
	switch strings.ToLower(command) {
	case "import":
		if len(args) < 1 {
			return fmt.Errorf("%w: celerix-dca import <file.csv|file.xlsx>", errUsage)
		}
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()
		records, err := ingest.Decode(args[0], f)
		if err != nil {
			return err
		}
		n, err := client.BulkLoad(ctx, filepath.Base(args[0]), records)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Imported %d cases from %s\n", n, filepath.Base(args[0]))

	case "get":
		if len(args) < 1 {
			return fmt.Errorf("%w: celerix-dca get <caseID>", errUsage)
		}
		c, err := client.Get(ctx, args[0])
		if err != nil {
			return err
		}
		printJSON(out, c)

	case "cases":
		cases, err := client.Cases(ctx)
		if err != nil {
			return err
		}
		printJSON(out, cases)

	case "update":
		if len(args) < 3 {
			return fmt.Errorf("%w: celerix-dca update <caseID> <status> <agency> [note]", errUsage)
		}
		c, err := client.SubmitUpdate(ctx, sdk.UpdateRequest{
			CaseID:       args[0],
			NewStatus:    schema.Status(args[1]),
			ActingAgency: args[2],
			Note:         strings.Join(args[3:], " "),
		})
		if err != nil {
			return err
		}
		printJSON(out, c)

	case "view":
		if len(args) < 1 {
			return fmt.Errorf("%w: celerix-dca view <agency> [search]", errUsage)
		}
		search := ""
		if len(args) > 1 {
			search = args[1]
		}
		v, err := client.ViewFor(ctx, schema.Agency(args[0]), search)
		if err != nil {
			return err
		}
		printJSON(out, v)

	case "overview":
		ov, err := client.Overview(ctx)
		if err != nil {
			return err
		}
		printJSON(out, ov)

	case "agencies":
		list, err := client.Agencies(ctx)
		if err != nil {
			return err
		}
		printJSON(out, list)

	case "audit":
		limit := 0
		if len(args) > 0 {
			n, err := strconv.Atoi(args[0])
			if err != nil || n < 0 {
				return fmt.Errorf("%w: celerix-dca audit [limit]", errUsage)
			}
			limit = n
		}
		entries, err := client.AuditTail(ctx, limit)
		if err != nil {
			return err
		}
		printJSON(out, entries)

	case "ping":
		if err := client.Ping(ctx); err != nil {
			return err
		}
		fmt.Fprintln(out, "PONG")

	default:
		printUsage(out)
		return fmt.Errorf("%w: unknown command %q", errUsage, command)
	}
	return nil
}

func exitCode(err error) int {
	switch {
	case errors.Is(err, errUsage):
		return 2
	case errors.Is(err, sdk.ErrNotFound):
		return 3
	case errors.Is(err, sdk.ErrValidation), errors.Is(err, sdk.ErrInvalidTransition):
		return 4
	}
	return 1
}

func printUsage(out io.Writer) {
	fmt.Fprintln(out, "celerix-dca - case allocation and audit CLI")
	fmt.Fprintln(out, "\nUsage:")
	fmt.Fprintln(out, "  celerix-dca import <file.csv|file.xlsx>")
	fmt.Fprintln(out, "  celerix-dca get <caseID>")
	fmt.Fprintln(out, "  celerix-dca cases")
	fmt.Fprintln(out, "  celerix-dca update <caseID> <status> <agency> [note]")
	fmt.Fprintln(out, "  celerix-dca view <agency> [search]")
	fmt.Fprintln(out, "  celerix-dca overview")
	fmt.Fprintln(out, "  celerix-dca agencies")
	fmt.Fprintln(out, "  celerix-dca audit [limit]")
	fmt.Fprintln(out, "  celerix-dca ping")
	fmt.Fprintln(out, "\nEnvironment Variables:")
	fmt.Fprintln(out, "  CELERIX_STORE_ADDR    Address of the daemon (default: localhost:7001)")
	fmt.Fprintln(out, "  CELERIX_DISABLE_TLS   Set to true to disable TLS")
}

func printJSON(out io.Writer, v any) {
	bytes, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintln(out, v)
		return
	}
	fmt.Fprintln(out, string(bytes))
}
