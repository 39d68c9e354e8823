// Command claim-audit exports the claim processing log and checks live claim
// codes against archived code dumps from earlier seasons.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/bookstore-pickup/internal/storage/postgres"
)

const usage = `usage: claim-audit <command> [flags]

commands:
  export-logs     write the processing log as gzipped NDJSON
  archive-codes   write every stored claim code to a gzipped text file
  check-reuse     report live claim codes that appear in archived dumps
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	var err error
	switch cmd, args := os.Args[1], os.Args[2:]; cmd {
	case "export-logs":
		err = exportLogsCmd(ctx, args)
	case "archive-codes":
		err = archiveCodesCmd(ctx, args)
	case "check-reuse":
		err = checkReuseCmd(ctx, args)
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		slog.Error("claim audit failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func databaseFlag(fs *flag.FlagSet) *string {
	return fs.String("database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
}

func connect(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		return nil, errors.New("database URL is required: set --database-url or DATABASE_URL")
	}
	slog.Info("connecting to database")
	return postgres.NewPool(ctx, databaseURL)
}

func createOutput(path string) (*os.File, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, errors.Wrapf(err, "create %s", path)
	}
	return f, nil
}

func exportLogsCmd(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("export-logs", flag.ExitOnError)
	databaseURL := databaseFlag(fs)
	out := fs.String("out", "processing-logs.ndjson.gz", "output file")
	_ = fs.Parse(args)

	pool, err := connect(ctx, *databaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()

	f, err := createOutput(*out)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	n, err := writeLogs(ctx, f, postgres.NewProcessingLogRepository(pool).Each)
	if err != nil {
		return errors.Wrap(err, "export logs")
	}
	slog.Info("processing log exported", slog.String("path", *out), slog.Int("entries", n))
	return f.Close()
}

func archiveCodesCmd(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("archive-codes", flag.ExitOnError)
	databaseURL := databaseFlag(fs)
	out := fs.String("out", "claim-codes.gz", "output file")
	_ = fs.Parse(args)

	pool, err := connect(ctx, *databaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()

	f, err := createOutput(*out)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	n, err := writeCodes(ctx, f, postgres.NewOrderRepository(pool).EachClaimCode)
	if err != nil {
		return errors.Wrap(err, "archive codes")
	}
	slog.Info("claim codes archived", slog.String("path", *out), slog.Int("codes", n))
	return f.Close()
}

func checkReuseCmd(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("check-reuse", flag.ExitOnError)
	databaseURL := databaseFlag(fs)
	archives := fs.String("archives", "", "comma-separated gzipped code dumps")
	capacity := fs.Uint("capacity", 10_000_000, "expected codes per archive")
	_ = fs.Parse(args)

	var files []string
	for _, f := range strings.Split(*archives, ",") {
		if f = strings.TrimSpace(f); f != "" {
			files = append(files, f)
		}
	}
	if len(files) == 0 {
		return errors.New("at least one archive is required: set --archives")
	}
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			return errors.Wrapf(err, "check file %s", f)
		}
	}

	pool, err := connect(ctx, *databaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()

	reused, err := findReused(ctx, files, *capacity, postgres.NewOrderRepository(pool).EachClaimCode)
	if err != nil {
		return errors.Wrap(err, "check reuse")
	}

	for _, r := range reused {
		slog.Warn("claim code reused", slog.String("code", r.Code), slog.Any("archives", r.Archives))
	}
	slog.Info("reuse check complete", slog.Int("archives", len(files)), slog.Int("reused", len(reused)))
	return nil
}
