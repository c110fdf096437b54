package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path"
	"strings"

	"investa/internal/config"
	"investa/internal/directory"
	"investa/internal/search"

	"github.com/google/subcommands"
	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"
)

var configPath = flag.String("config", "", "optional YAML config file")

// env holds what every subcommand needs: the config, a logger and an ensured directory store.
type env struct {
	cfg   *config.Config
	log   *logrus.Logger
	db    *sqlx.DB
	store *directory.Store
}

func openEnv(ctx context.Context) (*env, error) {
	_ = godotenv.Load()
	cfg, err := config.Load(*configPath)
	if err != nil {
		return nil, err
	}
	log := cfg.Logger()
	db, err := sqlx.ConnectContext(ctx, "postgres", cfg.Database.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to db: %w", err)
	}
	store := directory.NewStore(db, log)
	if err := store.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return &env{cfg: cfg, log: log, db: db, store: store}, nil
}

func (e *env) Close() { e.db.Close() }

type syncCmd struct {
	force bool
}

func (*syncCmd) Name() string     { return "sync" }
func (*syncCmd) Synopsis() string { return "download the exchange symbol directory" }
func (*syncCmd) Usage() string {
	return `tickers sync [-force]

  Downloads nasdaqlisted.txt and otherlisted.txt, upserts every symbol and
  rebuilds the search index. Without -force nothing happens when a sync
  already succeeded today.
`
}

func (c *syncCmd) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&c.force, "force", false, "sync even if the directory was refreshed today")
}

func (c *syncCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	e, err := openEnv(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	defer e.Close()

	feed := directory.NewFTPFeed(directory.FTPConfig{Addr: e.cfg.Feed.Host, Dir: e.cfg.Feed.Dir, Timeout: e.cfg.FeedTimeout()}, e.log)
	syncer := directory.NewSyncer(e.store, feed, e.log)
	run := syncer.SyncIfNeeded
	if c.force {
		run = syncer.Force
	}
	res, err := run(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "sync failed: %v\n", err)
		return subcommands.ExitFailure
	}
	fmt.Printf("%s: %d tickers\n", res.Status, res.Count)
	return subcommands.ExitSuccess
}

type searchCmd struct {
	limit   int
	options bool
}

func (*searchCmd) Name() string     { return "search" }
func (*searchCmd) Synopsis() string { return "search the ticker directory" }
func (*searchCmd) Usage() string {
	return `tickers search [-n <limit>] [-options] <query>

  Prints symbols whose symbol starts with the query, then symbols whose
  name contains it.
`
}

func (c *searchCmd) SetFlags(f *flag.FlagSet) {
	f.IntVar(&c.limit, "n", 0, "maximum number of results (defaults to the configured limit)")
	f.BoolVar(&c.options, "options", false, "print formatted options instead of bare symbols")
}

func (c *searchCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "search requires a query")
		return subcommands.ExitUsageError
	}
	e, err := openEnv(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	defer e.Close()

	s := search.New(e.store, e.cfg.SearchCacheTTL(), e.cfg.Search.Limit, e.log)
	query := strings.Join(f.Args(), " ")
	results := s.SearchTickers(ctx, query, c.limit)
	if c.options {
		results = s.FormattedOptions(ctx, query, c.limit)
	}
	for _, r := range results {
		fmt.Println(r)
	}
	return subcommands.ExitSuccess
}

type countCmd struct{}

func (*countCmd) Name() string             { return "count" }
func (*countCmd) Synopsis() string         { return "print the number of tickers and the last sync time" }
func (*countCmd) Usage() string            { return "tickers count\n" }
func (*countCmd) SetFlags(_ *flag.FlagSet) {}

func (*countCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	e, err := openEnv(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	defer e.Close()

	n, err := e.store.Count(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	fmt.Printf("tickers: %d\n", n)
	if last, ok, err := e.store.LastSync(ctx); err == nil && ok {
		fmt.Printf("last sync: %s\n", last.Format("2006-01-02 15:04:05 MST"))
	} else {
		fmt.Println("last sync: never")
	}
	return subcommands.ExitSuccess
}

func main() {
	commander := subcommands.NewCommander(flag.CommandLine, path.Base(os.Args[0]))
	commander.Register(commander.HelpCommand(), "")
	commander.Register(commander.FlagsCommand(), "")
	commander.Register(&syncCmd{}, "")
	commander.Register(&searchCmd{}, "")
	commander.Register(&countCmd{}, "")

	flag.Parse()
	os.Exit(int(commander.Execute(context.Background())))
}
