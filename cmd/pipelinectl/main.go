// pipelinectl is the operator CLI: requeue a dead-letter event,
// inspect an event and its error ledger, sweep abandoned claims, or
// purge processed ledger rows.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/recordflow/internal/config"
	"github.com/jwalitptl/recordflow/internal/repository/postgres"
	"github.com/jwalitptl/recordflow/pkg/logger"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	log := logger.NewLogger(nil)
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal(err, "failed to load config")
	}
	db, err := postgres.NewDB(cfg.Database)
	if err != nil {
		log.Fatal(err, "failed to connect to database")
	}
	defer db.Close()
	store := postgres.NewStore(db)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	switch os.Args[1] {
	case "requeue":
		id := mustEventID(os.Args[2:])
		if err := store.Events().Requeue(ctx, id); err != nil {
			log.Fatal(err, "requeue failed", "event_id", id.String())
		}
		fmt.Printf("event %s requeued\n", id)

	case "inspect":
		id := mustEventID(os.Args[2:])
		event, err := store.Events().Get(ctx, id)
		if err != nil {
			log.Fatal(err, "failed to load event", "event_id", id.String())
		}
		errs, err := store.Errors().ListByEvent(ctx, id)
		if err != nil {
			log.Fatal(err, "failed to load error records", "event_id", id.String())
		}
		out, _ := json.MarshalIndent(map[string]interface{}{
			"event":  event,
			"errors": errs,
		}, "", "  ")
		fmt.Println(string(out))

	case "sweep":
		fs := flag.NewFlagSet("sweep", flag.ExitOnError)
		liveness := fs.Duration("liveness", cfg.Pipeline.ClaimLivenessTimeout, "claim liveness timeout")
		fs.Parse(os.Args[2:])
		reclaimed, err := store.Events().ReclaimAbandoned(ctx, time.Now().Add(-*liveness))
		if err != nil {
			log.Fatal(err, "sweep failed")
		}
		fmt.Printf("reclaimed %d abandoned events\n", reclaimed)

	case "purge":
		fs := flag.NewFlagSet("purge", flag.ExitOnError)
		before := fs.Duration("older-than", 30*24*time.Hour, "delete done events older than this")
		fs.Parse(os.Args[2:])
		deleted, err := store.Events().DeleteDoneBefore(ctx, time.Now().Add(-*before))
		if err != nil {
			log.Fatal(err, "purge failed")
		}
		fmt.Printf("deleted %d processed events\n", deleted)

	default:
		usage()
		os.Exit(2)
	}
}

func mustEventID(args []string) uuid.UUID {
	if len(args) < 1 {
		usage()
		os.Exit(2)
	}
	id, err := uuid.Parse(args[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid event id %q: %v\n", args[0], err)
		os.Exit(2)
	}
	return id
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage:
  pipelinectl requeue <event_id>
  pipelinectl inspect <event_id>
  pipelinectl sweep [-liveness <duration>]
  pipelinectl purge [-older-than <duration>]`)
}
