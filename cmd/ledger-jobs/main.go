package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"bitbucket.org/mmdatafocus/studentbank_backend/config"
	"bitbucket.org/mmdatafocus/studentbank_backend/workflow"
	"github.com/sirupsen/logrus"
)

func main() {
	job := flag.String("job", "", "Required: dividends | limit-reset | limit-reset-due | outbox")
	shareTypeID := flag.Int("share-type-id", 0, "Share type id (dividends, limit-reset)")
	instanceIDs := flag.String("instance-ids", "", "Comma-separated instance ids (dividends)")
	settingsPath := flag.String("settings", "settings", "Directory holding an optional appsettings.yaml")
	flag.Parse()

	settings, err := config.LoadSettings(*settingsPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load settings: %v\n", err)
		os.Exit(1)
	}
	logger := config.NewLogger(settings.Service.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	connectCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()
	db, err := config.ConnectDatabaseWithRetry(connectCtx, settings.Database)
	if err != nil {
		fmt.Fprintf(os.Stderr, "database not initialized: %v\n", err)
		os.Exit(1)
	}
	ledger := workflow.NewLedger(db, logger, workflow.Options{AtomicWorkflows: settings.Ledger.AtomicWorkflows})

	switch *job {
	case "dividends":
		ids, err := parseIds(*instanceIDs)
		if err != nil || *shareTypeID <= 0 || len(ids) == 0 {
			fmt.Fprintln(os.Stderr, "--share-type-id and --instance-ids are required for dividends")
			os.Exit(1)
		}
		run, err := ledger.PostDividends(ctx, *shareTypeID, ids)
		if err != nil {
			fail(logger, "dividends", err)
		}
		fmt.Printf("dividends posted: share_type=%d shares=%d chunks=%d total=%s\n",
			run.ShareTypeId, run.SharesCredited, run.Chunks, run.Total)

	case "limit-reset":
		if *shareTypeID <= 0 {
			fmt.Fprintln(os.Stderr, "--share-type-id is required for limit-reset")
			os.Exit(1)
		}
		run, err := ledger.ResetWithdrawalLimit(ctx, *shareTypeID)
		if err != nil {
			fail(logger, "limit-reset", err)
		}
		if run == nil {
			fmt.Printf("share type %d has no withdrawal limit; nothing to reset\n", *shareTypeID)
			return
		}
		fmt.Printf("withdrawal limits reset: share_type=%d shares=%d chunks=%d\n", run.ShareTypeId, run.SharesReset, run.Chunks)

	case "limit-reset-due":
		runs, err := ledger.ResetDueWithdrawalLimits(ctx)
		if err != nil {
			fail(logger, "limit-reset-due", err)
		}
		for _, run := range runs {
			fmt.Printf("withdrawal limits reset: share_type=%d shares=%d chunks=%d\n", run.ShareTypeId, run.SharesReset, run.Chunks)
		}
		fmt.Printf("done: %d share type(s) reset\n", len(runs))

	case "outbox":
		publisher, err := config.NewPubSubPublisher(ctx, settings.PubSub)
		if err != nil {
			fail(logger, "outbox", err)
		}
		defer publisher.Close()
		dispatcher := workflow.NewOutboxDispatcher(db, logger, publisher)
		total := 0
		for {
			sent, err := dispatcher.DispatchOnce(ctx)
			if err != nil {
				fail(logger, "outbox", err)
			}
			total += sent
			if sent == 0 {
				break
			}
		}
		fmt.Printf("outbox drained: %d event(s) published\n", total)

	default:
		fmt.Fprintln(os.Stderr, "--job must be one of dividends, limit-reset, limit-reset-due, outbox")
		os.Exit(1)
	}
}

func parseIds(csv string) ([]int, error) {
	var ids []int
	for _, part := range strings.Split(csv, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("invalid id %q: %w", part, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func fail(logger *logrus.Logger, job string, err error) {
	config.LogError(logger, "ledger-jobs", job, "run", nil, err)
	fmt.Fprintf(os.Stderr, "%s failed: %v\n", job, err)
	os.Exit(1)
}
