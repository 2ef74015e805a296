package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/basket/go-covenant/internal/persistence"
	"github.com/basket/go-covenant/internal/shared"
)

func runOpenCommand(ctx context.Context, app *appContext, args []string) int {
	fs := flag.NewFlagSet("open", flag.ExitOnError)
	domain := fs.String("domain", "", "domain signature (coarse category tag)")
	_ = fs.Parse(args)
	if fs.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "usage: covenant open <description> [-domain tag]")
		return 2
	}
	description := strings.Join(fs.Args(), " ")

	return app.withStore(ctx, func(store *persistence.Store) int {
		e, err := app.newRecorder(store).Open(ctx, description, *domain)
		if err != nil {
			fmt.Fprintf(os.Stderr, "covenant: %v\n", err)
			return 1
		}
		fmt.Printf("opened event %s\n", e.ID)
		return 0
	})
}

func runIntentCommand(ctx context.Context, app *appContext, args []string) int {
	fs := flag.NewFlagSet("intent", flag.ExitOnError)
	goal := fs.String("goal", "", "what the session sets out to achieve (required)")
	constraints := fs.String("constraints", "", "constraints on acceptable fixes")
	signal := fs.String("signal", "", "observable signal that means success")
	confidence := fs.Float64("confidence", 0.5, "confidence in the goal, 0 to 1")
	_ = fs.Parse(args)
	if fs.NArg() != 1 || *goal == "" {
		fmt.Fprintln(os.Stderr, "usage: covenant intent <event-id> -goal ... [-constraints ...] [-signal ...] [-confidence 0.5]")
		return 2
	}
	ctx = shared.WithEventID(ctx, fs.Arg(0))

	return app.withStore(ctx, func(store *persistence.Store) int {
		t, err := app.newRecorder(store).RecordIntent(ctx, persistence.IntentToken{
			EventID:       fs.Arg(0),
			Goal:          *goal,
			Constraints:   *constraints,
			SuccessSignal: *signal,
			Confidence:    *confidence,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "covenant: %v\n", err)
			return 1
		}
		fmt.Printf("recorded intent %s\n", t.ID)
		return 0
	})
}

func runHypothesisCommand(ctx context.Context, app *appContext, args []string) int {
	fs := flag.NewFlagSet("hypothesis", flag.ExitOnError)
	model := fs.String("model", "", "candidate failure model (required)")
	probability := fs.Float64("p", 0.5, "relative weight, 0 to 1")
	falsifiers := fs.String("falsifiers", "", "observations that would rule this out")
	domain := fs.String("domain", "", "domain signature")
	_ = fs.Parse(args)
	if fs.NArg() != 1 || *model == "" {
		fmt.Fprintln(os.Stderr, "usage: covenant hypothesis <event-id> -model ... [-p 0.5] [-falsifiers ...]")
		return 2
	}
	ctx = shared.WithEventID(ctx, fs.Arg(0))

	return app.withStore(ctx, func(store *persistence.Store) int {
		h, err := app.newRecorder(store).AddHypothesis(ctx, persistence.Hypothesis{
			EventID:         fs.Arg(0),
			ModelType:       *model,
			Probability:     *probability,
			Falsifiers:      *falsifiers,
			DomainSignature: *domain,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "covenant: %v\n", err)
			return 1
		}
		fmt.Printf("added hypothesis %s\n", h.ID)
		return 0
	})
}

func runTestCommand(ctx context.Context, app *appContext, args []string) int {
	fs := flag.NewFlagSet("test", flag.ExitOnError)
	hypothesis := fs.String("hypothesis", "", "hypothesis id this test probes (required)")
	description := fs.String("desc", "", "what the test did (required)")
	result := fs.String("result", "", "what happened")
	evidence := fs.String("evidence", "", "opaque evidence locator")
	_ = fs.Parse(args)
	if fs.NArg() != 1 || *hypothesis == "" || *description == "" {
		fmt.Fprintln(os.Stderr, "usage: covenant test <event-id> -hypothesis <id> -desc ... [-result ...] [-evidence ...]")
		return 2
	}
	ctx = shared.WithEventID(ctx, fs.Arg(0))

	return app.withStore(ctx, func(store *persistence.Store) int {
		t, err := app.newRecorder(store).RecordTest(ctx, persistence.Test{
			EventID:      fs.Arg(0),
			HypothesisID: *hypothesis,
			Description:  *description,
			Result:       *result,
			EvidenceRef:  *evidence,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "covenant: %v\n", err)
			return 1
		}
		fmt.Printf("recorded test %s\n", t.ID)
		return 0
	})
}

func runResolveCommand(ctx context.Context, app *appContext, args []string) int {
	fs := flag.NewFlagSet("resolve", flag.ExitOnError)
	summary := fs.String("summary", "", "what actually fixed it (required)")
	refs := fs.String("refs", "", "comma-separated test ids substantiating the outcome (required)")
	_ = fs.Parse(args)
	if fs.NArg() != 1 || *summary == "" {
		fmt.Fprintln(os.Stderr, "usage: covenant resolve <event-id> -summary ... -refs test-id[,test-id...]")
		return 2
	}

	ctx = shared.WithEventID(ctx, fs.Arg(0))

	var evidenceRefs []string
	for _, ref := range strings.Split(*refs, ",") {
		if ref = strings.TrimSpace(ref); ref != "" {
			evidenceRefs = append(evidenceRefs, ref)
		}
	}

	return app.withStore(ctx, func(store *persistence.Store) int {
		o, err := app.newRecorder(store).RecordOutcome(ctx, persistence.Outcome{
			EventID:      fs.Arg(0),
			Summary:      *summary,
			EvidenceRefs: evidenceRefs,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "covenant: %v\n", err)
			return 1
		}
		fmt.Printf("resolved event %s (outcome %s)\n", fs.Arg(0), o.ID)
		return 0
	})
}

func runEventsCommand(ctx context.Context, app *appContext, args []string) int {
	fs := flag.NewFlagSet("events", flag.ExitOnError)
	status := fs.String("status", "", "filter by status: open, tested, resolved")
	_ = fs.Parse(args)

	return app.withStore(ctx, func(store *persistence.Store) int {
		events, err := store.ListEvents(ctx, persistence.EventStatus(*status))
		if err != nil {
			fmt.Fprintf(os.Stderr, "covenant: %v\n", err)
			return 1
		}
		if len(events) == 0 {
			fmt.Println("no events")
			return 0
		}
		for _, e := range events {
			fmt.Printf("%s  %-8s  %s", e.ID, e.Status, e.Description)
			if e.DomainSignature != "" {
				fmt.Printf("  [%s]", e.DomainSignature)
			}
			fmt.Println()
		}
		return 0
	})
}
