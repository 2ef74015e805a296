package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/basket/go-covenant/internal/persistence"
	"github.com/basket/go-covenant/internal/recorder"
)

// readCaptureInput decodes a session document from the named file, or
// from stdin when name is empty or "-".
func readCaptureInput(name string) (recorder.CaptureInput, error) {
	var r io.Reader = os.Stdin
	if name != "" && name != "-" {
		f, err := os.Open(name)
		if err != nil {
			return recorder.CaptureInput{}, err
		}
		defer f.Close()
		r = f
	}

	var in recorder.CaptureInput
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&in); err != nil {
		return recorder.CaptureInput{}, fmt.Errorf("decode capture document: %w", err)
	}
	return in, nil
}

func runCaptureCommand(ctx context.Context, app *appContext, args []string) int {
	name := ""
	if len(args) > 0 {
		name = args[0]
	}
	in, err := readCaptureInput(name)
	if err != nil {
		fmt.Fprintf(os.Stderr, "covenant: %v\n", err)
		return 2
	}

	return app.withStore(ctx, func(store *persistence.Store) int {
		event, err := app.newRecorder(store).Capture(ctx, in)
		if err != nil {
			fmt.Fprintf(os.Stderr, "covenant: capture: %v\n", err)
			return 1
		}
		fmt.Printf("captured event %s (%s)\n", event.ID, event.Status)
		return 0
	})
}
