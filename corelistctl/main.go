package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/docopt/docopt-go"
	"golang.org/x/term"

	"github.com/JohnEstropia/CoreStore-sub005/corelist"
)

const CoreListCtlVersion = "0.0.1"

var Out *log.Logger
var Err *log.Logger

func init() {
	Out = log.New(os.Stdout, "", 0)
	Err = log.New(os.Stderr, "", log.Ldate|log.Ltime|log.Lshortfile)
}

func main() {
	usage := `CoreList control.

Snapshot files are JSON documents with a top level "sections" array.

Usage:
    corelistctl diff <old_snapshot> <new_snapshot> [--verbose]
    corelistctl watch --url=<feed_url>

Options:
    -h --help         Show this screen.
    --version         Show version.
    --url=<feed_url>  Websocket url of a change feed.
    --verbose         Print the data of each stage.`

	opts, err := docopt.ParseArgs(usage, os.Args[1:], CoreListCtlVersion)
	if err != nil {
		panic(err)
	}

	if diff_, _ := opts.Bool("diff"); diff_ {
		diff(opts)
	} else if watch_, _ := opts.Bool("watch"); watch_ {
		watch(opts)
	}
}

func diff(opts docopt.Opts) {
	oldPath, _ := opts.String("<old_snapshot>")
	newPath, _ := opts.String("<new_snapshot>")
	verbose, _ := opts.Bool("--verbose")

	oldSnapshot, err := loadSnapshot(oldPath)
	if err != nil {
		Err.Fatalf("Invalid old snapshot (%s).", err)
	}
	newSnapshot, err := loadSnapshot(newPath)
	if err != nil {
		Err.Fatalf("Invalid new snapshot (%s).", err)
	}

	stagedChangeset := corelist.Diff(oldSnapshot, newSnapshot)
	if len(stagedChangeset) == 0 {
		Out.Printf("No changes.")
		return
	}
	for i, changeset := range stagedChangeset {
		Out.Printf("stage %d/%d: %s", i+1, len(stagedChangeset), changeset)
		if verbose {
			Out.Printf("%s", changeset.Data)
		}
	}
	Out.Printf("%d operations in %d stages.", stagedChangeset.OperationCount(), len(stagedChangeset))
}

func watch(opts docopt.Opts) {
	feedUrl, _ := opts.String("--url")

	cancelCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	target := corelist.NewSliceTarget()
	dispatcher := corelist.NewDispatcherWithDefaults(cancelCtx, target)
	defer dispatcher.Close()

	clearScreen := term.IsTerminal(int(os.Stdout.Fd()))

	unsub := dispatcher.AddApplyEventCallback(func(event *corelist.ApplyEvent) {
		switch event.State {
		case corelist.ApplyStateCommitted:
			render(dispatcher.CurrentSnapshot(), clearScreen)
		case corelist.ApplyStateFailed:
			Err.Printf("Apply failed (%s).", event.Err)
		}
	})
	defer unsub()

	bridge := corelist.NewFeedBridgeWithDefaults(cancelCtx, feedUrl, dispatcher)
	defer bridge.Close()

	Out.Printf("Watching %s ...", feedUrl)

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigs:
	case <-cancelCtx.Done():
	}
}

func render(snapshot corelist.Snapshot, clearScreen bool) {
	if clearScreen {
		fmt.Print("\033[H\033[2J")
	}
	for s := 0; s < snapshot.NumberOfSections(); s++ {
		section, _ := snapshot.Section(s)
		Out.Printf("[%d] %s (%d)", s, describe(section.Metadata, section.Id), len(section.Elements))
		for e, element := range section.Elements {
			Out.Printf("  [%d-%d] %s", s, e, describe(element.Payload, element.Id))
		}
	}
}

func describe(value any, id corelist.Id) string {
	switch v := value.(type) {
	case nil:
		return id.String()
	case string:
		return v
	default:
		return fmt.Sprintf("%v", v)
	}
}

func loadSnapshot(path string) (corelist.Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return corelist.Snapshot{}, err
	}
	var frame corelist.SnapshotFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return corelist.Snapshot{}, err
	}
	return frame.ToSnapshot()
}
