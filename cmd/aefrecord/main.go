// aefrecord captures a live session's events into a fixture recording file.
// It reads JSON Lines from stdin — piped from `docker logs -f`, a hook
// process's stderr, or any other event source — and writes them through
// pkg/recorder, mirroring original_source/scripts/capture_recording.py's
// container-log capture workflow as a standalone Go binary.
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/agentic-observability/aef/pkg/recorder"
)

func main() {
	output := flag.String("output", "", "output recording file path (required)")
	cliVersion := flag.String("cli-version", "unknown", "CLI version for the recording metadata")
	model := flag.String("model", "unknown", "model name for the recording metadata")
	provider := flag.String("provider", "claude", "provider name for the recording metadata")
	task := flag.String("task", "", "task description for the recording metadata")
	workspace := flag.String("workspace", "", "optional directory to snapshot alongside the recording")
	verbose := flag.Bool("v", false, "print each captured event to stderr")
	flag.Parse()

	if *output == "" {
		fmt.Fprintln(os.Stderr, "aefrecord: -output is required")
		flag.Usage()
		os.Exit(2)
	}

	var opts []recorder.Option
	if *workspace != "" {
		opts = append(opts, recorder.WithWorkspace(*workspace))
	}

	meta := recorder.Metadata{
		CLIVersion:    *cliVersion,
		Model:         *model,
		Provider:      *provider,
		Task:          *task,
		CaptureMethod: "stdin",
	}
	rec := recorder.New(*output, meta, opts...)

	count, err := capture(os.Stdin, rec, *verbose)
	if err != nil {
		log.Fatalf("aefrecord: capture failed: %v", err)
	}
	if err := rec.Close(); err != nil {
		log.Fatalf("aefrecord: failed to write recording: %v", err)
	}

	log.Printf("captured %d events to %s", count, *output)
	if count == 0 {
		os.Exit(1)
	}
}

// capture reads newline-delimited JSON from r, recognizing a line as an
// event when it decodes as a JSON object carrying an "event_type" or
// "type" key (the latter covers raw Claude CLI transcript lines, same
// heuristic as the Python script's is_jsonl_event). Non-event lines are
// passed through to stderr when verbose and otherwise dropped.
func capture(r *os.File, rec *recorder.Recorder, verbose bool) (int, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	count := 0
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}

		var event map[string]any
		if err := json.Unmarshal([]byte(line), &event); err != nil {
			if verbose {
				fmt.Fprintf(os.Stderr, "  [pass] %s\n", line)
			}
			continue
		}
		if _, hasEventType := event["event_type"]; !hasEventType {
			if _, hasType := event["type"]; !hasType {
				if verbose {
					fmt.Fprintf(os.Stderr, "  [pass] %s\n", line)
				}
				continue
			}
		}

		if err := rec.Record(event); err != nil {
			return count, err
		}
		count++

		if verbose {
			eventType, _ := event["event_type"].(string)
			if eventType == "" {
				eventType, _ = event["type"].(string)
			}
			fmt.Fprintf(os.Stderr, "  [event] %s\n", eventType)
		}
	}

	return count, scanner.Err()
}
