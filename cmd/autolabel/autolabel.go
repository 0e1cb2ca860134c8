// autolabel replays a precomputed detection labels file over every frame of
// a project and confirms the surviving proposals, producing a first-pass
// annotations file for a human to review and correct interactively.
package main

import (
	"fmt"
	"os"

	"github.com/akamensky/argparse"
	"github.com/cyclopcam/annotator/pkg/annostore"
	"github.com/cyclopcam/annotator/pkg/detect"
	"github.com/cyclopcam/annotator/pkg/eventlog"
	"github.com/cyclopcam/annotator/pkg/framesource"
	"github.com/cyclopcam/annotator/pkg/schema"
	"github.com/cyclopcam/annotator/pkg/session"
	"github.com/cyclopcam/logs"
)

func check(err error) {
	if err != nil {
		panic(err)
	}
}

func main() {
	parser := argparse.NewParser("autolabel", "Pre-annotate frames from a precomputed detection labels file")
	framesDir := parser.String("f", "frames", &argparse.Options{Help: "Directory of extracted video frames", Required: true})
	annotationsFile := parser.String("a", "annotations", &argparse.Options{Help: "Annotations JSON file (created if absent)", Required: true})
	schemaFile := parser.String("s", "schema", &argparse.Options{Help: "Project schema YAML file", Required: true})
	labelsFile := parser.String("l", "labels", &argparse.Options{Help: "Precomputed detection labels file", Required: true})
	eventsFile := parser.String("e", "events", &argparse.Options{Help: "Event log sqlite database", Required: false, Default: ""})
	category := parser.String("c", "category", &argparse.Options{Help: "Restrict to a single category id", Required: false, Default: ""})
	confidence := parser.Float("", "confidence", &argparse.Options{Help: "Detection confidence threshold", Required: false, Default: 0.0})
	overwrite := parser.Flag("", "overwrite", &argparse.Options{Help: "Also propose onto frames that already have annotations", Required: false})
	err := parser.Parse(os.Args)
	if err != nil {
		fmt.Print(parser.Usage(err))
		os.Exit(1)
	}

	logger, err := logs.NewLog()
	check(err)

	sch, err := schema.Load(*schemaFile)
	check(err)

	store, err := annostore.Open(logger, *annotationsFile)
	check(err)

	source, err := framesource.NewDirSource(logger, *framesDir)
	check(err)

	labels, err := detect.LoadFrameLabels(*labelsFile)
	check(err)

	var events *eventlog.EventLog
	if *eventsFile != "" {
		events, err = eventlog.Open(logger, *eventsFile)
		check(err)
		defer events.Close()
	}

	s, err := session.New(logger, sch, store, source, nil, events, session.Options{
		CategoryFilter: *category,
		Confidence:     float32(*confidence),
	})
	check(err)

	framesLabelled := 0
	totalAccepted := 0
	totalDropped := 0
	for i := 0; i < s.NumFrames(); i++ {
		check(s.GotoFrame(i))
		if !*overwrite && len(s.Confirmed()) > 0 {
			continue
		}
		n, err := s.Propose(labels.Classes, labels.Detections(s.FrameID()))
		check(err)
		if n == 0 {
			continue
		}
		accepted, dropped, err := s.ConfirmAll()
		check(err)
		if accepted > 0 {
			framesLabelled++
		}
		totalAccepted += accepted
		totalDropped += dropped
	}

	logger.Infof("Labelled %v of %v frames: %v annotations confirmed, %v proposals dropped", framesLabelled, s.NumFrames(), totalAccepted, totalDropped)
}
