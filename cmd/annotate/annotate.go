package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/akamensky/argparse"
	"github.com/cyclopcam/annotator/pkg/anno"
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
	parser := argparse.NewParser("annotate", "Interactive frame annotation session")
	framesDir := parser.String("f", "frames", &argparse.Options{Help: "Directory of extracted video frames", Required: true})
	annotationsFile := parser.String("a", "annotations", &argparse.Options{Help: "Annotations JSON file (created if absent)", Required: true})
	schemaFile := parser.String("s", "schema", &argparse.Options{Help: "Project schema YAML file", Required: true})
	labelsFile := parser.String("l", "labels", &argparse.Options{Help: "Precomputed detection labels file, enables 'infer'", Required: false, Default: ""})
	eventsFile := parser.String("e", "events", &argparse.Options{Help: "Event log sqlite database", Required: false, Default: ""})
	category := parser.String("c", "category", &argparse.Options{Help: "Restrict the session to a single category id", Required: false, Default: ""})
	confidence := parser.Float("", "confidence", &argparse.Options{Help: "Detection confidence threshold", Required: false, Default: 0.0})
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

	var labels *detect.FrameLabels
	if *labelsFile != "" {
		labels, err = detect.LoadFrameLabels(*labelsFile)
		check(err)
	}

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

	fmt.Printf("Project '%v': %v frames, %v categories. Type 'help' for commands.\n", sch.Project, s.NumFrames(), len(sch.Categories))
	printFrame(s)

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "quit" || line == "q" {
			break
		}
		if err := dispatch(s, labels, line); err != nil {
			if recoverable(err) {
				fmt.Printf("  %v\n", err)
			} else {
				check(err)
			}
		}
		printFrame(s)
	}
	check(scanner.Err())
}

// recoverable errors are reported and the loop continues; anything else
// (store corruption, IO failure) aborts the session
func recoverable(err error) bool {
	for _, kind := range []error{
		anno.ErrBoxDegenerate,
		anno.ErrBoxTooSmall,
		anno.ErrBoxOverlap,
		session.ErrNoSelection,
		session.ErrNoProvisional,
		session.ErrNothingToRepeat,
		session.ErrNavigationBoundary,
		session.ErrUnknownCategory,
		session.ErrUnknownSubcategory,
		detect.ErrInferenceUnavailable,
		errUsage,
	} {
		if errors.Is(err, kind) {
			return true
		}
	}
	return false
}

var errUsage = errors.New("usage")

func dispatch(s *session.Session, labels *detect.FrameLabels, line string) error {
	fields := strings.Fields(line)
	cmd, args := fields[0], fields[1:]
	switch cmd {
	case "help", "h":
		printHelp()
		return nil
	case "box", "b":
		if len(args) != 4 {
			return fmt.Errorf("%w: box <x1> <y1> <x2> <y2>", errUsage)
		}
		coords := [4]int{}
		for i, arg := range args {
			v, err := strconv.Atoi(arg)
			if err != nil {
				return fmt.Errorf("%w: box coordinates must be integers", errUsage)
			}
			coords[i] = v
		}
		_, err := s.CreateBox(anno.MakeBox(coords[0], coords[1], coords[2], coords[3]))
		return err
	case "cat", "c":
		if len(args) != 1 {
			return fmt.Errorf("%w: cat <category id>", errUsage)
		}
		return s.SetCategory(args[0])
	case "sub":
		if len(args) != 1 {
			return fmt.Errorf("%w: sub <i|m|f>", errUsage)
		}
		return s.SetSubcategory(args[0])
	case "next", "n":
		return s.Navigate(1)
	case "prev", "p":
		return s.Navigate(-1)
	case "goto", "g":
		if len(args) != 1 {
			return fmt.Errorf("%w: goto <frame index>", errUsage)
		}
		idx, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("%w: goto <frame index>", errUsage)
		}
		return s.GotoFrame(idx)
	case "]":
		return s.NextAnnotated()
	case "[":
		return s.PrevAnnotated()
	case "tab", "t":
		return s.SelectNext()
	case "shifttab", "T":
		return s.SelectPrevious()
	case "del", "d":
		return s.DeleteSelected()
	case "clear":
		return s.ClearFrame()
	case "repeat", "r":
		_, err := s.RepeatLast()
		return err
	case "fixed", "x":
		n, err := s.ApplyFixedBoxes()
		if err == nil {
			fmt.Printf("  Inserted %v fixed box(es)\n", n)
		}
		return err
	case "infer", "i":
		if labels == nil {
			// Falls through to the live detector, which is not loaded in
			// this tool, so this reports inference unavailable
			_, err := s.RunInference()
			return err
		}
		n, err := s.Propose(labels.Classes, labels.Detections(s.FrameID()))
		if err == nil {
			fmt.Printf("  %v proposal(s)\n", n)
		}
		return err
	case "pnext":
		return s.SelectNextProvisional()
	case "pprev":
		return s.SelectPrevProvisional()
	case "confirm":
		return s.ConfirmSelected()
	case "confirmall", "ca":
		accepted, dropped, err := s.ConfirmAll()
		if err == nil {
			fmt.Printf("  Confirmed %v, dropped %v\n", accepted, dropped)
		}
		return err
	case "cancel":
		return s.CancelProvisional()
	case "skipmode":
		if len(args) != 1 {
			return fmt.Errorf("%w: skipmode <0|1|2>", errUsage)
		}
		mode, err := strconv.Atoi(args[0])
		if err != nil || mode < 0 || mode > 2 {
			return fmt.Errorf("%w: skipmode is 0 (off), 1 (next frame) or 2 (next unannotated)", errUsage)
		}
		s.SetAutoSkip(session.AutoSkipMode(mode))
		return nil
	case "display":
		fmt.Printf("  Display mode %v\n", s.CycleDisplayMode())
		return nil
	case "stats":
		printStats(s)
		return nil
	default:
		return fmt.Errorf("%w: unknown command '%v'", errUsage, cmd)
	}
}

func printFrame(s *session.Session) {
	fmt.Printf("[%v/%v] %v", s.Cursor()+1, s.NumFrames(), s.FrameID())
	confirmed := s.Confirmed()
	for i, a := range confirmed {
		marker := " "
		if i == s.Selection() {
			marker = "*"
		}
		cat := "-"
		if a.CategoryName != nil {
			cat = *a.CategoryName
			if a.SubcategoryID != nil {
				cat += "/" + *a.SubcategoryID
			}
		}
		fmt.Printf("\n  %v %v %v %v", marker, a.Box, cat, a.Source)
	}
	for i, a := range s.Provisional() {
		marker := " "
		if i == s.ProvisionalSelection() {
			marker = ">"
		}
		fmt.Printf("\n  %v %v %v? %.2f", marker, a.Box, *a.CategoryName, *a.Confidence)
	}
	fmt.Println()
}

func printStats(s *session.Session) {
	stats := s.Statistics()
	fmt.Printf("  Frames touched:    %v\n", stats.TotalFrames)
	fmt.Printf("  Frames with boxes: %v\n", stats.FramesWithBoxes)
	fmt.Printf("  Annotations:       %v\n", stats.TotalAnnotations)
	for _, id := range s.Schema().CategoryKeys() {
		if n := stats.CategoryCounts[id]; n > 0 {
			name, _ := s.Schema().CategoryName(id)
			fmt.Printf("    %v %v: %v\n", id, name, n)
		}
	}
}

func printHelp() {
	fmt.Print(`  box <x1> <y1> <x2> <y2>  draw a box
  cat <id>                 set category of selected box
  sub <i|m|f>              set subcategory phase of selected box
  tab / shifttab           cycle selection
  del / clear / repeat     delete selected / clear frame / repeat last box
  fixed                    insert fixed box templates
  next / prev / goto <n>   navigation
  ] / [                    next / previous annotated frame
  infer                    propose detections for this frame
  pnext / pprev            cycle proposal selection
  confirm / confirmall     promote proposal(s)
  cancel                   discard proposals
  skipmode <0|1|2>         auto-skip off / next / next unannotated
  display                  cycle overlay display mode
  stats                    annotation statistics
  quit
`)
}
