// Command refextract runs the pose estimator over a reference video and writes
// the keypoint file formcheck can load without re-running inference.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/cheggaaa/pb/v3"

	"github.com/ayusman/formcheck/internal/pose"
	"github.com/ayusman/formcheck/internal/reference"
)

const barTemplate = `{{ string . "prefix" }} {{counters . "%s/%s" "%s/?"}} {{bar . }} {{percent . "%.01f%%" "?"}} {{etime . "%s elapsed"}} {{rtime . "%s remain" "%s total" "???"}}`

func main() {
	in := flag.String("in", filepath.Join("reference", "bicep_correct.mp4"), "reference video")
	out := flag.String("out", "", "output keypoint file (default: <video>.json)")
	python := flag.String("python", "", "python interpreter for the pose service")
	script := flag.String("script", "", "pose service script")
	minConf := flag.Float64("min-confidence", pose.DefaultConfig().MinConfidence, "keypoint confidence threshold")
	flag.Parse()

	if *out == "" {
		*out = strings.TrimSuffix(*in, filepath.Ext(*in)) + ".json"
	}

	if _, err := os.Stat(*in); err != nil {
		log.Fatalf("Reference video not found: %v", err)
	}

	est, err := pose.NewServiceEstimator(pose.Config{
		Python:        *python,
		Script:        *script,
		MinConfidence: *minConf,
	})
	if err != nil {
		log.Fatalf("Pose service not available: %v", err)
	}
	defer est.Close()

	fmt.Printf("Extracting keypoints from %s\n", *in)

	bar := pb.ProgressBarTemplate(barTemplate).Start(0)
	bar.Set("prefix", filepath.Base(*in))
	frames, err := reference.ExtractVideo(*in, est, func(done, total int) {
		if total > 0 && bar.Total() != int64(total) {
			bar.SetTotal(int64(total))
		}
		bar.SetCurrent(int64(done))
	})
	bar.Finish()
	if err != nil {
		log.Fatalf("Extraction failed: %v", err)
	}

	if err := reference.WriteKeypointFile(*out, filepath.Base(*in), frames); err != nil {
		log.Fatalf("Failed to write %s: %v", *out, err)
	}

	detected := 0
	for i := range frames {
		if !frames[i].Empty() {
			detected++
		}
	}
	fmt.Printf("Wrote %d frames (%d with a detected body) to %s\n", len(frames), detected, *out)
}
