// Copyright © 2024-2025 Trailmark Labs.
// Use is governed by a BSD-style license found in the LICENSE file.

// reconsolve loads a project document, runs the full initialization
// and bundle-adjustment pipeline, reports the outcome, and optionally
// writes the optimized project back out.
//
//	reconsolve -project scene.json -out scene.solved.json
//	reconsolve -project scene.json -preset accurate -verbose
package main

import (
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/trailmark/recon3d"
	"github.com/trailmark/recon3d/serialize"
)

func main() {
	var (
		projectPath = flag.String("project", "", "path to the project document (required)")
		outPath     = flag.String("out", "", "write the optimized project here (optional)")
		preset      = flag.String("preset", "", "solver preset: fast, accurate, vp-only")
		backend     = flag.String("backend", "", "solver backend: autodiff, explicitDense, explicitSparse")
		maxIter     = flag.Int("max-iterations", 0, "override the iteration cap")
		solveOnly   = flag.Bool("solve-only", false, "skip initialization; refine the stored state")
		verbose     = flag.Bool("verbose", false, "log per-iteration solver progress")
	)
	flag.Parse()

	if *projectPath == "" {
		flag.Usage()
		os.Exit(2)
	}

	data, err := os.ReadFile(*projectPath)
	if err != nil {
		fail("read project: %v", err)
	}
	proj, err := serialize.Load(data)
	if err != nil {
		fail("load project: %v", err)
	}

	opts := recon3d.DefaultOptions()
	if *preset != "" {
		p, ok := recon3d.Preset(*preset)
		if !ok {
			fail("unknown preset %q", *preset)
		}
		opts = p
	}
	if *backend != "" {
		opts.Backend = recon3d.Backend(*backend)
	}
	if *maxIter > 0 {
		opts.MaxIterations = *maxIter
	}
	if *verbose {
		logger, err := zap.NewDevelopment()
		if err != nil {
			fail("logger: %v", err)
		}
		defer logger.Sync()
		opts.Logger = logger
		opts.Verbose = true
	}

	var res *recon3d.Result
	if *solveOnly {
		res, err = recon3d.Solve(proj, opts)
	} else {
		res, err = recon3d.OptimizeProject(proj, opts)
	}
	if err != nil {
		fail("solve: %v", err)
	}

	fmt.Printf("converged:  %v (%s)\n", res.Converged, res.Stop)
	fmt.Printf("iterations: %d\n", res.Iterations)
	fmt.Printf("residual:   %.6g\n", res.Residual)
	if res.MedianReprojectionError != nil {
		fmt.Printf("median reprojection error: %.4f px\n", *res.MedianReprojectionError)
	}
	if res.Init != nil {
		fmt.Printf("initialization: %s", res.Init.Method)
		if res.Init.Alignment.Applied {
			fmt.Printf(", aligned (sign %+d)", res.Init.Alignment.SignUsed)
			if res.Init.Alignment.Ambiguous {
				fmt.Print(", AMBIGUOUS - consider re-running with the axis line flipped")
			}
		}
		fmt.Println()
	}
	for _, w := range proj.Warnings() {
		fmt.Fprintf(os.Stderr, "warning: %v\n", w)
	}

	if *outPath != "" {
		out, err := serialize.Save(proj)
		if err != nil {
			fail("save project: %v", err)
		}
		if err := os.WriteFile(*outPath, out, 0o644); err != nil {
			fail("write %s: %v", *outPath, err)
		}
	}
	if !res.Converged {
		os.Exit(1)
	}
}

func fail(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "reconsolve: "+format+"\n", args...)
	os.Exit(1)
}
