package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
)

func main() {
	profilePath := flag.String("profile", "configs/deploy-profile.yaml", "Path to deployment profile")
	outputDir := flag.String("output-dir", "", "Override output directory")
	flag.Parse()

	profilePathAbs, err := filepath.Abs(*profilePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "resolve profile path failed: %v\n", err)
		os.Exit(1)
	}

	profile, err := loadProfile(profilePathAbs)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load profile failed: %v\n", err)
		os.Exit(1)
	}
	if *outputDir != "" {
		profile.OutputDir = *outputDir
	}
	if profile.OutputDir == "" {
		fmt.Fprintln(os.Stderr, "output directory is required")
		os.Exit(1)
	}
	profile.resolvePaths(filepath.Dir(profilePathAbs))

	written, err := generate(profile)
	for _, path := range written {
		fmt.Println(path)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "generate configs failed: %v\n", err)
		os.Exit(1)
	}
}
