//go:build mage
// +build mage

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"
)

var (
	mingw_xcompiler = "x86_64-w64-mingw32-gcc"
	name            = "dapreporter"
)

func ensure_output() error {
	if err := os.Mkdir("output", 0700); err != nil && !os.IsExist(err) {
		return fmt.Errorf("failed to create output: %v", err)
	}
	return nil
}

func build(env map[string]string, output string, tags string) error {
	err := ensure_output()
	if err != nil {
		return err
	}

	return sh.RunWith(
		env,
		mg.GoCmd(), "build",
		"-o", filepath.Join("output", output),
		"-tags", tags,
		"-ldflags=-s -w "+flags(),
		"./bin/")
}

func Linux() error {
	// The sqlite datastore needs cgo.
	return build(map[string]string{
		"CGO_ENABLED": "1",
		"GOOS":        "linux",
		"GOARCH":      "amd64",
	}, name, "release")
}

// Builds a development binary for the host platform.
func Dev() error {
	return build(map[string]string{}, name, "devel")
}

// Cross compile the windows binary using mingw
func Windows() error {
	env := make(map[string]string)
	if mingwxcompiler_exists() {
		env["CC"] = mingw_xcompiler
		env["CGO_ENABLED"] = "1"
	} else {
		fmt.Printf("Windows cross compiler not found. The sqlite datastore will be unavailable.\n")
		env["CGO_ENABLED"] = "0"
	}

	env["GOOS"] = "windows"
	env["GOARCH"] = "amd64"

	return build(env, name+".exe", "release")
}

func Test() error {
	return sh.RunV(mg.GoCmd(), "test", "-race", "./...")
}

func Clean() error {
	return sh.Rm("output")
}

func flags() string {
	timestamp := time.Now().Format(time.RFC3339)
	return fmt.Sprintf(`-X "www.velocidex.com/golang/dapreporter/constants.BUILD_TIME=%s" -X "www.velocidex.com/golang/dapreporter/constants.COMMIT_HASH=%s"`, timestamp, hash())
}

// hash returns the git hash for the current repo or "" if none.
func hash() string {
	hash, _ := sh.Output("git", "rev-parse", "--short", "HEAD")
	return hash
}

func mingwxcompiler_exists() bool {
	err := sh.Run(mingw_xcompiler, "--version")
	return err == nil
}
