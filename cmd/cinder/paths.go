package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/term"

	"github.com/samcharles93/cinder/internal/api"
)

// stdinIsTTY is replaced in tests.
var stdinIsTTY = func() bool { return term.IsTerminal(int(os.Stdin.Fd())) }

// resolveInitOut picks where init-model writes: the --out flag, else
// <models dir>/<name>.cbm with ./models standing in for an unset dir. The
// bool reports whether the location was defaulted.
func resolveInitOut(name, out string) (string, bool, error) {
	defaulted := strings.TrimSpace(out) == ""
	path := filepath.Clean(strings.TrimSpace(out))
	if defaulted {
		name = strings.TrimSpace(name)
		if name == "" || strings.ContainsRune(name, filepath.Separator) {
			return "", true, fmt.Errorf("invalid model name: %q", name)
		}
		dir := api.ModelsDir("")
		if dir == "" {
			dir = "models"
		}
		path = filepath.Join(dir, name+".cbm")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", defaulted, err
	}
	return path, defaulted, nil
}

// resolveModelPath applies the CLI's model lookup on top of
// api.ResolveModel. An explicit --model is taken as a path unless a models
// directory can resolve it by name; with no --model, a directory holding
// several models prompts on a terminal.
func resolveModelPath(model, modelsPath string, stdin io.Reader, stderr io.Writer) (string, error) {
	dir := api.ModelsDir(modelsPath)
	model = strings.TrimSpace(model)
	if model != "" {
		if dir == "" {
			return filepath.Clean(model), nil
		}
		return api.ResolveModel(dir, model)
	}
	if dir == "" {
		return "", fmt.Errorf("--model or --models-path is required unless %s is set", api.EnvModelsDir)
	}

	path, err := api.ResolveModel(dir, "")
	if errors.Is(err, api.ErrAmbiguousModel) {
		if !stdinIsTTY() {
			return "", fmt.Errorf("multiple models found in %s but stdin is not interactive; set --model", dir)
		}
		models, err := api.DiscoverModels(dir)
		if err != nil {
			return "", err
		}
		return pickModel(models, stdin, stderr)
	}
	if err != nil {
		return "", err
	}
	_, _ = fmt.Fprintf(stderr, "cinder: using model %s\n", api.ModelName(path))
	return path, nil
}

// pickModel lists models by name and reads a 1-based choice per line until
// one is valid or stdin ends.
func pickModel(models []string, stdin io.Reader, stderr io.Writer) (string, error) {
	for i, m := range models {
		_, _ = fmt.Fprintf(stderr, "%3d) %s\n", i+1, filepath.Base(m))
	}
	sc := bufio.NewScanner(stdin)
	for {
		_, _ = fmt.Fprintf(stderr, "cinder: model [1-%d]: ", len(models))
		if !sc.Scan() {
			if err := sc.Err(); err != nil {
				return "", err
			}
			return "", errors.New("no model selected; set --model")
		}
		line := strings.TrimSpace(sc.Text())
		if n, err := strconv.Atoi(line); err == nil && n >= 1 && n <= len(models) {
			return models[n-1], nil
		}
		if line != "" {
			_, _ = fmt.Fprintf(stderr, "cinder: %q is not a listed model\n", line)
		}
	}
}
