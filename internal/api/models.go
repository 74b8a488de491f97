package api

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// EnvModelsDir is consulted when no models directory is configured.
const EnvModelsDir = "CINDER_MODELS_DIR"

var modelExtensions = []string{".cbm", ".gguf"}

// ErrAmbiguousModel is returned by ResolveModel when no model is named and
// the directory holds more than one.
var ErrAmbiguousModel = errors.New("multiple models found")

// ModelsDir returns path, or $CINDER_MODELS_DIR when path is blank.
func ModelsDir(path string) string {
	if dir := strings.TrimSpace(path); dir != "" {
		return dir
	}
	return strings.TrimSpace(os.Getenv(EnvModelsDir))
}

// DiscoverModels lists the model files directly inside dir, sorted.
func DiscoverModels(dir string) ([]string, error) {
	if dir == "" {
		return nil, errors.New("models directory is empty")
	}
	st, err := os.Stat(dir)
	if err != nil {
		return nil, err
	}
	if !st.IsDir() {
		return nil, fmt.Errorf("models path is not a directory: %s", dir)
	}
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var models []string
	for _, e := range ents {
		if !e.IsDir() && hasModelExt(e.Name()) {
			models = append(models, filepath.Join(dir, e.Name()))
		}
	}
	slices.Sort(models)
	return models, nil
}

// ResolveModel turns a model reference into a file path. A reference that
// looks like a path is returned cleaned; a bare name is looked up in dir
// with and without the known extensions. An empty reference selects the
// only model in dir.
func ResolveModel(dir, model string) (string, error) {
	model = strings.TrimSpace(model)
	switch {
	case model != "" && looksLikePath(model):
		return filepath.Clean(model), nil
	case model != "" && dir == "":
		return "", fmt.Errorf("models-path is required to resolve model %q", model)
	case model != "":
		if p := findInDir(dir, model); p != "" {
			return p, nil
		}
		return "", fmt.Errorf("model %q not found in %s", model, dir)
	case dir == "":
		return "", errors.New("model is required")
	}

	models, err := DiscoverModels(dir)
	if err != nil {
		return "", err
	}
	switch len(models) {
	case 0:
		return "", fmt.Errorf("no models found in %s", dir)
	case 1:
		return models[0], nil
	default:
		return "", fmt.Errorf("%w in %s; specify model", ErrAmbiguousModel, dir)
	}
}

// ModelName is the file name of path without its extension.
func ModelName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func hasModelExt(name string) bool {
	return slices.Contains(modelExtensions, strings.ToLower(filepath.Ext(name)))
}

func looksLikePath(v string) bool {
	return strings.ContainsRune(v, filepath.Separator) || hasModelExt(v)
}

func findInDir(dir, name string) string {
	for _, cand := range append([]string{name}, extended(name)...) {
		p := filepath.Join(dir, cand)
		if st, err := os.Stat(p); err == nil && st.Mode().IsRegular() {
			return p
		}
	}
	return ""
}

func extended(name string) []string {
	out := make([]string, len(modelExtensions))
	for i, ext := range modelExtensions {
		out[i] = name + ext
	}
	return out
}
