package models

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Model file names.
const (
	// BalloonDetector is the default two-class (speech balloon, panel) detector.
	BalloonDetector = "balloon_detector.onnx"
	// BalloonDetectorLite is the reduced-size grid variant used on small devices.
	BalloonDetectorLite = "balloon_detector_lite.onnx"
)

// Model type categories for organized directory structure.
const (
	TypeDetection = "detection"
)

// Model variant categories.
const (
	VariantFull = "full"
	VariantLite = "lite"
)

// Default models directory.
const DefaultModelsDir = "models"

// Environment variable for models directory override.
const EnvModelsDir = "BUBBLENAV_MODELS_DIR"

// findProjectRoot walks up from the working directory looking for go.mod.
func findProjectRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", errors.New("could not find project root (go.mod not found)")
}

// ModelInfo contains metadata about a model.
type ModelInfo struct {
	Name        string
	Type        string
	Variant     string
	Description string
	Filename    string
}

// GetModelsDir returns the models directory path.
// Priority: 1. Explicit modelsDir parameter, 2. Environment variable, 3. Project root + default.
func GetModelsDir(modelsDir string) string {
	if modelsDir != "" {
		return modelsDir
	}
	if envDir := os.Getenv(EnvModelsDir); envDir != "" {
		return envDir
	}
	if projectRoot, err := findProjectRoot(); err == nil {
		return filepath.Join(projectRoot, DefaultModelsDir)
	}
	return DefaultModelsDir
}

// ResolveModelPath resolves a model filename to its full path, preferring
// <dir>/<type>/<variant>/<file> and falling back to <dir>/<file>.
func ResolveModelPath(modelsDir, modelType, variant, filename string) string {
	baseDir := GetModelsDir(modelsDir)
	if modelType != "" {
		organizedPath := filepath.Join(baseDir, modelType, filename)
		if variant != "" {
			organizedPath = filepath.Join(baseDir, modelType, variant, filename)
		}
		if _, err := os.Stat(organizedPath); err == nil {
			return organizedPath
		}
	}
	return filepath.Join(baseDir, filename)
}

// GetDetectorModelPath returns the path for the balloon detector.
func GetDetectorModelPath(modelsDir string, lite bool) string {
	if lite {
		return ResolveModelPath(modelsDir, TypeDetection, VariantLite, BalloonDetectorLite)
	}
	return ResolveModelPath(modelsDir, TypeDetection, VariantFull, BalloonDetector)
}

// ValidateModelExists checks if a model file exists at the given path.
func ValidateModelExists(modelPath string) error {
	if _, err := os.Stat(modelPath); os.IsNotExist(err) {
		return fmt.Errorf("model file not found: %s", modelPath)
	}
	return nil
}

// ListAvailableModels returns information about the known models.
func ListAvailableModels() []ModelInfo {
	return []ModelInfo{
		{
			Name:        "balloon-detector",
			Type:        TypeDetection,
			Variant:     VariantFull,
			Description: "Speech balloon and panel detector",
			Filename:    BalloonDetector,
		},
		{
			Name:        "balloon-detector-lite",
			Type:        TypeDetection,
			Variant:     VariantLite,
			Description: "Reduced grid balloon detector",
			Filename:    BalloonDetectorLite,
		},
	}
}
