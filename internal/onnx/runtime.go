package onnx

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"

	"github.com/yalue/onnxruntime_go"
)

const (
	libLinux   = "libonnxruntime.so"
	libDarwin  = "libonnxruntime.dylib"
	libWindows = "onnxruntime.dll"

	// EnvLibraryPath overrides the shared library location.
	EnvLibraryPath = "BUBBLENAV_ONNXRUNTIME_LIB"
)

// GPUConfig holds configuration for CUDA acceleration.
type GPUConfig struct {
	UseGPU              bool   // Enable GPU acceleration
	DeviceID            int    // CUDA device ID
	GPUMemLimit         uint64 // GPU memory limit in bytes (0 = unlimited)
	CUDNNConvAlgoSearch string // "EXHAUSTIVE", "HEURISTIC", or "DEFAULT"
}

// DefaultGPUConfig returns CPU-only defaults.
func DefaultGPUConfig() GPUConfig {
	return GPUConfig{CUDNNConvAlgoSearch: "DEFAULT"}
}

// ValidateGPUConfig checks if the GPU configuration is valid.
func ValidateGPUConfig(config GPUConfig) error {
	if !config.UseGPU {
		return nil
	}
	if config.DeviceID < 0 {
		return fmt.Errorf("device ID must be non-negative, got %d", config.DeviceID)
	}
	switch config.CUDNNConvAlgoSearch {
	case "", "EXHAUSTIVE", "HEURISTIC", "DEFAULT":
		return nil
	}
	return fmt.Errorf("invalid CUDNN conv algo search: %s", config.CUDNNConvAlgoSearch)
}

// ConfigureSessionForGPU appends the CUDA execution provider when requested.
func ConfigureSessionForGPU(opts *onnxruntime_go.SessionOptions, cfg GPUConfig) error {
	if !cfg.UseGPU {
		return nil
	}
	cudaOpts, err := onnxruntime_go.NewCUDAProviderOptions()
	if err != nil {
		return fmt.Errorf("failed to create CUDA provider options (GPU may not be available): %w", err)
	}
	defer func() { _ = cudaOpts.Destroy() }()

	settings := map[string]string{"device_id": strconv.Itoa(cfg.DeviceID)}
	if cfg.GPUMemLimit > 0 {
		settings["gpu_mem_limit"] = strconv.FormatUint(cfg.GPUMemLimit, 10)
	}
	if cfg.CUDNNConvAlgoSearch != "" {
		settings["cudnn_conv_algo_search"] = cfg.CUDNNConvAlgoSearch
	}
	if err := cudaOpts.Update(settings); err != nil {
		return fmt.Errorf("failed to update CUDA provider options: %w", err)
	}
	if err := opts.AppendExecutionProviderCUDA(cudaOpts); err != nil {
		return fmt.Errorf("failed to append CUDA execution provider: %w", err)
	}
	return nil
}

// libraryName returns the shared library filename for the current OS.
func libraryName() (string, error) {
	switch runtime.GOOS {
	case "linux":
		return libLinux, nil
	case "darwin":
		return libDarwin, nil
	case "windows":
		return libWindows, nil
	default:
		return "", fmt.Errorf("unsupported operating system: %s", runtime.GOOS)
	}
}

// candidateLibraryPaths lists the places searched for the runtime library, in order.
func candidateLibraryPaths(useGPU bool) []string {
	var paths []string
	if env := os.Getenv(EnvLibraryPath); env != "" {
		paths = append(paths, env)
	}
	if useGPU {
		paths = append(paths, "/opt/onnxruntime/gpu/lib/"+libLinux)
	}
	paths = append(paths,
		"/usr/local/lib/"+libLinux,
		"/usr/lib/"+libLinux,
		"/opt/onnxruntime/cpu/lib/"+libLinux,
	)
	if name, err := libraryName(); err == nil {
		if cwd, err := os.Getwd(); err == nil {
			if useGPU {
				paths = append(paths, filepath.Join(cwd, "onnxruntime", "gpu", "lib", name))
			}
			paths = append(paths, filepath.Join(cwd, "onnxruntime", "lib", name))
		}
	}
	return paths
}

// InitializeRuntime locates the shared library and initializes the ONNX Runtime
// environment once per process.
func InitializeRuntime(useGPU bool) error {
	if onnxruntime_go.IsInitialized() {
		return nil
	}
	found := false
	for _, p := range candidateLibraryPaths(useGPU) {
		if _, err := os.Stat(p); err == nil {
			onnxruntime_go.SetSharedLibraryPath(p)
			found = true
			break
		}
	}
	if !found {
		return errors.New("ONNX Runtime shared library not found")
	}
	if err := onnxruntime_go.InitializeEnvironment(); err != nil {
		return fmt.Errorf("failed to initialize ONNX Runtime: %w", err)
	}
	return nil
}
