package sandbox

import (
	"archive/tar"
	"bytes"
	"fmt"
	"path"
	"sort"
	"strings"
)

// buildTarArchive packs staged files into an uncompressed tar stream rooted
// at prefix, the wire format the container runtime's copy API expects.
// Paths are validated the same way working directories are: no absolute
// paths, no traversal out of the prefix.
func buildTarArchive(prefix string, files map[string]string) (*bytes.Buffer, error) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)

	seenDirs := map[string]bool{}
	writeDir := func(dir string) error {
		for _, parent := range parentDirs(dir) {
			if seenDirs[parent] {
				continue
			}
			seenDirs[parent] = true
			if err := tw.WriteHeader(&tar.Header{
				Typeflag: tar.TypeDir,
				Name:     parent + "/",
				Mode:     0o755,
			}); err != nil {
				return err
			}
		}
		return nil
	}

	// Deterministic order keeps archives reproducible for identical input.
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		clean, err := validateArchivePath(name)
		if err != nil {
			return nil, err
		}

		full := path.Join(prefix, clean)
		if err := writeDir(path.Dir(full)); err != nil {
			return nil, fmt.Errorf("%w: failed to write archive: %v", ErrBackendUnavailable, err)
		}

		content := files[name]
		header := &tar.Header{
			Typeflag: tar.TypeReg,
			Name:     full,
			Mode:     0o600,
			Size:     int64(len(content)),
		}
		if err := tw.WriteHeader(header); err != nil {
			return nil, fmt.Errorf("%w: failed to write archive: %v", ErrBackendUnavailable, err)
		}
		if _, err := tw.Write([]byte(content)); err != nil {
			return nil, fmt.Errorf("%w: failed to write archive: %v", ErrBackendUnavailable, err)
		}
	}

	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("%w: failed to finalize archive: %v", ErrBackendUnavailable, err)
	}
	return &buf, nil
}

// validateArchivePath rejects absolute and traversing staged-file paths.
func validateArchivePath(name string) (string, error) {
	if path.IsAbs(name) {
		return "", fmt.Errorf("%w: staged file path %q must be relative", ErrSandboxViolation, name)
	}
	clean := path.Clean(name)
	if clean == ".." || strings.HasPrefix(clean, "../") || clean == "." || clean == "" {
		return "", fmt.Errorf("%w: staged file path %q escapes the working directory", ErrSandboxViolation, name)
	}
	return clean, nil
}

// parentDirs lists dir and its ancestors, outermost first.
func parentDirs(dir string) []string {
	if dir == "." || dir == "/" || dir == "" {
		return nil
	}
	parents := parentDirs(path.Dir(dir))
	return append(parents, dir)
}
