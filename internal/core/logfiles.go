package core

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
)

// CollectLogFiles expands parsed paths into the list of log files to submit.
// Directories are walked recursively; hidden files and directories are
// skipped. Order follows the arguments, then lexical order within a
// directory.
func CollectLogFiles(paths []ParsedPath) ([]string, error) {
	var files []string
	seen := make(map[string]bool)

	add := func(p string) {
		if !seen[p] {
			seen[p] = true
			files = append(files, p)
		}
	}

	for _, parsed := range paths {
		if parsed.Kind == PathFile {
			add(parsed.FullPath)
			continue
		}

		err := filepath.WalkDir(parsed.FullPath, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			hidden := p != parsed.FullPath && strings.HasPrefix(d.Name(), ".")
			if d.IsDir() {
				if hidden {
					return filepath.SkipDir
				}
				return nil
			}
			if hidden || !d.Type().IsRegular() {
				return nil
			}
			add(p)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to walk %s: %w", parsed.FullPath, err)
		}
	}

	if len(files) == 0 {
		return nil, &ValidationError{Arg: "<logfiles>", Cause: "no log files found"}
	}
	return files, nil
}
