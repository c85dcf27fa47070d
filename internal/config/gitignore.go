package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// gitignoreContent keeps local state out of version control while the
// project config itself stays tracked.
const gitignoreContent = `# adtopia project-local data (auto-generated)
cache/
*.log
*.tmp
`

// GitignoreContent returns the .gitignore written into project .adtopia/ directories.
func GitignoreContent() string {
	return gitignoreContent
}

// EnsureGitignore writes dir/.gitignore unless one exists. It reports whether
// a file was created and never overwrites.
func EnsureGitignore(dir string) (bool, error) {
	gitignorePath := filepath.Join(dir, ".gitignore")

	_, err := os.Stat(gitignorePath)
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return false, fmt.Errorf("checking .gitignore at %s: %w", gitignorePath, err)
	}

	if err := os.MkdirAll(dir, 0o750); err != nil {
		return false, fmt.Errorf("creating directory %s: %w", dir, err)
	}

	//nolint:gosec // .gitignore must be world-readable (0644).
	if err := os.WriteFile(gitignorePath, []byte(gitignoreContent), 0o644); err != nil {
		return false, fmt.Errorf("writing .gitignore at %s: %w", gitignorePath, err)
	}
	return true, nil
}
