package console

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/afero"

	"github.com/CloudNativeWorks/cnw-machine-license/mlicense"
)

// Host provides the dialogs the Backend delegates to. Both methods return
// mlicense.ErrCancelled when the operator backs out.
type Host interface {
	PickPrivateKey(ctx context.Context) (string, error)
	SaveArtifact(ctx context.Context, defaultName string, content []byte) (string, error)
}

// StaticHost answers dialogs from preset values, for non-interactive use.
type StaticHost struct {
	Fs afero.Fs

	// KeyPath is returned by PickPrivateKey. Empty means cancelled.
	KeyPath string

	// OutputFile, when set, is the exact path every artifact is written to.
	OutputFile string

	// OutputDir receives artifacts under their default name when OutputFile
	// is empty. It is created on first save. Empty means the working
	// directory.
	OutputDir string

	// Overwrite allows replacing an existing file.
	Overwrite bool
}

// PickPrivateKey returns the preset KeyPath.
func (h *StaticHost) PickPrivateKey(_ context.Context) (string, error) {
	if h.KeyPath == "" {
		return "", mlicense.ErrCancelled
	}
	return h.KeyPath, nil
}

// SaveArtifact writes content to OutputFile, or to defaultName inside
// OutputDir.
func (h *StaticHost) SaveArtifact(_ context.Context, defaultName string, content []byte) (string, error) {
	path := h.OutputFile
	if path == "" {
		path = filepath.Join(h.OutputDir, safeName(defaultName))
	}
	if err := writeArtifact(hostFs(h.Fs), path, content, h.Overwrite); err != nil {
		return "", err
	}
	return path, nil
}

// TerminalHost runs the dialogs as terminal forms.
type TerminalHost struct {
	Fs afero.Fs

	// KeyDir is where the key picker starts.
	KeyDir string

	// OutputDir is the directory offered for saved artifacts.
	OutputDir string

	// Accessible switches the forms to plain prompts for screen readers
	// and dumb terminals.
	Accessible bool

	Input  io.Reader
	Output io.Writer
}

// PickPrivateKey shows a file picker rooted at KeyDir.
func (h *TerminalHost) PickPrivateKey(ctx context.Context) (string, error) {
	dir := h.KeyDir
	if dir == "" {
		dir = "."
	}
	var path string
	picker := huh.NewFilePicker().
		Title("Private key").
		Description("Select the RSA private key used to sign licenses").
		CurrentDirectory(dir).
		AllowedTypes([]string{".der", ".pem", ".key"}).
		FileAllowed(true).
		DirAllowed(false).
		Picking(true).
		Value(&path)

	if err := h.Run(ctx, huh.NewGroup(picker)); err != nil {
		return "", err
	}
	if path == "" {
		return "", mlicense.ErrCancelled
	}
	return path, nil
}

// SaveArtifact asks for a file name under OutputDir and confirms before
// replacing an existing file.
func (h *TerminalHost) SaveArtifact(ctx context.Context, defaultName string, content []byte) (string, error) {
	fs := hostFs(h.Fs)
	path := filepath.Join(h.OutputDir, safeName(defaultName))

	input := huh.NewInput().
		Title("Save license as").
		Value(&path).
		Validate(func(s string) error {
			if strings.TrimSpace(s) == "" {
				return errors.New("a file name is required")
			}
			return nil
		})
	if err := h.Run(ctx, huh.NewGroup(input)); err != nil {
		return "", err
	}
	path = strings.TrimSpace(path)

	overwrite := false
	if exists, _ := afero.Exists(fs, path); exists {
		confirm := huh.NewConfirm().
			Title(fmt.Sprintf("%s already exists. Replace it?", path)).
			Affirmative("Replace").
			Negative("Cancel").
			Value(&overwrite)
		if err := h.Run(ctx, huh.NewGroup(confirm)); err != nil {
			return "", err
		}
		if !overwrite {
			return "", mlicense.ErrCancelled
		}
	}

	if err := writeArtifact(fs, path, content, overwrite); err != nil {
		return "", err
	}
	return path, nil
}

// Run shows a form built from groups on the host's terminal. An aborted
// form returns mlicense.ErrCancelled.
func (h *TerminalHost) Run(ctx context.Context, groups ...*huh.Group) error {
	form := huh.NewForm(groups...).WithAccessible(h.Accessible)
	if h.Input != nil {
		form = form.WithInput(h.Input)
	}
	if h.Output != nil {
		form = form.WithOutput(h.Output)
	}
	err := form.RunWithContext(ctx)
	switch {
	case errors.Is(err, huh.ErrUserAborted):
		return mlicense.ErrCancelled
	case err != nil:
		return fmt.Errorf("dialog failed: %w", err)
	}
	return nil
}

func hostFs(fs afero.Fs) afero.Fs {
	if fs == nil {
		return afero.NewOsFs()
	}
	return fs
}

// safeName strips any directory part from a requested file name.
func safeName(name string) string {
	base := filepath.Base(strings.TrimSpace(name))
	if base == "." || base == ".." || base == string(filepath.Separator) {
		return "license.json"
	}
	return base
}

func writeArtifact(fs afero.Fs, path string, content []byte, overwrite bool) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := fs.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create output directory: %w", err)
		}
	}
	flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	if !overwrite {
		flags |= os.O_EXCL
	}
	f, err := fs.OpenFile(path, flags, 0o644)
	if errors.Is(err, os.ErrExist) {
		return fmt.Errorf("%s already exists", path)
	}
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	if _, err := f.Write(content); err != nil {
		_ = f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}
