package model

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"buildsync/internal/syncerr"
)

// Fetcher obtains the project model from the external build tool. Fetch may
// block for a long time and must return promptly once ctx is cancelled.
type Fetcher interface {
	Fetch(ctx context.Context, root string) (*Project, error)
}

// FetcherFunc adapts a plain function to Fetcher.
type FetcherFunc func(ctx context.Context, root string) (*Project, error)

func (f FetcherFunc) Fetch(ctx context.Context, root string) (*Project, error) { return f(ctx, root) }

// FileFetcher reads a model previously exported by the build tool.
// A relative Path is resolved against the project root.
type FileFetcher struct {
	Fs   afero.Fs
	Path string
}

func (f FileFetcher) Fetch(ctx context.Context, root string) (*Project, error) {
	if err := ctx.Err(); err != nil {
		return nil, syncerr.New(syncerr.KindCancelled, "fetch cancelled", err)
	}
	fs := f.Fs
	if fs == nil {
		fs = afero.NewOsFs()
	}
	path := f.Path
	if !filepath.IsAbs(path) {
		path = filepath.Join(root, path)
	}
	b, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, syncerr.New(syncerr.KindFetch, "read model file "+path, err)
	}
	return Decode(b, root)
}

// CommandFetcher runs the build tool and reads the JSON model it prints on
// stdout. The process is killed when ctx is cancelled.
type CommandFetcher struct {
	Command string
	Args    []string
}

func (c CommandFetcher) Fetch(ctx context.Context, root string) (*Project, error) {
	if strings.TrimSpace(c.Command) == "" {
		return nil, syncerr.New(syncerr.KindFetch, "no build tool command configured", nil)
	}
	cmd := exec.CommandContext(ctx, c.Command, c.Args...)
	cmd.Dir = root

	var outBuf bytes.Buffer
	var errBuf bytes.Buffer
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, syncerr.New(syncerr.KindCancelled, "build tool cancelled", ctxErr)
		}
		msg := strings.TrimSpace(errBuf.String())
		var ee *exec.ExitError
		if errors.As(err, &ee) && ee.ProcessState != nil {
			return nil, syncerr.New(syncerr.KindFetch, fmt.Sprintf("build tool exited %d: %s", ee.ProcessState.ExitCode(), msg), err)
		}
		return nil, syncerr.New(syncerr.KindFetch, "run build tool "+c.Command, err)
	}
	return Decode(outBuf.Bytes(), root)
}

// Decode parses a JSON model, checks its version and normalizes paths and
// identities against root.
func Decode(b []byte, root string) (*Project, error) {
	var p Project
	if err := json.Unmarshal(b, &p); err != nil {
		return nil, syncerr.New(syncerr.KindFetch, "decode model", err)
	}
	if err := CheckVersion(p.ModelVersion); err != nil {
		return nil, err
	}
	p.Normalize(root)
	return &p, nil
}

// Normalize fills defaults the tool may omit: project root, module
// identities (":"+name) and absolute module roots.
func (p *Project) Normalize(root string) {
	if p.Root == "" {
		p.Root = root
	}
	p.Root = filepath.Clean(p.Root)
	if p.Name == "" {
		p.Name = filepath.Base(p.Root)
	}
	for i := range p.Modules {
		m := &p.Modules[i]
		if m.Identity == "" && m.Name != "" {
			m.Identity = ":" + m.Name
		}
		if m.Kind == "" {
			m.Kind = KindJava
			if len(m.Variants) > 0 {
				m.Kind = KindApp
			}
		}
		switch {
		case m.Root == "":
			m.Root = p.Root
		case !filepath.IsAbs(m.Root):
			m.Root = filepath.Join(p.Root, m.Root)
		}
	}
}

// BuildFiles returns every build file declared by the modules, resolved
// against the module roots.
func (p *Project) BuildFiles() []string {
	var out []string
	for _, m := range p.Modules {
		for _, f := range m.BuildFiles {
			if !filepath.IsAbs(f) {
				f = filepath.Join(m.Root, f)
			}
			out = append(out, filepath.Clean(f))
		}
	}
	return out
}
