package handlers

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
)

// BinaryChecker verifies the fetch engine executable resolves, either on
// PATH or as a path to an executable file.
type BinaryChecker struct {
	Binary string
}

func (c BinaryChecker) CheckHealth(context.Context) error {
	if _, err := exec.LookPath(c.Binary); err != nil {
		return fmt.Errorf("%s not found: %w", c.Binary, err)
	}
	return nil
}

// DirChecker verifies the current download directory is writable. Dir is
// read on every check so settings updates are picked up.
type DirChecker struct {
	Dir func() string
}

func (c DirChecker) CheckHealth(context.Context) error {
	dir := c.Dir()
	if dir == "" {
		return errors.New("download directory not configured")
	}
	f, err := os.CreateTemp(dir, ".tunegrab-health-*")
	if err != nil {
		return fmt.Errorf("download directory %s not writable: %w", dir, err)
	}
	name := f.Name()
	_ = f.Close()
	return os.Remove(name)
}

// BucketChecker is the part of the mirror client health checks need.
type BucketChecker interface {
	Check(ctx context.Context) error
}

// MirrorChecker verifies the mirror bucket is reachable.
type MirrorChecker struct {
	Mirror BucketChecker
}

func (c MirrorChecker) CheckHealth(ctx context.Context) error {
	return c.Mirror.Check(ctx)
}
