// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"sync"

	"github.com/creack/pty"
)

// PTYBackend starts a shell per terminal on a local PTY.
type PTYBackend struct {
	shell string
}

// NewPTYBackend creates a backend running the given shell.
func NewPTYBackend(shell string) *PTYBackend {
	return &PTYBackend{shell: shell}
}

// Start launches the shell under a PTY and begins pumping output.
func (b *PTYBackend) Start(ctx context.Context, opts StartOptions) (Proc, error) {
	cmd := exec.Command(b.shell)
	cmd.Env = append(os.Environ(), "TERM=xterm-256color")
	if opts.Cwd != "" {
		cmd.Dir = opts.Cwd
	}

	cols, rows := opts.Cols, opts.Rows
	if cols <= 0 {
		cols = 80
	}
	if rows <= 0 {
		rows = 24
	}

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{
		Cols: uint16(cols),
		Rows: uint16(rows),
	})
	if err != nil {
		return nil, fmt.Errorf("start pty: %w", err)
	}

	proc := &ptyProc{
		id:   opts.TerminalID,
		cmd:  cmd,
		ptmx: ptmx,
	}

	// Read from PTY until EOF, then reap the process and report the exit
	// code. EOF is how a PTY signals that the child is gone.
	go func() {
		buf := make([]byte, 4096)
		for {
			n, err := ptmx.Read(buf)
			if n > 0 && opts.OnOutput != nil {
				data := make([]byte, n)
				copy(data, buf[:n])
				opts.OnOutput(data)
			}
			if err != nil {
				break
			}
		}

		exitCode := 0
		if err := cmd.Wait(); err != nil {
			if exitErr, ok := err.(*exec.ExitError); ok {
				exitCode = exitErr.ExitCode()
			} else {
				log.Printf("Terminal backend: wait failed for %s: %v", opts.TerminalID, err)
				exitCode = -1
			}
		}
		proc.markExited()
		if opts.OnExit != nil {
			opts.OnExit(exitCode)
		}
	}()

	return proc, nil
}

// ptyProc is a running shell on a local PTY.
type ptyProc struct {
	id   string
	cmd  *exec.Cmd
	ptmx *os.File

	mu     sync.Mutex
	closed bool
	exited bool
}

func (p *ptyProc) Write(data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || p.exited {
		return fmt.Errorf("terminal %s: process has ended", p.id)
	}
	if _, err := p.ptmx.Write(data); err != nil {
		return fmt.Errorf("pty write: %w", err)
	}
	return nil
}

func (p *ptyProc) Resize(cols, rows int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || p.exited {
		return nil
	}
	return pty.Setsize(p.ptmx, &pty.Winsize{
		Cols: uint16(cols),
		Rows: uint16(rows),
	})
}

func (p *ptyProc) Pid() int {
	if p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

func (p *ptyProc) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	exited := p.exited
	p.mu.Unlock()

	// Closing the PTY makes the read goroutine's Read return, which reaps
	// the process. Kill first so the child doesn't linger on a blocked
	// read of its own.
	if !exited && p.cmd.Process != nil {
		p.cmd.Process.Kill()
	}
	return p.ptmx.Close()
}

func (p *ptyProc) markExited() {
	p.mu.Lock()
	p.exited = true
	p.mu.Unlock()
}
