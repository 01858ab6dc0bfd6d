// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// arbor-ctl is a command-line tool for inspecting a running Arbor daemon.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/arborhq/arbor/pkg/client"
	"github.com/arborhq/arbor/pkg/protocol"
)

var (
	version    = "0.9"
	apiURL     = "http://localhost:4500"
	jsonOutput = false

	// API client instance
	apiClient *client.Client
)

func main() {
	// Check for ARBOR_API environment variable
	if env := os.Getenv("ARBOR_API"); env != "" {
		apiURL = strings.TrimSuffix(env, "/")
	}

	// Parse global flags and filter them out
	var filteredArgs []string
	for _, arg := range os.Args[1:] {
		if arg == "-json" {
			jsonOutput = true
		} else {
			filteredArgs = append(filteredArgs, arg)
		}
	}

	apiClient = client.New(apiURL)

	if len(filteredArgs) < 1 {
		printUsage()
		os.Exit(1)
	}

	cmd := filteredArgs[0]
	args := filteredArgs[1:]

	var err error
	switch cmd {
	case "status":
		err = cmdStatus(args)
	case "terminals":
		err = cmdTerminals(args)
	case "tabs":
		err = cmdTabs(args)
	case "worktrees":
		err = cmdDiscovery(apiClient.Worktrees.DiscoveryClient, args)
	case "scratch":
		err = cmdDiscovery(apiClient.Scratch.DiscoveryClient, args)
	case "cleanup":
		err = cmdCleanup(args)
	case "pin":
		err = cmdPin(args)
	case "tasks":
		err = cmdTasks(args)
	case "version", "-v", "--version":
		fmt.Printf("arbor-ctl %s\n", version)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`arbor-ctl - Inspect a running Arbor daemon

Usage:
  arbor-ctl [-json] <command> [arguments]

Global Flags:
  -json          Output in JSON format

Environment:
  ARBOR_API      Base URL of Arbor API (default: http://localhost:4500)

Commands:
  status                   Show daemon status
  terminals                List terminals in the current session
  tabs                     List tabs in the current session

  worktrees                List discovered worktrees
  worktrees rm <path>      Delete a worktree
    -task                  Also delete the linked task record
  scratch                  List discovered scratch directories
  scratch rm <path>        Delete a scratch directory
    -task                  Also delete the linked task record

  cleanup <family>         Delete all eligible resources (worktrees or scratch)
  pin <task-id> <on|off>   Protect or unprotect a task's resources
  tasks                    List task records

  version                  Show version
  help                     Show this help`)
}

func printJSON(v interface{}) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(v)
}

func cmdStatus(args []string) error {
	ctx := context.Background()

	info, err := apiClient.Status(ctx)
	if err != nil {
		return err
	}

	if jsonOutput {
		printJSON(info)
		return nil
	}

	fmt.Printf("Project:    %s\n", info.Project)
	fmt.Printf("Version:    %s\n", info.Version)
	fmt.Printf("Uptime:     %s\n", info.Uptime)
	fmt.Printf("Terminals:  %d (%d exited)\n", info.Terminals, info.Exited)
	fmt.Printf("Tabs:       %d\n", info.Tabs)
	fmt.Printf("Discovery:  %s\n", strings.Join(info.Families, ", "))
	return nil
}

// connectSession opens a one-shot control channel and waits for the
// initial full sync to land.
func connectSession(ctx context.Context) (*client.SyncStore, error) {
	store := apiClient.NewSyncStore()

	ready := make(chan struct{}, 1)
	unsub := store.Subscribe(func() {
		if store.State() == client.SyncInitialized {
			select {
			case ready <- struct{}{}:
			default:
			}
		}
	})
	defer unsub()

	if err := store.Connect(ctx); err != nil {
		return nil, err
	}

	select {
	case <-ready:
		return store, nil
	case <-time.After(10 * time.Second):
		store.Close()
		return nil, fmt.Errorf("timed out waiting for session sync")
	}
}

func cmdTerminals(args []string) error {
	store, err := connectSession(context.Background())
	if err != nil {
		return err
	}
	defer store.Close()

	var terminals []protocol.Terminal
	for _, tab := range store.TabsSorted() {
		terminals = append(terminals, store.TerminalsInTab(tab.ID)...)
	}
	terminals = append(terminals, store.UnassignedTerminals()...)

	if jsonOutput {
		printJSON(terminals)
		return nil
	}

	fmt.Printf("%-38s %-16s %-9s %-8s %s\n", "ID", "NAME", "SIZE", "EXIT", "TAB")
	fmt.Println(strings.Repeat("-", 80))
	for _, tm := range terminals {
		exit := "-"
		if tm.ExitCode != nil {
			exit = fmt.Sprintf("%d", *tm.ExitCode)
		}
		tab := "-"
		if tm.TabID != nil {
			if tb, ok := store.Tab(*tm.TabID); ok {
				tab = fmt.Sprintf("%s[%d]", tb.Name, tm.PositionInTab)
			} else {
				tab = *tm.TabID
			}
		}
		fmt.Printf("%-38s %-16s %-9s %-8s %s\n",
			tm.ID, tm.Name, fmt.Sprintf("%dx%d", tm.Cols, tm.Rows), exit, tab)
	}
	return nil
}

func cmdTabs(args []string) error {
	store, err := connectSession(context.Background())
	if err != nil {
		return err
	}
	defer store.Close()

	tabs := store.TabsSorted()

	if jsonOutput {
		printJSON(tabs)
		return nil
	}

	fmt.Printf("%-38s %-16s %-9s %-10s %s\n", "ID", "NAME", "POSITION", "TERMINALS", "DIRECTORY")
	fmt.Println(strings.Repeat("-", 90))
	for _, tab := range tabs {
		dir := "-"
		if tab.Directory != nil {
			dir = *tab.Directory
		}
		fmt.Printf("%-38s %-16s %-9d %-10d %s\n",
			tab.ID, tab.Name, tab.Position, len(store.TerminalsInTab(tab.ID)), dir)
	}
	return nil
}

func cmdDiscovery(dc *client.DiscoveryClient, args []string) error {
	ctx := context.Background()

	if len(args) > 0 && args[0] == "rm" {
		return cmdDiscoveryRm(ctx, dc, args[1:])
	}

	// Stream with automatic fallback; wait until the view settles.
	done := make(chan struct{}, 1)
	unsub := dc.Subscribe(func() {
		snap := dc.Snapshot()
		if !snap.IsLoading && !snap.IsLoadingDetails && (snap.Summary != nil || snap.Err != "") {
			select {
			case done <- struct{}{}:
			default:
			}
		}
	})
	defer unsub()
	defer dc.Close()

	dc.Refresh(ctx)
	select {
	case <-done:
	case <-time.After(30 * time.Second):
		return fmt.Errorf("timed out waiting for %s discovery", dc.Family())
	}

	snap := dc.Snapshot()
	if snap.Summary == nil && snap.Err != "" {
		return fmt.Errorf("%s", snap.Err)
	}

	if jsonOutput {
		printJSON(snap)
		return nil
	}

	fmt.Printf("%-8s %-7s %-9s %-14s %-20s %s\n", "FLAGS", "PINNED", "SIZE", "BRANCH", "TASK", "PATH")
	fmt.Println(strings.Repeat("-", 90))
	for _, r := range snap.Resources {
		flags := "-"
		if r.Orphaned {
			flags = "orphan"
		}
		pinned := "-"
		if r.Pinned {
			pinned = "yes"
		}
		size := r.Size
		if r.DetailError != "" {
			size = "error"
		}
		if size == "" {
			size = "-"
		}
		branch := r.Branch
		if branch == "" {
			branch = "-"
		}
		task := "-"
		if r.TaskID != "" {
			task = fmt.Sprintf("%s (%s)", r.TaskTitle, r.TaskStatus)
		}
		fmt.Printf("%-8s %-7s %-9s %-14s %-20s %s\n", flags, pinned, size, branch, task, r.Path)
	}
	if snap.Summary != nil {
		fmt.Printf("\n%d total, %d orphaned, %s\n",
			snap.Summary.Total, snap.Summary.Orphaned, snap.Summary.TotalSize)
	}
	return nil
}

func cmdDiscoveryRm(ctx context.Context, dc *client.DiscoveryClient, args []string) error {
	rmFlags := flag.NewFlagSet("rm", flag.ExitOnError)
	deleteTask := rmFlags.Bool("task", false, "Also delete the linked task record")
	rmFlags.Parse(args)

	if rmFlags.NArg() != 1 {
		return fmt.Errorf("usage: arbor-ctl %s rm [-task] <path>", dc.Family())
	}
	path := rmFlags.Arg(0)

	if err := dc.Delete(ctx, path, *deleteTask); err != nil {
		return err
	}
	fmt.Printf("Deleted %s\n", path)
	return nil
}

func cmdCleanup(args []string) error {
	ctx := context.Background()

	if len(args) != 1 {
		return fmt.Errorf("usage: arbor-ctl cleanup <worktrees|scratch>")
	}

	var dc *client.DiscoveryClient
	switch args[0] {
	case "worktrees":
		dc = apiClient.Worktrees.DiscoveryClient
	case "scratch":
		dc = apiClient.Scratch.DiscoveryClient
	default:
		return fmt.Errorf("unknown family %q (worktrees or scratch)", args[0])
	}

	result, err := dc.Cleanup(ctx)
	if err != nil {
		return err
	}

	if jsonOutput {
		printJSON(result)
		return nil
	}

	if result.Count == 0 {
		fmt.Println("Nothing eligible for cleanup")
		return nil
	}
	for _, path := range result.Deleted {
		fmt.Printf("Deleted %s\n", path)
	}
	fmt.Printf("%d deleted\n", result.Count)
	return nil
}

func cmdPin(args []string) error {
	ctx := context.Background()

	if len(args) != 2 {
		return fmt.Errorf("usage: arbor-ctl pin <task-id> <on|off>")
	}

	var pinned bool
	switch args[1] {
	case "on":
		pinned = true
	case "off":
		pinned = false
	default:
		return fmt.Errorf("pin state must be on or off, got %q", args[1])
	}

	if err := apiClient.Tasks.Pin(ctx, args[0], pinned); err != nil {
		return err
	}
	state := "unpinned"
	if pinned {
		state = "pinned"
	}
	fmt.Printf("Task %s %s\n", args[0], state)
	return nil
}

func cmdTasks(args []string) error {
	ctx := context.Background()

	tasks, err := apiClient.Tasks.List(ctx)
	if err != nil {
		return err
	}

	if jsonOutput {
		printJSON(tasks)
		return nil
	}

	fmt.Printf("%-14s %-24s %-12s %-7s %s\n", "ID", "TITLE", "STATUS", "PINNED", "RESOURCES")
	fmt.Println(strings.Repeat("-", 90))
	for _, task := range tasks {
		pinned := "-"
		if task.Pinned {
			pinned = "yes"
		}
		var resources []string
		if task.WorktreePath != "" {
			resources = append(resources, task.WorktreePath)
		}
		if task.ScratchPath != "" {
			resources = append(resources, task.ScratchPath)
		}
		res := strings.Join(resources, ", ")
		if res == "" {
			res = "-"
		}
		title := task.Title
		if len(title) > 22 {
			title = title[:22] + ".."
		}
		fmt.Printf("%-14s %-24s %-12s %-7s %s\n", task.ID, title, task.Status, pinned, res)
	}
	return nil
}
