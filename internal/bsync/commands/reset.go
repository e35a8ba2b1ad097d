package commands

import (
	"fmt"
	"io"

	"github.com/gingerrexayers/bsync-go/internal/bsync/lib"
)

// ResetOptions holds the configuration for the reset command.
type ResetOptions struct {
	ConfigPath string
	// RootLabel limits the reset to one root. Empty resets everything.
	RootLabel string
	Out       io.Writer
}

// Reset is the main function for the 'reset' command. It forgets synced
// entries so the next cycle sends them again. It refuses to run while an agent
// holds the state file.
func Reset(opts ResetOptions) error {
	out := outputOrStdout(opts.Out)

	provider, err := loadProvider(opts.ConfigPath)
	if err != nil {
		return err
	}
	path := statePath(provider)

	// 1. Make sure no agent is using the state.
	lock, err := lib.AcquireStateLock(path)
	if err != nil {
		return err
	}
	defer lock.Release()

	// 2. Drop the requested entries.
	snapshot, err := lib.LoadSnapshot(path)
	if err != nil {
		fmt.Fprintf(out, "Warning: %v\n", err)
	}
	var removed int
	if opts.RootLabel == "" {
		removed = snapshot.Len()
		snapshot.Clear()
	} else {
		removed = snapshot.RemoveRoot(opts.RootLabel)
		if removed == 0 {
			return fmt.Errorf("no synced entries for root '%s'", opts.RootLabel)
		}
	}

	// 3. Persist.
	if err := snapshot.Save(path); err != nil {
		return fmt.Errorf("failed to save state: %w", err)
	}

	if opts.RootLabel == "" {
		fmt.Fprintf(out, "Reset complete: %d entries forgotten, everything will be resent.\n", removed)
	} else {
		fmt.Fprintf(out, "Reset complete: %d entries of root '%s' forgotten.\n", removed, opts.RootLabel)
	}
	return nil
}
