package commands

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/gingerrexayers/bsync-go/internal/bsync/lib"
)

// RestoreOptions holds the configuration for the restore command.
type RestoreOptions struct {
	ConfigPath string
	ClientID   string
	RootLabel  string
	OutputDir  string
	Out        io.Writer
}

// fileRestoreJob holds the information needed for a worker to restore one file.
type fileRestoreJob struct {
	SourcePath      string
	DestinationPath string
	ModTime         time.Time
	Size            int64
}

// restoreFileWorker is the logic executed by each goroutine in the pool.
// It reads jobs from a channel, copies the file and restores its modification
// time.
func restoreFileWorker(wg *sync.WaitGroup, jobs <-chan fileRestoreJob, errs chan<- error, restored *restoreCounter) {
	defer wg.Done()
	for job := range jobs {
		// 1. Copy the mirrored content.
		if err := lib.CopyFile(job.SourcePath, job.DestinationPath, 0644); err != nil {
			errs <- fmt.Errorf("failed to restore %s: %w", job.DestinationPath, err)
			continue
		}

		// 2. Carry over the modification time recorded by the collector.
		if err := os.Chtimes(job.DestinationPath, job.ModTime, job.ModTime); err != nil {
			errs <- fmt.Errorf("failed to set times on %s: %w", job.DestinationPath, err)
			continue
		}
		restored.add(job.Size)
	}
}

type restoreCounter struct {
	mu    sync.Mutex
	files int
	bytes int64
}

func (c *restoreCounter) add(size int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.files++
	c.bytes += size
}

// Restore is the main function for the 'restore' command. It copies one
// client's mirrored root out of the collector's backup tree.
func Restore(opts RestoreOptions) error {
	out := outputOrStdout(opts.Out)

	if !lib.ValidPathComponent(opts.ClientID) {
		return fmt.Errorf("invalid client id '%s'", opts.ClientID)
	}
	if !lib.ValidPathComponent(opts.RootLabel) {
		return fmt.Errorf("invalid root label '%s'", opts.RootLabel)
	}

	provider, err := loadProvider(opts.ConfigPath)
	if err != nil {
		return err
	}
	backupRoot := provider.Get("server", "backup_folder_path")
	if backupRoot == "" {
		return fmt.Errorf("%w: server.backup_folder_path", lib.ErrMissingConfig)
	}

	sourceDir := filepath.Join(backupRoot, opts.ClientID, opts.RootLabel)
	if info, err := os.Stat(sourceDir); err != nil || !info.IsDir() {
		return fmt.Errorf("no mirror found for client '%s', root '%s' (%s)", opts.ClientID, opts.RootLabel, sourceDir)
	}
	absOutputDir, err := filepath.Abs(opts.OutputDir)
	if err != nil {
		return fmt.Errorf("could not resolve output path: %w", err)
	}

	// 1. Never restore over existing data.
	if entries, err := os.ReadDir(absOutputDir); err == nil && len(entries) > 0 {
		return fmt.Errorf("output directory %s is not empty", absOutputDir)
	}
	if err := os.MkdirAll(absOutputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	fmt.Fprintf(out, "Restoring %s/%s to \"%s\"...\n", opts.ClientID, opts.RootLabel, absOutputDir)

	// 2. Set up the worker pool.
	jobs := make(chan fileRestoreJob, 100)
	errs := make(chan error, 100)
	var wg sync.WaitGroup
	var restored restoreCounter
	numWorkers := runtime.NumCPU()

	for w := 0; w < numWorkers; w++ {
		wg.Add(1)
		go restoreFileWorker(&wg, jobs, errs, &restored)
	}

	// Drain worker errors while the walk is still producing jobs, keeping the
	// first one.
	var firstErr error
	var failures int
	collected := make(chan struct{})
	go func() {
		defer close(collected)
		for err := range errs {
			failures++
			if firstErr == nil {
				firstErr = err
			}
		}
	}()

	// 3. Walk the mirror: folders are created in place, files go to the pool.
	walkErr := filepath.WalkDir(sourceDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(sourceDir, path)
		if err != nil {
			return err
		}
		dest := filepath.Join(absOutputDir, rel)

		if d.IsDir() {
			return os.MkdirAll(dest, 0755)
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		jobs <- fileRestoreJob{SourcePath: path, DestinationPath: dest, ModTime: info.ModTime(), Size: info.Size()}
		return nil
	})
	close(jobs)

	// 4. Wait for all workers to finish.
	wg.Wait()
	close(errs)
	<-collected

	if walkErr != nil {
		return fmt.Errorf("failed during mirror traversal: %w", walkErr)
	}
	if firstErr != nil {
		return fmt.Errorf("%d files failed to restore, first: %w", failures, firstErr)
	}

	fmt.Fprintf(out, "Restore complete: %d files, %s.\n", restored.files, humanize.Bytes(uint64(restored.bytes)))
	return nil
}
