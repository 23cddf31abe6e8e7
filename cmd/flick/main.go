// Package main is the entrypoint for the flick CLI, a thin presentation
// layer over the transfer engine.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Sisyphean-a/flick"
)

var (
	version = "dev"
	commit  = "none"
)

// Global flags
var (
	profilesPath string
	profileName  string
	insecure     bool
	debug        bool
	concurrency  int
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "flick",
	Short: "Flick - dual-mode SSH/SFTP file transfer",
	Long: `Flick transfers files to and from remote servers over SSH.

It authenticates through an ordered credential chain (password, explicit
key, SSH agent, default keys) using an embedded SFTP implementation, and
falls back to the system ssh/scp tools when the embedded library cannot
negotiate a session.`,
	Version: fmt.Sprintf("%s (commit: %s)", version, commit),
}

func init() {
	rootCmd.PersistentFlags().StringVar(&profilesPath, "profiles", "~/.config/flick/servers.yaml", "Path to the server profile file")
	rootCmd.PersistentFlags().StringVarP(&profileName, "profile", "s", "", "Server profile name (defaults to the profile marked default)")
	rootCmd.PersistentFlags().BoolVar(&insecure, "insecure", false, "Skip host key verification (testing only)")
	rootCmd.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	rootCmd.PersistentFlags().IntVar(&concurrency, "concurrency", 1, "Maximum concurrent transfers")

	rootCmd.AddCommand(profilesCmd)
	rootCmd.AddCommand(lsCmd)
	rootCmd.AddCommand(putCmd)
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(rmCmd)
}

func newLogger() (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	return cfg.Build()
}

func loadProfile() (flick.ServerProfile, error) {
	store := flick.NewProfileStore(profilesPath)
	if profileName != "" {
		return store.Find(profileName)
	}
	return store.Default()
}

// connect establishes a connection with retry on transient network errors.
// Exhausted auth chains are permanent and fail immediately.
func connect(ctx context.Context, logger *zap.Logger) (*flick.Connection, error) {
	profile, err := loadProfile()
	if err != nil {
		return nil, err
	}

	opts := flick.Options{
		InsecureIgnoreHostKey: insecure,
		Logger:                logger,
	}

	var conn *flick.Connection
	retryCfg := flick.DefaultRetryConfig()
	retryCfg.Logger = logger
	err = flick.Retry(ctx, retryCfg, "connect", func() error {
		var connectErr error
		conn, connectErr = flick.Connect(profile, opts)
		return connectErr
	})
	if err != nil {
		return nil, err
	}
	return conn, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

var profilesCmd = &cobra.Command{
	Use:   "profiles",
	Short: "List configured server profiles",
	RunE: func(cmd *cobra.Command, args []string) error {
		store := flick.NewProfileStore(profilesPath)
		profiles, err := store.Load()
		if err != nil {
			return err
		}
		for _, p := range profiles {
			marker := " "
			if p.Default {
				marker = "*"
			}
			fmt.Printf("%s %-20s %s@%s:%d %s\n", marker, p.Name, p.User, p.Host, p.Port, p.RemotePath)
		}
		return nil
	},
}

var lsCmd = &cobra.Command{
	Use:   "ls [path]",
	Short: "List a remote directory",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		logger, err := newLogger()
		if err != nil {
			return err
		}
		defer logger.Sync()

		ctx, stop := signalContext()
		defer stop()

		conn, err := connect(ctx, logger)
		if err != nil {
			return err
		}
		defer conn.Close()

		path := conn.Profile().RemotePath
		if len(args) == 1 {
			path = args[0]
		}

		entries, warn, err := conn.List(ctx, path)
		if err != nil {
			return err
		}
		for _, e := range entries {
			size := fmt.Sprintf("%d", e.Size)
			if e.IsDir {
				size = "-"
			}
			fmt.Printf("%s %10s %s %s\n", e.Mode, size, e.ModTime.Format("2006-01-02 15:04"), e.Name)
		}
		if warn != nil {
			fmt.Fprintln(os.Stderr, "warning:", warn)
		}
		return nil
	},
}

var putCmd = &cobra.Command{
	Use:   "put <local> <remote>",
	Short: "Upload a file or directory",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTransfer(flick.Upload, args[0], args[1])
	},
}

var getCmd = &cobra.Command{
	Use:   "get <remote> <local>",
	Short: "Download a file or directory",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTransfer(flick.Download, args[1], args[0])
	},
}

var rmCmd = &cobra.Command{
	Use:   "rm <remote>",
	Short: "Remove a remote file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		logger, err := newLogger()
		if err != nil {
			return err
		}
		defer logger.Sync()

		ctx, stop := signalContext()
		defer stop()

		conn, err := connect(ctx, logger)
		if err != nil {
			return err
		}
		defer conn.Close()

		return conn.Remove(ctx, args[0], false)
	},
}

func runTransfer(direction flick.Direction, localPath, remotePath string) error {
	logger, err := newLogger()
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signalContext()
	defer stop()

	conn, err := connect(ctx, logger)
	if err != nil {
		return err
	}
	defer conn.Close()

	queue := flick.NewTransferQueue(concurrency, logger)
	defer queue.Close()

	var ids []string
	var isDir bool
	if direction == flick.Upload {
		if info, err := os.Stat(localPath); err == nil && info.IsDir() {
			isDir = true
		}
	} else {
		isDir, err = conn.IsDir(ctx, remotePath)
		if err != nil {
			return err
		}
	}

	if isDir {
		ids, err = queue.EnqueueDir(ctx, conn, direction, localPath, remotePath)
	} else {
		var id string
		id, err = queue.Enqueue(conn, direction, localPath, remotePath)
		ids = append(ids, id)
	}
	if err != nil {
		return err
	}

	// Cancel outstanding tasks when interrupted.
	go func() {
		<-ctx.Done()
		for _, id := range ids {
			queue.Cancel(id)
		}
	}()

	var failed int
	for _, id := range ids {
		events, err := queue.Subscribe(id)
		if err != nil {
			return err
		}
		task, _ := queue.Task(id)
		for ev := range events {
			printProgress(task, ev)
		}
		task, _ = queue.Task(id)
		if task.Status != flick.TaskSucceeded {
			failed++
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d transfers did not succeed", failed, len(ids))
	}
	fmt.Printf("transferred %d file(s)\n", len(ids))
	return nil
}

func printProgress(task flick.TransferTask, ev flick.ProgressEvent) {
	name := task.LocalPath
	if task.Direction == flick.Download {
		name = task.RemotePath
	}

	switch {
	case ev.Status == flick.TaskFailed:
		fmt.Printf("\r%s: failed: %v\n", name, ev.Err)
	case ev.Status == flick.TaskCancelled:
		fmt.Printf("\r%s: cancelled\n", name)
	case ev.Status == flick.TaskSucceeded:
		fmt.Printf("\r%s: done (%d bytes)%s\n", name, ev.BytesDone, spaces(20))
	case ev.BytesTotal > 0:
		fmt.Printf("\r%s: %3d%% (%d/%d bytes)", name, ev.BytesDone*100/ev.BytesTotal, ev.BytesDone, ev.BytesTotal)
	default:
		fmt.Printf("\r%s: %d bytes", name, ev.BytesDone)
	}
}

func spaces(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = ' '
	}
	return string(b)
}
