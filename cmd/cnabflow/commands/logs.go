package commands

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/cnabflow/cnabflow/pkg/config"
)

var (
	logsFollow bool
	logsLines  int
	logsSince  string
)

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Tail server logs",
	Long: `Display and optionally follow the CNABFlow server logs.

Reads the log file named by 'logging.output' in the configuration. When the
server logs to stdout or stderr there is no file to read and the command
reports that instead.

Examples:
  # Show last 100 lines (default)
  cnabflow logs

  # Show last 50 lines
  cnabflow logs -n 50

  # Follow logs in real-time
  cnabflow logs -f

  # Show logs since a specific time
  cnabflow logs --since "2026-08-25T10:00:00Z"

  # Combine options
  cnabflow logs -f -n 20`,
	RunE: runLogs,
}

func init() {
	logsCmd.Flags().BoolVarP(&logsFollow, "follow", "f", false, "Follow log output")
	logsCmd.Flags().IntVarP(&logsLines, "lines", "n", 100, "Number of lines to show")
	logsCmd.Flags().StringVar(&logsSince, "since", "", "Show logs since timestamp (RFC3339 format)")
}

func runLogs(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logFile := cfg.Logging.Output
	switch logFile {
	case "stdout", "stderr":
		return fmt.Errorf("server is configured to log to %s, not a file\nConfigure 'logging.output' in config to a file path to use this command", logFile)
	}
	if _, err := os.Stat(logFile); os.IsNotExist(err) {
		return fmt.Errorf("log file not found: %s\nThe server may not have started yet or is logging elsewhere", logFile)
	}

	var since time.Time
	if logsSince != "" {
		since, err = time.Parse(time.RFC3339, logsSince)
		if err != nil {
			return fmt.Errorf("invalid --since format (use RFC3339): %w", err)
		}
	}

	if err := showTail(logFile, logsLines, since); err != nil {
		return err
	}
	if logsFollow {
		return followLogs(logFile)
	}
	return nil
}

// showTail prints the last n lines of the log file, skipping entries older
// than since when set.
func showTail(logFile string, n int, since time.Time) error {
	if n <= 0 {
		return nil
	}

	file, err := os.Open(logFile)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer func() { _ = file.Close() }()

	// Ring buffer over the selected lines so memory stays bounded on large
	// files.
	ring := make([]string, n)
	seen := 0

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !since.IsZero() {
			if ts := lineTimestamp(line); !ts.IsZero() && ts.Before(since) {
				continue
			}
		}
		ring[seen%n] = line
		seen++
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("error reading log file: %w", err)
	}

	start := 0
	count := seen
	if seen > n {
		start = seen % n
		count = n
	}
	for i := 0; i < count; i++ {
		fmt.Println(ring[(start+i)%n])
	}
	return nil
}

// followLogs watches the log file and prints lines as they are appended.
// Returns when interrupted.
func followLogs(logFile string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	if err := watcher.Add(logFile); err != nil {
		return fmt.Errorf("failed to watch log file: %w", err)
	}

	file, err := os.Open(logFile)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer func() { _ = file.Close() }()

	// New content only; the tail was already printed.
	if _, err := file.Seek(0, io.SeekEnd); err != nil {
		return fmt.Errorf("failed to seek to end of log file: %w", err)
	}
	reader := bufio.NewReader(file)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fmt.Fprintf(os.Stderr, "Following %s (Ctrl+C to stop)...\n", logFile)

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&fsnotify.Write != 0 {
				printNewLines(reader)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			return fmt.Errorf("watcher error: %w", err)
		}
	}
}

// printNewLines drains complete lines from the reader to stdout.
func printNewLines(r *bufio.Reader) {
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		fmt.Print(line)
	}
}

// lineTimestamp extracts the timestamp from a log line. Handles the text
// handler's "[2006-01-02 15:04:05]" prefix and the JSON handler's "time"
// field; returns the zero time when neither matches.
func lineTimestamp(line string) time.Time {
	// Text format: [2026-08-25 10:30:45] [INFO] ...
	if len(line) >= 21 && line[0] == '[' {
		if t, err := time.ParseInLocation("2006-01-02 15:04:05", line[1:20], time.Local); err == nil {
			return t
		}
	}

	// JSON format: {"time":"2026-08-25T10:30:45.123Z",...}
	const timeKey = `"time":"`
	if idx := strings.Index(line, timeKey); idx >= 0 {
		start := idx + len(timeKey)
		for i := start; i < len(line) && i < start+40; i++ {
			if line[i] == '"' {
				if t, err := time.Parse(time.RFC3339Nano, line[start:i]); err == nil {
					return t
				}
				break
			}
		}
	}

	return time.Time{}
}
