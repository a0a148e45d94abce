// Wildlife Camera inspection tool
// Reads the SD card photo index and the retained state database
package main

import (
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/wizlab/wildlife-camera/internal/clock"
	"github.com/wizlab/wildlife-camera/internal/rtcmem"
	"github.com/wizlab/wildlife-camera/internal/sdcard"
)

var (
	dbPath  string
	cardDir string
	baseDir string
	limit   int

	rootCmd = &cobra.Command{
		Use:   "wildcam-inspect",
		Short: "Wildlife Camera inspection CLI",
		Long:  "Command-line tool for inspecting a camera's SD card and retained state.",
	}

	indexCmd = &cobra.Command{
		Use:   "index",
		Short: "Decode and verify the photo index on the card",
		RunE:  showIndex,
	}

	photosCmd = &cobra.Command{
		Use:   "photos",
		Short: "List archived photos, newest first",
		RunE:  listPhotos,
	}

	stateCmd = &cobra.Command{
		Use:   "state",
		Short: "Show the retained state records",
		RunE:  showState,
	}

	resetCmd = &cobra.Command{
		Use:   "reset",
		Short: "Wipe the retained state, as a power cycle does",
		RunE:  resetState,
	}

	queryCmd = &cobra.Command{
		Use:   "query [sql]",
		Short: "Execute a raw SQL query against the retained state",
		Args:  cobra.ExactArgs(1),
		RunE:  executeQuery,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&dbPath, "database", "d", "/var/lib/wildcam/rtc.db", "Retained state database path")
	rootCmd.PersistentFlags().StringVar(&cardDir, "card", ".", "Directory holding the card contents")
	rootCmd.PersistentFlags().StringVar(&baseDir, "base", sdcard.DefaultConfig().BaseDir, "Photo directory on the card")

	photosCmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of photos to show")

	rootCmd.AddCommand(indexCmd)
	rootCmd.AddCommand(photosCmd)
	rootCmd.AddCommand(stateCmd)
	rootCmd.AddCommand(resetCmd)
	rootCmd.AddCommand(queryCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func cardFs() afero.Fs {
	return afero.NewReadOnlyFs(afero.NewBasePathFs(afero.NewOsFs(), cardDir))
}

func showIndex(cmd *cobra.Command, args []string) error {
	return printIndex(cmd.OutOrStdout(), cardFs(), baseDir)
}

func printIndex(w io.Writer, fs afero.Fs, base string) error {
	indexPath := path.Join(base, sdcard.DefaultConfig().IndexName)
	data, err := afero.ReadFile(fs, indexPath)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", indexPath, err)
	}

	idx, err := sdcard.DecodeIndex(data)
	status := "ok"
	switch {
	case errors.Is(err, sdcard.ErrIndexSize):
		return err
	case errors.Is(err, sdcard.ErrIndexChecksum):
		status = "BAD CRC (camera will rebuild)"
	}

	fmt.Fprintln(w, "Photo Index")
	fmt.Fprintln(w, "===========")
	fmt.Fprintf(w, "File: %s (%d bytes)\n", indexPath, len(data))
	fmt.Fprintf(w, "Checksum: %08x %s\n", idx.CRC, status)
	fmt.Fprintf(w, "Photos: %d\n", idx.Count)
	fmt.Fprintf(w, "Last path: %s\n", idx.LastPath)
	if idx.LastTimestamp == 0 {
		fmt.Fprintln(w, "Last timestamp: unknown")
	} else {
		fmt.Fprintf(w, "Last timestamp: %s\n", clock.Format("%F %T", time.Unix(int64(idx.LastTimestamp), 0).UTC()))
	}
	if idx.LastPath != "" {
		ok, _ := afero.Exists(fs, idx.LastPath)
		fmt.Fprintf(w, "Last photo present: %v\n", ok)
	}
	return nil
}

func listPhotos(cmd *cobra.Command, args []string) error {
	return printPhotos(cmd.OutOrStdout(), cardFs(), baseDir, limit)
}

type photo struct {
	path string
	size int64
	mod  time.Time
}

func printPhotos(out io.Writer, fs afero.Fs, base string, n int) error {
	var photos []photo
	err := afero.Walk(fs, base, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && strings.HasSuffix(p, ".jpg") {
			photos = append(photos, photo{path: p, size: info.Size(), mod: info.ModTime()})
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to walk %s: %w", base, err)
	}
	// names embed the capture time, so lexical order is capture order
	// within the dated directories
	sort.Slice(photos, func(i, j int) bool { return photos[i].path > photos[j].path })

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PATH\tSIZE\tWRITTEN")
	fmt.Fprintln(w, "----\t----\t-------")
	for i, p := range photos {
		if n > 0 && i >= n {
			break
		}
		fmt.Fprintf(w, "%s\t%d\t%s\n", p.path, p.size, p.mod.Format("2006-01-02 15:04:05"))
	}
	w.Flush()
	fmt.Fprintf(out, "\n%d photos\n", len(photos))
	return nil
}

func showState(cmd *cobra.Command, args []string) error {
	store, err := rtcmem.Open(dbPath)
	if err != nil {
		return err
	}
	defer store.Close()
	return printState(cmd.OutOrStdout(), store)
}

func printState(w io.Writer, store *rtcmem.Store) error {
	sys, err := store.LoadSystem()
	if err != nil {
		return fmt.Errorf("failed to load system record: %w", err)
	}
	bat, err := store.LoadBattery()
	if err != nil {
		return fmt.Errorf("failed to load battery record: %w", err)
	}
	cursor, err := store.LoadCursor()
	if err != nil {
		return fmt.Errorf("failed to load update cursor: %w", err)
	}
	clk, err := store.LoadClock()
	if err != nil {
		return fmt.Errorf("failed to load clock record: %w", err)
	}

	fmt.Fprintln(w, "Retained State")
	fmt.Fprintln(w, "==============")
	fmt.Fprintf(w, "Last notified level: %d\n", sys.LastNotifiedLevel)
	fmt.Fprintf(w, "Session start: %s\n", timeOrNever(sys.SessionStart))
	if bat.Valid() {
		fmt.Fprintf(w, "Battery cache: %d mV (pin %d mV, raw %d), expires at RTC %s\n",
			bat.EffectiveMillivolts, bat.PinMillivolts, bat.Raw, bat.Expiry)
	} else {
		fmt.Fprintln(w, "Battery cache: empty")
	}
	fmt.Fprintf(w, "Update cursor: %d\n", cursor)
	fmt.Fprintf(w, "Powered on: %s\n", timeOrNever(clk.PowerOnAt))
	fmt.Fprintf(w, "Clock synced: %v (offset %s)\n", clk.Synced, clk.Offset)
	return nil
}

func timeOrNever(t time.Time) string {
	if t.IsZero() || t.Unix() == 0 {
		return "never"
	}
	return clock.Format("%F %T", t.UTC())
}

func resetState(cmd *cobra.Command, args []string) error {
	store, err := rtcmem.Open(dbPath)
	if err != nil {
		return err
	}
	defer store.Close()
	if err := store.Reset(); err != nil {
		return fmt.Errorf("failed to reset: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Retained state cleared")
	return nil
}

func executeQuery(cmd *cobra.Command, args []string) error {
	db, err := sql.Open("sqlite3", dbPath+"?mode=ro")
	if err != nil {
		return err
	}
	defer db.Close()

	query := args[0]

	// Only allow SELECT queries for safety
	if !strings.HasPrefix(strings.ToUpper(strings.TrimSpace(query)), "SELECT") {
		return fmt.Errorf("only SELECT queries are allowed")
	}

	rows, err := db.Query(query)
	if err != nil {
		return err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, strings.Join(cols, "\t"))
	fmt.Fprintln(w, strings.Repeat("-\t", len(cols)))

	values := make([]any, len(cols))
	valuePtrs := make([]any, len(cols))
	for i := range values {
		valuePtrs[i] = &values[i]
	}

	for rows.Next() {
		if err := rows.Scan(valuePtrs...); err != nil {
			return err
		}

		var row []string
		for _, v := range values {
			switch val := v.(type) {
			case nil:
				row = append(row, "NULL")
			case []byte:
				row = append(row, string(val))
			default:
				row = append(row, fmt.Sprintf("%v", val))
			}
		}
		fmt.Fprintln(w, strings.Join(row, "\t"))
	}
	w.Flush()
	return rows.Err()
}
