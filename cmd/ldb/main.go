// Package main provides the ldb CLI tool for inspecting levelbind databases.
//
// Usage:
//
//	ldb --db=<path> [options] <command> [args]
//
// Commands:
//
//	scan            Scan key-value pairs in [--from, --to)
//	get <key>       Get value for a key
//	put <key> <val> Put a key-value pair
//	delete <key>    Delete a key
//	dump            Dump database contents
//	export <file>   Write a portable dump of the database to file
//	import <file>   Load a dump written by export
//	info            Print database information
//	destroy         Remove the database
//	repair          Attempt to repair a corrupted database
package main

import (
	"bytes"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/aalhour/levelbind"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// cli holds the parsed flags of one invocation.
type cli struct {
	stdout, stderr io.Writer
	flags          *flag.FlagSet

	dbPath          string
	backend         string
	optionsFile     string
	hexOutput       bool
	limit           int
	fromKey         string
	toKey           string
	reverse         bool
	createIfMissing bool
	codec           string
	help            bool
}

func newCLI(stdout, stderr io.Writer) *cli {
	c := &cli{stdout: stdout, stderr: stderr}
	fs := flag.NewFlagSet("ldb", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&c.dbPath, "db", "", "Path to the database (required)")
	fs.StringVar(&c.backend, "backend", "", "Storage backend: leveldb, badger, bbolt or memory")
	fs.StringVar(&c.optionsFile, "options", "", "YAML options file")
	fs.BoolVar(&c.hexOutput, "hex", false, "Output keys and values in hex format")
	fs.IntVar(&c.limit, "limit", 0, "Limit number of entries (0 = unlimited)")
	fs.StringVar(&c.fromKey, "from", "", "Start key for scan (inclusive)")
	fs.StringVar(&c.toKey, "to", "", "End key for scan (exclusive)")
	fs.BoolVar(&c.reverse, "reverse", false, "Scan in descending key order")
	fs.BoolVar(&c.createIfMissing, "create_if_missing", false, "Create database if it doesn't exist")
	fs.StringVar(&c.codec, "codec", "snappy", "Dump codec for export: "+strings.Join(levelbind.DumpCodecs(), ", "))
	fs.BoolVar(&c.help, "help", false, "Print help")
	c.flags = fs
	return c
}

// run executes one ldb invocation and returns the process exit code.
func run(args []string, stdout, stderr io.Writer) int {
	c := newCLI(stdout, stderr)
	if err := c.flags.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if c.help || c.flags.NArg() == 0 {
		c.printUsage()
		return 0
	}
	if c.dbPath == "" {
		fmt.Fprintln(stderr, "Error: --db flag is required")
		return 1
	}

	command := c.flags.Arg(0)
	rest := c.flags.Args()[1:]

	var err error
	switch command {
	case "scan":
		err = c.cmdScan()
	case "get":
		err = c.cmdGet(rest)
	case "put":
		err = c.cmdPut(rest)
	case "delete":
		err = c.cmdDelete(rest)
	case "dump":
		err = c.cmdDump()
	case "export":
		err = c.cmdExport(rest)
	case "import":
		err = c.cmdImport(rest)
	case "info":
		err = c.cmdInfo()
	case "destroy":
		err = c.cmdDestroy()
	case "repair":
		err = c.cmdRepair()
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n", command)
		c.printUsage()
		return 1
	}

	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func (c *cli) printUsage() {
	w := c.stdout
	fmt.Fprintln(w, "ldb - levelbind database inspection tool")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: ldb --db=<path> [options] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  scan              Scan key-value pairs in [--from, --to)")
	fmt.Fprintln(w, "  get <key>         Get value for a key")
	fmt.Fprintln(w, "  put <key> <val>   Put a key-value pair")
	fmt.Fprintln(w, "  delete <key>      Delete a key")
	fmt.Fprintln(w, "  dump              Dump database contents")
	fmt.Fprintln(w, "  export <file>     Write a portable dump of the database")
	fmt.Fprintln(w, "  import <file>     Load a dump written by export")
	fmt.Fprintln(w, "  info              Print database information")
	fmt.Fprintln(w, "  destroy           Remove the database")
	fmt.Fprintln(w, "  repair            Attempt to repair a corrupted database")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Options:")
	c.flags.SetOutput(w)
	c.flags.PrintDefaults()
	c.flags.SetOutput(c.stderr)
}

// options merges the options file, if any, with the command line flags.
func (c *cli) options() (*levelbind.Options, error) {
	opts := levelbind.DefaultOptions()
	if c.optionsFile != "" {
		var err error
		if opts, err = levelbind.LoadOptionsFile(c.optionsFile); err != nil {
			return nil, err
		}
	}
	set := map[string]bool{}
	c.flags.Visit(func(f *flag.Flag) { set[f.Name] = true })

	if set["backend"] {
		opts.Backend = levelbind.Backend(c.backend)
	}
	if c.optionsFile == "" || set["create_if_missing"] {
		opts.CreateIfMissing = c.createIfMissing
	}
	return opts, nil
}

func (c *cli) openDB() (*levelbind.DB, error) {
	opts, err := c.options()
	if err != nil {
		return nil, err
	}
	database, err := levelbind.Open(c.dbPath, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return database, nil
}

func (c *cli) formatOutput(data []byte) string {
	if c.hexOutput {
		return hex.EncodeToString(data)
	}
	// Print as string if printable, else hex
	for _, b := range data {
		if b < 32 || b > 126 {
			return hex.EncodeToString(data)
		}
	}
	return string(data)
}

func parseInput(s string) []byte {
	// Try hex decode first (if prefixed with 0x)
	if strings.HasPrefix(s, "0x") {
		decoded, err := hex.DecodeString(s[2:])
		if err == nil {
			return decoded
		}
	}
	return []byte(s)
}

func (c *cli) cmdScan() error {
	database, err := c.openDB()
	if err != nil {
		return err
	}
	defer database.Close()

	iter, err := database.NewIterator(nil)
	if err != nil {
		return err
	}
	defer iter.Close()

	from, to := parseInput(c.fromKey), parseInput(c.toKey)
	inRange := func(key []byte) bool {
		if c.fromKey != "" && bytes.Compare(key, from) < 0 {
			return false
		}
		return c.toKey == "" || bytes.Compare(key, to) < 0
	}

	step := iter.Next
	switch {
	case c.reverse:
		step = iter.Prev
		if c.toKey == "" {
			err = iter.SeekToLast()
			break
		}
		// The range excludes --to, so back off an exact match.
		if err = iter.SeekForPrev(to); err == nil && iter.Valid() && bytes.Equal(iter.Key(), to) {
			_, err = iter.Prev()
		}
	case c.fromKey != "":
		err = iter.Seek(from)
	default:
		err = iter.SeekToFirst()
	}
	if err != nil {
		return fmt.Errorf("iterator error: %w", err)
	}

	count := 0
	for iter.Valid() && inRange(iter.Key()) {
		e, err := step()
		if err != nil {
			return fmt.Errorf("iterator error: %w", err)
		}
		fmt.Fprintf(c.stdout, "%s => %s\n", c.formatOutput(e.Key), c.formatOutput(e.Value))

		count++
		if c.limit > 0 && count >= c.limit {
			break
		}
	}

	fmt.Fprintf(c.stdout, "\n(%d entries scanned)\n", count)
	return nil
}

func (c *cli) cmdGet(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: ldb --db=<path> get <key>")
	}

	database, err := c.openDB()
	if err != nil {
		return err
	}
	defer database.Close()

	value, err := database.Get(nil, parseInput(args[0]))
	if err != nil {
		return fmt.Errorf("get %s: %w", args[0], err)
	}

	fmt.Fprintf(c.stdout, "%s\n", c.formatOutput(value))
	return nil
}

func (c *cli) cmdPut(args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: ldb --db=<path> put <key> <value>")
	}

	database, err := c.openDB()
	if err != nil {
		return err
	}
	defer database.Close()

	if err := database.Put(&levelbind.WriteOptions{Sync: true}, parseInput(args[0]), parseInput(args[1])); err != nil {
		return fmt.Errorf("put failed: %w", err)
	}

	fmt.Fprintln(c.stdout, "OK")
	return nil
}

func (c *cli) cmdDelete(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: ldb --db=<path> delete <key>")
	}

	database, err := c.openDB()
	if err != nil {
		return err
	}
	defer database.Close()

	if err := database.Delete(&levelbind.WriteOptions{Sync: true}, parseInput(args[0])); err != nil {
		return fmt.Errorf("delete failed: %w", err)
	}

	fmt.Fprintln(c.stdout, "OK")
	return nil
}

func (c *cli) cmdDump() error {
	database, err := c.openDB()
	if err != nil {
		return err
	}
	defer database.Close()

	iter, err := database.NewIterator(nil)
	if err != nil {
		return err
	}
	defer iter.Close()

	count := 0
	for err = iter.SeekToFirst(); err == nil && iter.Valid(); {
		var e levelbind.Entry
		if e, err = iter.Next(); err != nil {
			break
		}
		fmt.Fprintf(c.stdout, "'%s' => '%s'\n", c.formatOutput(e.Key), c.formatOutput(e.Value))
		count++

		if c.limit > 0 && count >= c.limit {
			break
		}
	}
	if err != nil {
		return fmt.Errorf("iterator error: %w", err)
	}

	fmt.Fprintf(c.stdout, "\n(%d entries dumped)\n", count)
	return nil
}

func (c *cli) cmdExport(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: ldb --db=<path> [--codec=<codec>] export <file>")
	}

	database, err := c.openDB()
	if err != nil {
		return err
	}
	defer database.Close()

	f, err := os.Create(args[0])
	if err != nil {
		return err
	}
	n, err := database.Export(f, &levelbind.ExportOptions{Codec: c.codec})
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("export failed: %w", err)
	}

	fmt.Fprintf(c.stdout, "(%d entries exported to %s)\n", n, args[0])
	return nil
}

func (c *cli) cmdImport(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: ldb --db=<path> import <file>")
	}

	f, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer f.Close()

	database, err := c.openDB()
	if err != nil {
		return err
	}
	defer database.Close()

	n, err := database.Import(f, &levelbind.WriteOptions{Sync: true})
	if err != nil {
		return fmt.Errorf("import failed after %d entries: %w", n, err)
	}

	fmt.Fprintf(c.stdout, "(%d entries imported from %s)\n", n, args[0])
	return nil
}

func (c *cli) cmdInfo() error {
	database, err := c.openDB()
	if err != nil {
		return err
	}
	defer database.Close()

	fmt.Fprintf(c.stdout, "Database: %s\n", c.dbPath)
	fmt.Fprintf(c.stdout, "Runtime: %s\n", levelbind.Default())
	fmt.Fprintln(c.stdout, "---")

	properties := []string{
		levelbind.PropertyBackend,
		levelbind.PropertyComparator,
		levelbind.PropertyID,
		"leveldb.stats",
		"leveldb.sstables",
		"badger.lsm-size",
		"badger.vlog-size",
		"bbolt.keys",
		"bbolt.stats",
		"memory.keys",
	}

	for _, prop := range properties {
		value, ok := database.GetProperty(prop)
		if ok {
			fmt.Fprintf(c.stdout, "%s: %s\n", prop, strings.TrimRight(value, "\n"))
		}
	}

	return nil
}

func (c *cli) cmdDestroy() error {
	opts, err := c.options()
	if err != nil {
		return err
	}
	if err := levelbind.DestroyDB(c.dbPath, opts); err != nil {
		return err
	}
	fmt.Fprintln(c.stdout, "OK")
	return nil
}

func (c *cli) cmdRepair() error {
	opts, err := c.options()
	if err != nil {
		return err
	}
	if err := levelbind.RepairDB(c.dbPath, opts); err != nil {
		return fmt.Errorf("repair failed: %w", err)
	}
	fmt.Fprintln(c.stdout, "Repair completed successfully")
	return nil
}
