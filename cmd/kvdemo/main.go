// kvdemo is a tiny in-process harness over the storage engine: no network,
// no RPC — those are the transport layer's job, not the library's. It
// exists to exercise put/read/delete/range/close against real files on
// disk the way a caller embedding the engine would.
package main

import (
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/samkira/kvengine/core"
)

func usage() {
	fmt.Fprintln(os.Stderr, "usage:")
	fmt.Fprintln(os.Stderr, "  kvdemo <data-dir> put <key> <value>")
	fmt.Fprintln(os.Stderr, "  kvdemo <data-dir> get <key>")
	fmt.Fprintln(os.Stderr, "  kvdemo <data-dir> delete <key>")
	fmt.Fprintln(os.Stderr, "  kvdemo <data-dir> range <start> <end>")
	os.Exit(1)
}

func main() {
	if len(os.Args) < 3 {
		usage()
	}

	dataDir := os.Args[1]
	action := os.Args[2]

	log, err := zap.NewDevelopment()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync() // nolint:errcheck

	e, err := core.Open(dataDir, core.WithLogger(log))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open engine: %v\n", err)
		os.Exit(1)
	}
	defer e.Close() // nolint:errcheck

	switch action {
	case "put":
		if len(os.Args) != 5 {
			usage()
		}
		if err := e.Put(os.Args[3], []byte(os.Args[4])); err != nil {
			fmt.Fprintf(os.Stderr, "put failed: %v\n", err)
			os.Exit(1)
		}

	case "get":
		if len(os.Args) != 4 {
			usage()
		}
		val, err := e.Read(os.Args[3])
		if err != nil {
			fmt.Fprintf(os.Stderr, "get failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(string(val))

	case "delete":
		if len(os.Args) != 4 {
			usage()
		}
		if err := e.Delete(os.Args[3]); err != nil {
			fmt.Fprintf(os.Stderr, "delete failed: %v\n", err)
			os.Exit(1)
		}

	case "range":
		if len(os.Args) != 5 {
			usage()
		}
		results, err := e.ReadRange(os.Args[3], os.Args[4])
		if err != nil {
			fmt.Fprintf(os.Stderr, "range failed: %v\n", err)
			os.Exit(1)
		}
		for k, v := range results {
			fmt.Printf("%s=%s\n", k, string(v))
		}

	default:
		fmt.Fprintf(os.Stderr, "unknown action %q\n", action)
		usage()
	}
}
