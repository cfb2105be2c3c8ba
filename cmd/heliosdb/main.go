// Command heliosdb is a small exerciser for the storage engine: open a
// database directory and run one operation against it.
//
//	heliosdb -dir ./data set mykey myvalue
//	heliosdb -dir ./data get mykey
//	heliosdb -dir ./data del mykey
//	heliosdb -dir ./data flush | compact | stats
//	heliosdb -dir ./data backup ./snap.helios
//	heliosdb -dir ./data restore ./snap.helios
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/tejchid/heliosdb/pkg/lsm"
)

func main() {
	dir := flag.String("dir", "./data", "database directory")
	config := flag.String("config", "", "optional YAML config file")
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	opts := lsm.DefaultOptions(*dir)
	if *config != "" {
		loaded, err := lsm.LoadOptions(*config)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
		loaded.DataDir = *dir
		opts = loaded
	}

	db, err := lsm.Open(opts)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	switch cmd := args[0]; cmd {
	case "set":
		if len(args) != 3 {
			log.Fatalf("usage: set <key> <value>")
		}
		if err := db.Put([]byte(args[1]), []byte(args[2])); err != nil {
			log.Fatalf("set failed: %v", err)
		}
		if err := db.Flush(); err != nil {
			log.Fatalf("flush failed: %v", err)
		}
	case "get":
		if len(args) != 2 {
			log.Fatalf("usage: get <key>")
		}
		if value, ok := db.Get([]byte(args[1])); ok {
			fmt.Printf("%s\n", value)
		} else {
			fmt.Println("(not found)")
		}
	case "del":
		if len(args) != 2 {
			log.Fatalf("usage: del <key>")
		}
		if err := db.Delete([]byte(args[1])); err != nil {
			log.Fatalf("del failed: %v", err)
		}
		if err := db.Flush(); err != nil {
			log.Fatalf("flush failed: %v", err)
		}
	case "flush":
		if err := db.Flush(); err != nil {
			log.Fatalf("flush failed: %v", err)
		}
	case "compact":
		db.Compact()
	case "stats":
		s := db.Stats()
		fmt.Printf("puts=%d deletes=%d reads=%d flushes=%d compactions=%d\n",
			s.Puts, s.Deletes, s.Reads, s.Flushes, s.Compactions)
		fmt.Printf("memtable_bytes=%d live_tables=%d bytes_written=%d\n",
			s.MemtableBytes, s.LiveTables, s.BytesWritten)
	case "backup":
		if len(args) != 2 {
			log.Fatalf("usage: backup <file>")
		}
		if err := db.Backup(args[1]); err != nil {
			log.Fatalf("backup failed: %v", err)
		}
	case "restore":
		if len(args) != 2 {
			log.Fatalf("usage: restore <file>")
		}
		if err := db.Restore(args[1]); err != nil {
			log.Fatalf("restore failed: %v", err)
		}
		if err := db.Flush(); err != nil {
			log.Fatalf("flush failed: %v", err)
		}
	default:
		log.Fatalf("unknown command %q", cmd)
	}
}
