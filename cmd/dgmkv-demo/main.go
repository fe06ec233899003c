package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/mnohosten/dgmkv/pkg/engine"
)

const banner = `
dgmkv demo shell
Type 'help' for available commands
Type 'exit' or 'quit' to exit

`

type shell struct {
	eng     *engine.Engine
	scanner *bufio.Scanner
}

func newShell(dataDir string) (*shell, error) {
	eng, err := engine.Open(dataDir, "dgmkv", engine.DefaultOptions())
	if err != nil {
		return nil, fmt.Errorf("failed to open engine: %w", err)
	}
	return &shell{eng: eng, scanner: bufio.NewScanner(os.Stdin)}, nil
}

func (s *shell) close() error {
	return s.eng.Close()
}

func (s *shell) run() error {
	fmt.Print(banner)

	for {
		fmt.Print("dgmkv> ")
		if !s.scanner.Scan() {
			break
		}

		line := strings.TrimSpace(s.scanner.Text())
		if line == "" {
			continue
		}

		if err := s.execute(line); err != nil {
			if err.Error() == "exit" {
				fmt.Println("goodbye")
				return nil
			}
			fmt.Printf("error: %v\n", err)
		}
	}

	return s.scanner.Err()
}

func (s *shell) execute(line string) error {
	parts := strings.Fields(line)
	cmd := strings.ToLower(parts[0])

	switch cmd {
	case "help", "?":
		return s.showHelp()
	case "exit", "quit":
		return fmt.Errorf("exit")
	case "put":
		return s.cmdPut(parts)
	case "get":
		return s.cmdGet(parts)
	case "delete":
		return s.cmdDelete(parts)
	case "iter":
		return s.cmdIter()
	case "compact":
		return s.cmdCompact()
	default:
		return fmt.Errorf("unknown command: %s (type 'help' for available commands)", cmd)
	}
}

func (s *shell) showHelp() error {
	fmt.Println(`
Commands:
  put <key> <value>   insert or overwrite a key
  get <key>            look up a key
  delete <key>          tombstone a key
  iter                  print every live key in ascending order
  compact               force one compaction step now
  help, ?                this message
  exit, quit              leave the shell
`)
	return nil
}

func (s *shell) cmdPut(parts []string) error {
	if len(parts) != 3 {
		return fmt.Errorf("usage: put <key> <value>")
	}
	seqno, err := s.eng.Put([]byte(parts[1]), []byte(parts[2]))
	if err != nil {
		return err
	}
	fmt.Printf("ok (seqno %d)\n", seqno)
	return nil
}

func (s *shell) cmdGet(parts []string) error {
	if len(parts) != 2 {
		return fmt.Errorf("usage: get <key>")
	}
	e, err := s.eng.Get([]byte(parts[1]))
	if err != nil {
		return err
	}
	if e.IsDeleted() {
		fmt.Println("(deleted)")
		return nil
	}
	fmt.Printf("%s (seqno %d)\n", e.Value.Payload.Inline, e.ToSeqno())
	return nil
}

func (s *shell) cmdDelete(parts []string) error {
	if len(parts) != 2 {
		return fmt.Errorf("usage: delete <key>")
	}
	if _, err := s.eng.Delete([]byte(parts[1])); err != nil {
		return err
	}
	fmt.Println("ok")
	return nil
}

func (s *shell) cmdIter() error {
	it := s.eng.Iter()
	n := 0
	for {
		e, ok := it.Next()
		if !ok {
			break
		}
		if e.IsDeleted() {
			continue
		}
		fmt.Printf("%s = %s\n", e.Key, e.Value.Payload.Inline)
		n++
	}
	if err := it.Err(); err != nil {
		return err
	}
	fmt.Printf("(%d keys)\n", n)
	return nil
}

func (s *shell) cmdCompact() error {
	// NeedsCompaction/Compact both live on the manager the engine wraps;
	// the demo only needs Put/Get/Iter through the engine, so it asks the
	// background compact worker to run one step rather than reaching past
	// the engine into pkg/levels directly.
	s.eng.TriggerCompaction()
	fmt.Println("compaction requested")
	return nil
}

func main() {
	dataDir := "./dgmkv-data"
	if len(os.Args) > 1 {
		dataDir = os.Args[1]
	}
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		fmt.Fprintf(os.Stderr, "failed to create data dir: %v\n", err)
		os.Exit(1)
	}

	sh, err := newShell(dataDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	defer sh.close()

	if err := sh.run(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}
