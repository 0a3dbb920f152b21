// trunet-bloom builds the local leak index used by the matcher's bloom
// provider. It reads content hashes, one per line, and writes a filter
// snapshot the daemon loads at startup.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/trunet-labs/trunet/pkg/matching"
)

func main() {
	var (
		input  = flag.String("hashes", "", "File of known-leaked content hashes, one per line (default stdin)")
		output = flag.String("out", "leak-index.bloom", "Output snapshot path")
		appendMode = flag.Bool("append", false, "Load the existing snapshot and add to it")
	)
	flag.Parse()

	provider := matching.NewBloomProvider()
	if *appendMode {
		loaded, err := matching.LoadBloomProvider(*output)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load existing snapshot: %v\n", err)
			os.Exit(1)
		}
		provider = loaded
	}

	reader := os.Stdin
	if *input != "" {
		f, err := os.Open(*input)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open hash file: %v\n", err)
			os.Exit(1)
		}
		defer f.Close()
		reader = f
	}

	count := 0
	scanner := bufio.NewScanner(reader)
	for scanner.Scan() {
		hash := strings.TrimSpace(scanner.Text())
		if hash == "" || strings.HasPrefix(hash, "#") {
			continue
		}
		provider.AddHash(hash)
		count++
	}
	if err := scanner.Err(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read hashes: %v\n", err)
		os.Exit(1)
	}

	if err := provider.Save(*output); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to write snapshot: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Indexed %d hashes into %s\n", count, *output)
}
