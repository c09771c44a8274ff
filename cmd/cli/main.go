package main

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/Diffblue-benchmarks/hydra/pkg/client"
)

const Prompt = "hydra> "

func main() {
	serverAddr := flag.String("addr", "localhost:9090", "Hydra TCP Server Address")
	flag.Parse()

	fmt.Printf("Hydra CLI (Target: %s)\n", *serverAddr)

	cli, err := client.Dial(*serverAddr)
	if err != nil {
		fmt.Printf("Connection failed: %v\n", err)
		fmt.Println("Tip: Ensure the server is running (go run ./cmd/server).")
		return
	}
	defer cli.Close()
	fmt.Println("Connected! Type 'help' for commands.")

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print(Prompt)
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		parts := strings.Fields(line)
		cmd := strings.ToLower(parts[0])

		switch cmd {
		case "put", "set":
			handlePut(cli, parts)
		case "get":
			handleGet(cli, parts)
		case "del", "rm":
			handleDel(cli, parts)
		case "scan":
			handleScan(cli, parts)
		case "next":
			handleNext(cli, parts)
		case "help":
			printHelp()
		case "exit", "quit":
			fmt.Println("Bye!")
			return
		default:
			fmt.Printf("Unknown command: %s (try 'help')\n", cmd)
		}
	}
}

func handlePut(cli *client.Client, parts []string) {
	if len(parts) < 3 {
		fmt.Println("Usage: put <key> <value>")
		return
	}
	value := strings.Join(parts[2:], " ")
	if err := cli.Put([]byte(parts[1]), []byte(value)); err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	fmt.Println("OK")
}

func handleGet(cli *client.Client, parts []string) {
	if len(parts) != 2 {
		fmt.Println("Usage: get <key>")
		return
	}
	val, err := cli.Get([]byte(parts[1]))
	if errors.Is(err, client.ErrNotFound) {
		fmt.Println("(nil)")
		return
	}
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	fmt.Printf("%q\n", string(val))
}

func handleDel(cli *client.Client, parts []string) {
	if len(parts) != 2 {
		fmt.Println("Usage: del <key>")
		return
	}
	if err := cli.Delete([]byte(parts[1])); err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	fmt.Println("OK")
}

func handleScan(cli *client.Client, parts []string) {
	if len(parts) < 2 {
		fmt.Println("Usage: scan <start> [limit]")
		return
	}
	limit := 20
	if len(parts) >= 3 {
		if n, err := strconv.Atoi(parts[2]); err == nil {
			limit = n
		}
	}
	records, err := cli.Scan([]byte(parts[1]), limit)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	for _, r := range records {
		fmt.Printf("  %q -> %q\n", string(r.Key), string(r.Value))
	}
	fmt.Printf("(%d records)\n", len(records))
}

func handleNext(cli *client.Client, parts []string) {
	if len(parts) != 2 {
		fmt.Println("Usage: next <key>")
		return
	}
	next, err := cli.NextFirstKey([]byte(parts[1]))
	if errors.Is(err, client.ErrNotFound) {
		fmt.Println("(last page)")
		return
	}
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	fmt.Printf("%q\n", string(next))
}

func printHelp() {
	fmt.Println("Commands:")
	fmt.Println("  put <key> <value>    Store a value")
	fmt.Println("  get <key>            Fetch a value")
	fmt.Println("  del <key>            Delete a key")
	fmt.Println("  scan <start> [n]     List up to n records from start key")
	fmt.Println("  next <key>           First key of the page after key's page")
	fmt.Println("  exit                 Quit")
}
