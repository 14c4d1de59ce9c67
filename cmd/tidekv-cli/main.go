// Command tidekv-cli is a one-shot command-line client.
//
// Usage:
//
//	tidekv-cli [-servers host:port,...] [-timeout 5s] <command> [args]
//
// Commands:
//
//	get <key>
//	set <key> <value> [ttl]
//	del <key>
//	exists <key>
//	incr <key> <delta>
//	decr <key> <delta>
//	cas <key> <expected|absent> <value>
//	mget <key> [key...]
//	mdel <key> [key...]
//	ping
//	info
//
// Values are parsed as int, float or bool when they look like one, "null"
// for the null value, anything else as a string.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/tidekv/tidekv"
	"github.com/tidekv/tidekv/kv"
)

func main() {
	var (
		servers = flag.String("servers", "127.0.0.1:6380", "comma-separated server addresses")
		timeout = flag.Duration("timeout", 5*time.Second, "per-command timeout")
	)
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: tidekv-cli [flags] <command> [args]")
		os.Exit(2)
	}

	client, err := tidekv.NewClient(strings.Split(*servers, ","), tidekv.Config{MaxSize: 1})
	if err != nil {
		fatal(err)
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	if err := run(ctx, client, args[0], args[1:]); err != nil {
		fatal(err)
	}
}

func run(ctx context.Context, client *tidekv.Client, command string, args []string) error {
	switch command {
	case "get":
		if len(args) != 1 {
			return usageError("get <key>")
		}
		item, err := client.Get(ctx, args[0])
		if err != nil {
			return err
		}
		if !item.Found {
			fmt.Println("(not found)")
			return nil
		}
		fmt.Println(item.Value)
		return nil

	case "set":
		if len(args) != 2 && len(args) != 3 {
			return usageError("set <key> <value> [ttl]")
		}
		item := tidekv.Item{Key: args[0], Value: parseValue(args[1])}
		if len(args) == 3 {
			ttl, err := time.ParseDuration(args[2])
			if err != nil {
				return fmt.Errorf("bad ttl %q: %w", args[2], err)
			}
			item.TTL = ttl
		}
		if err := client.Set(ctx, item); err != nil {
			return err
		}
		fmt.Println("OK")
		return nil

	case "del":
		if len(args) != 1 {
			return usageError("del <key>")
		}
		existed, err := client.Delete(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Println(existed)
		return nil

	case "exists":
		if len(args) != 1 {
			return usageError("exists <key>")
		}
		found, err := client.Exists(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Println(found)
		return nil

	case "incr", "decr":
		if len(args) != 2 {
			return usageError(command + " <key> <delta>")
		}
		delta, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			return fmt.Errorf("bad delta %q: %w", args[1], err)
		}
		var n int64
		if command == "incr" {
			n, err = client.Incr(ctx, args[0], delta)
		} else {
			n, err = client.Decr(ctx, args[0], delta)
		}
		if err != nil {
			return err
		}
		fmt.Println(n)
		return nil

	case "cas":
		if len(args) != 3 {
			return usageError("cas <key> <expected|absent> <value>")
		}
		var expected *kv.Value
		if args[1] != "absent" {
			v := parseValue(args[1])
			expected = &v
		}
		swapped, err := client.CompareAndSwap(ctx, args[0], expected, parseValue(args[2]))
		if err != nil {
			return err
		}
		fmt.Println(swapped)
		return nil

	case "mget":
		if len(args) == 0 {
			return usageError("mget <key> [key...]")
		}
		items, err := client.MGet(ctx, args)
		if err != nil {
			return err
		}
		for _, item := range items {
			if item.Found {
				fmt.Printf("%s: %s\n", item.Key, item.Value)
			} else {
				fmt.Printf("%s: (not found)\n", item.Key)
			}
		}
		return nil

	case "mdel":
		if len(args) == 0 {
			return usageError("mdel <key> [key...]")
		}
		removed, err := client.MDel(ctx, args)
		if err != nil {
			return err
		}
		fmt.Println(removed)
		return nil

	case "ping":
		if err := client.Ping(ctx); err != nil {
			return err
		}
		fmt.Println("PONG")
		return nil

	case "info":
		infos, err := client.Info(ctx)
		if err != nil {
			return err
		}
		for addr, info := range infos {
			fmt.Printf("%s: %s\n", addr, info)
		}
		return nil

	default:
		return fmt.Errorf("unknown command %q", command)
	}
}

// parseValue turns a CLI argument into a typed value.
func parseValue(s string) kv.Value {
	if s == "null" {
		return kv.Null()
	}
	if s == "true" || s == "false" {
		return kv.Bool(s == "true")
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return kv.Int(n)
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return kv.Float(f)
	}
	return kv.Str(s)
}

func usageError(usage string) error {
	return fmt.Errorf("usage: tidekv-cli %s", usage)
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "tidekv-cli:", err)
	os.Exit(1)
}
