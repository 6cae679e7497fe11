// main.go — atomctl: a small operator CLI over an Atom element.
//
// Usage:
//
//	ATOM_ELEMENT_NAME=atomctl ATOM_REDIS_HOST=localhost atomctl elements
//	ATOM_ELEMENT_NAME=atomctl atomctl commands [element]
//	ATOM_ELEMENT_NAME=atomctl atomctl healthcheck <element> [element...]
//	ATOM_ELEMENT_NAME=atomctl atomctl send <element> <command>
package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/npekslin/atom"
)

type config struct {
	elementName string
	host        string
	port        int
	socketPath  string
	sentryDSN   string
}

func loadConfig() config {
	cfg := config{
		elementName: os.Getenv("ATOM_ELEMENT_NAME"),
		host:        os.Getenv("ATOM_REDIS_HOST"),
		socketPath:  os.Getenv("ATOM_REDIS_SOCKET"),
		sentryDSN:   os.Getenv("ATOM_SENTRY_DSN"),
	}
	if cfg.elementName == "" {
		cfg.elementName = "atomctl"
	}
	if p := os.Getenv("ATOM_REDIS_PORT"); p != "" {
		if n, err := strconv.Atoi(p); err == nil {
			cfg.port = n
		}
	}
	return cfg
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	cfg := loadConfig()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	el, err := atom.NewElement(ctx, cfg.elementName, atom.Config{
		Host:           cfg.host,
		Port:           cfg.port,
		UnixSocketPath: cfg.socketPath,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "atomctl: could not connect:", err)
		os.Exit(1)
	}
	defer el.Close(ctx)

	if err := el.InitTelemetry(cfg.sentryDSN); err != nil {
		fmt.Fprintln(os.Stderr, "atomctl: sentry init failed:", err)
	}
	defer atom.FlushTelemetry(2 * time.Second)

	switch os.Args[1] {
	case "elements":
		runElements(ctx, el)
	case "commands":
		runCommands(ctx, el, os.Args[2:])
	case "healthcheck":
		runHealthcheck(ctx, el, os.Args[2:])
	case "send":
		runSend(ctx, el, os.Args[2:])
	default:
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: atomctl {elements|commands|healthcheck|send} [args...]")
}

func runElements(ctx context.Context, el *atom.Element) {
	names, err := el.GetAllElements(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, "atomctl: elements:", err)
		os.Exit(1)
	}
	for _, n := range names {
		fmt.Println(n)
	}
}

func runCommands(ctx context.Context, el *atom.Element, args []string) {
	var target string
	if len(args) > 0 {
		target = args[0]
	}
	cmds, err := el.GetAllCommands(ctx, target, false)
	if err != nil {
		fmt.Fprintln(os.Stderr, "atomctl: commands:", err)
		os.Exit(1)
	}
	for _, c := range cmds {
		fmt.Println(c)
	}
}

func runHealthcheck(ctx context.Context, el *atom.Element, elements []string) {
	if len(elements) == 0 {
		fmt.Fprintln(os.Stderr, "atomctl: healthcheck requires at least one element name")
		os.Exit(1)
	}
	if err := el.WaitForElementsHealthy(ctx, elements, 5*time.Second, true); err != nil {
		fmt.Fprintln(os.Stderr, "atomctl: healthcheck:", err)
		os.Exit(1)
	}
	fmt.Println("all healthy")
}

func runSend(ctx context.Context, el *atom.Element, args []string) {
	if len(args) < 2 {
		fmt.Fprintln(os.Stderr, "atomctl: send requires <element> <command>")
		os.Exit(1)
	}
	resp, err := el.CommandSend(ctx, args[0], args[1], nil)
	if err != nil {
		fmt.Fprintln(os.Stderr, "atomctl: send:", err)
		os.Exit(1)
	}
	if resp.ErrCode != atom.NoError {
		fmt.Fprintf(os.Stderr, "atomctl: send: element returned error %d: %s\n", resp.ErrCode, resp.ErrStr)
		os.Exit(1)
	}
	fmt.Printf("%+v\n", resp.Data)
}
