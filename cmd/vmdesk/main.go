package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/vmdesk/vmdesk/internal/buildinfo"
)

const usageText = `vmdesk is the CLI for vmdeskd.

Usage:
  vmdesk --version
  vmdesk [--socket PATH] [--json] [--timeout DURATION] status
  vmdesk [--socket PATH] [--json] [--timeout DURATION] catalog <templates|clusters|domains|os>
  vmdesk [--socket PATH] [--json] [--timeout DURATION] session open
  vmdesk [--socket PATH] [--json] [--timeout DURATION] session list
  vmdesk [--socket PATH] [--json] [--timeout DURATION] session show <session_id>
  vmdesk [--socket PATH] [--json] [--timeout DURATION] session set <session_id> [--name <name>] [--cluster <id>] [--template <id>] [--os <id>] [--memory <mib>] [--cpus <n>] [--optimized-for <kind>] [--source <template|iso>] [--hostname <name>] [--ssh-keys <keys>] [--password-file <path>]
  vmdesk [--socket PATH] [--json] [--timeout DURATION] session next <session_id>
  vmdesk [--socket PATH] [--json] [--timeout DURATION] session reset <session_id>
  vmdesk [--socket PATH] [--json] [--timeout DURATION] session discard <session_id>
  vmdesk [--socket PATH] [--json] [--timeout DURATION] nic add <session_id> --name <name> --profile <vnic_profile_id> [--device <type>]
  vmdesk [--socket PATH] [--json] [--timeout DURATION] nic update <session_id> <nic_id> [--name <name>] [--profile <id>] [--device <type>]
  vmdesk [--socket PATH] [--json] [--timeout DURATION] nic remove <session_id> <nic_id>
  vmdesk [--socket PATH] [--json] [--timeout DURATION] disk add <session_id> --name <name> --size <size> [--domain <id>] [--type <thin|pre>] [--bootable]
  vmdesk [--socket PATH] [--json] [--timeout DURATION] disk update <session_id> <disk_id> [--name <name>] [--size <size>] [--domain <id>] [--type <thin|pre>] [--bootable=<bool>]
  vmdesk [--socket PATH] [--json] [--timeout DURATION] disk remove <session_id> <disk_id>
  vmdesk [--socket PATH] [--json] [--timeout DURATION] submit <session_id> [--force]
  vmdesk [--socket PATH] [--json] [--timeout DURATION] progress <session_id> [--wait]
  vmdesk [--socket PATH] [--json] [--timeout DURATION] events <session_id> [--follow] [--tail <n>]
  vmdesk [--socket PATH] [--timeout DURATION] create --interactive

Global Flags:
  --socket PATH   Path to vmdeskd socket (default /run/vmdesk/vmdeskd.sock)
  --json          Output json
  --timeout       Request timeout (e.g. 30s, 2m)
`

type globalOptions struct {
	socketPath  string
	jsonOutput  bool
	showVersion bool
	timeout     time.Duration
}

func main() {
	opts, args, err := parseGlobal(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		printUsage()
		os.Exit(2)
	}
	if opts.showVersion {
		fmt.Println(buildinfo.String())
		return
	}
	if len(args) == 0 {
		printUsage()
		return
	}
	if isHelpToken(args[0]) {
		printUsage()
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	base := commonFlags{socketPath: opts.socketPath, jsonOutput: opts.jsonOutput, timeout: opts.timeout}
	if err := dispatch(ctx, args, base); err != nil {
		if errors.Is(err, errHelp) {
			return
		}
		msg, next, hints := describeError(err)
		printError(os.Stderr, msg, next, hints)
		os.Exit(1)
	}
}

func parseGlobal(args []string) (globalOptions, []string, error) {
	opts := globalOptions{socketPath: defaultSocketPath}
	fs := flag.NewFlagSet("vmdesk", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&opts.socketPath, "socket", defaultSocketPath, "path to vmdeskd socket")
	fs.BoolVar(&opts.jsonOutput, "json", false, jsonFlagDescription)
	fs.DurationVar(&opts.timeout, "timeout", defaultRequestTimeout, "request timeout (e.g. 30s, 2m)")
	fs.BoolVar(&opts.showVersion, "version", false, "print version and exit")
	if err := fs.Parse(args); err != nil {
		return opts, nil, err
	}
	if opts.socketPath == "" {
		opts.socketPath = defaultSocketPath
	}
	return opts, fs.Args(), nil
}

func dispatch(ctx context.Context, args []string, base commonFlags) error {
	switch args[0] {
	case "status":
		return runStatus(ctx, args[1:], base)
	case "catalog":
		return runCatalogCommand(ctx, args[1:], base)
	case "session":
		return runSessionCommand(ctx, args[1:], base)
	case "nic":
		return runNICCommand(ctx, args[1:], base)
	case "disk":
		return runDiskCommand(ctx, args[1:], base)
	case "submit":
		return runSubmit(ctx, args[1:], base)
	case "progress":
		return runProgress(ctx, args[1:], base)
	case "events":
		return runEvents(ctx, args[1:], base)
	case "create":
		return runCreateCommand(ctx, args[1:], base)
	case "version":
		fmt.Println(buildinfo.String())
		return nil
	default:
		printUsage()
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func printUsage() {
	_, _ = fmt.Fprint(os.Stdout, usageText)
}

func printCatalogUsage() {
	fmt.Fprintln(os.Stdout, "Usage: vmdesk catalog <templates|clusters|domains|os>")
}

func printSessionUsage() {
	fmt.Fprintln(os.Stdout, "Usage: vmdesk session <open|list|show|set|next|reset|discard>")
}

func printSessionShowUsage() {
	fmt.Fprintln(os.Stdout, "Usage: vmdesk session show <session_id>")
}

func printSessionSetUsage() {
	fmt.Fprintln(os.Stdout, "Usage: vmdesk session set <session_id> [--name <name>] [--cluster <id>] [--template <id>] [--os <id>] [--memory <mib>] [--cpus <n>] [--optimized-for <kind>] [--source <template|iso>] [--hostname <name>] [--ssh-keys <keys>] [--password-file <path>]")
}

func printSessionNextUsage() {
	fmt.Fprintln(os.Stdout, "Usage: vmdesk session next <session_id>")
	fmt.Fprintln(os.Stdout, "Note: leaving the basic step derives network and storage on first visit.")
}

func printSessionResetUsage() {
	fmt.Fprintln(os.Stdout, "Usage: vmdesk session reset <session_id>")
	fmt.Fprintln(os.Stdout, "Note: reset abandons any in-flight submission and rotates the session id.")
}

func printSessionDiscardUsage() {
	fmt.Fprintln(os.Stdout, "Usage: vmdesk session discard <session_id>")
}

func printNICUsage() {
	fmt.Fprintln(os.Stdout, "Usage: vmdesk nic <add|update|remove> <session_id> [args]")
}

func printNICAddUsage() {
	fmt.Fprintln(os.Stdout, "Usage: vmdesk nic add <session_id> --name <name> --profile <vnic_profile_id> [--device <type>]")
}

func printNICUpdateUsage() {
	fmt.Fprintln(os.Stdout, "Usage: vmdesk nic update <session_id> <nic_id> [--name <name>] [--profile <id>] [--device <type>]")
}

func printNICRemoveUsage() {
	fmt.Fprintln(os.Stdout, "Usage: vmdesk nic remove <session_id> <nic_id>")
}

func printDiskUsage() {
	fmt.Fprintln(os.Stdout, "Usage: vmdesk disk <add|update|remove> <session_id> [args]")
}

func printDiskAddUsage() {
	fmt.Fprintln(os.Stdout, "Usage: vmdesk disk add <session_id> --name <name> --size <size> [--domain <id>] [--type <thin|pre>] [--bootable]")
	fmt.Fprintln(os.Stdout, "Note: size accepts bytes or suffixed values (e.g. 10G, 512M).")
}

func printDiskUpdateUsage() {
	fmt.Fprintln(os.Stdout, "Usage: vmdesk disk update <session_id> <disk_id> [--name <name>] [--size <size>] [--domain <id>] [--type <thin|pre>] [--bootable=<bool>]")
}

func printDiskRemoveUsage() {
	fmt.Fprintln(os.Stdout, "Usage: vmdesk disk remove <session_id> <disk_id>")
}

func printSubmitUsage() {
	fmt.Fprintln(os.Stdout, "Usage: vmdesk submit <session_id> [--force]")
}

func printProgressUsage() {
	fmt.Fprintln(os.Stdout, "Usage: vmdesk progress <session_id> [--wait]")
}

func printEventsUsage() {
	fmt.Fprintln(os.Stdout, "Usage: vmdesk events <session_id> [--follow] [--tail <n>]")
	fmt.Fprintln(os.Stdout, "Note: --json outputs one JSON object per line.")
}

func printCreateUsage() {
	fmt.Fprintln(os.Stdout, "Usage: vmdesk create --interactive")
	fmt.Fprintln(os.Stdout, "Note: walks through cluster, template, and sizing in a terminal form, then submits.")
}

func isHelpToken(value string) bool {
	switch strings.TrimSpace(value) {
	case "help", "-h", "--help":
		return true
	default:
		return false
	}
}
