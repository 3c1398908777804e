package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"
)

const (
	defaultEventTail    = 50
	eventPollInterval   = 2 * time.Second
	progressPollEvery   = time.Second
	defaultEventLimit   = 200
	maxEventLimit       = 1000
	jsonFlagDescription = "output json"
)

var errHelp = errors.New("help requested")

type commonFlags struct {
	socketPath string
	jsonOutput bool
	timeout    time.Duration
}

func (c *commonFlags) bind(fs *flag.FlagSet) {
	fs.StringVar(&c.socketPath, "socket", c.socketPath, "path to vmdeskd socket")
	fs.BoolVar(&c.jsonOutput, "json", c.jsonOutput, jsonFlagDescription)
	fs.DurationVar(&c.timeout, "timeout", c.timeout, "request timeout (e.g. 30s, 2m)")
}

func (c commonFlags) client() *apiClient {
	return newAPIClient(c.socketPath, c.timeout)
}

func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

func parseFlags(fs *flag.FlagSet, args []string, usage func(), help *bool) error {
	fs.Usage = usage
	if err := fs.Parse(args); err != nil {
		usage()
		return err
	}
	if help != nil && *help {
		usage()
		return errHelp
	}
	return nil
}

// visitedFlags reports which flags were explicitly set, so patch requests
// only carry the fields the user named.
func visitedFlags(fs *flag.FlagSet) map[string]bool {
	seen := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { seen[f.Name] = true })
	return seen
}

func runStatus(ctx context.Context, args []string, base commonFlags) error {
	fs := newFlagSet("status")
	opts := base
	opts.bind(fs)
	var help bool
	fs.BoolVar(&help, "help", false, "show help")
	fs.BoolVar(&help, "h", false, "show help")
	if err := parseFlags(fs, args, printUsage, &help); err != nil {
		return err
	}

	payload, err := opts.client().doJSON(ctx, http.MethodGet, "/v1/status", nil)
	if err != nil {
		return withDaemonHints(err, opts.socketPath)
	}
	if opts.jsonOutput {
		return prettyPrintJSON(os.Stdout, payload)
	}
	var resp statusResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		return err
	}
	printStatus(resp)
	return nil
}

func runCatalogCommand(ctx context.Context, args []string, base commonFlags) error {
	if len(args) == 0 {
		printCatalogUsage()
		return nil
	}
	section := args[0]
	switch section {
	case "templates", "clusters", "domains", "os":
	default:
		if isHelpToken(section) {
			printCatalogUsage()
			return nil
		}
		printCatalogUsage()
		return fmt.Errorf("unknown catalog section %q", section)
	}

	fs := newFlagSet("catalog " + section)
	opts := base
	opts.bind(fs)
	var help bool
	fs.BoolVar(&help, "help", false, "show help")
	fs.BoolVar(&help, "h", false, "show help")
	if err := parseFlags(fs, args[1:], printCatalogUsage, &help); err != nil {
		return err
	}

	payload, err := opts.client().doJSON(ctx, http.MethodGet, "/v1/catalog", nil)
	if err != nil {
		return withDaemonHints(err, opts.socketPath)
	}
	var resp catalogResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		return err
	}

	switch section {
	case "templates":
		if opts.jsonOutput {
			return printJSONValue(resp.Templates)
		}
		printTemplateList(resp.Templates)
	case "clusters":
		if opts.jsonOutput {
			return printJSONValue(resp.Clusters)
		}
		printClusterList(resp.Clusters)
	case "domains":
		if opts.jsonOutput {
			return printJSONValue(resp.StorageDomains)
		}
		printDomainList(resp.StorageDomains)
	case "os":
		if opts.jsonOutput {
			return printJSONValue(resp.OperatingSystems)
		}
		printOSList(resp.OperatingSystems)
	}
	return nil
}

func runSessionCommand(ctx context.Context, args []string, base commonFlags) error {
	if len(args) == 0 {
		printSessionUsage()
		return nil
	}
	switch args[0] {
	case "open":
		return runSessionOpen(ctx, args[1:], base)
	case "list":
		return runSessionList(ctx, args[1:], base)
	case "show":
		return runSessionShow(ctx, args[1:], base)
	case "set":
		return runSessionSet(ctx, args[1:], base)
	case "next":
		return runSessionNext(ctx, args[1:], base)
	case "reset":
		return runSessionReset(ctx, args[1:], base)
	case "discard":
		return runSessionDiscard(ctx, args[1:], base)
	default:
		printSessionUsage()
		return fmt.Errorf("unknown session command %q", args[0])
	}
}

func runSessionOpen(ctx context.Context, args []string, base commonFlags) error {
	fs := newFlagSet("session open")
	opts := base
	opts.bind(fs)
	var help bool
	fs.BoolVar(&help, "help", false, "show help")
	fs.BoolVar(&help, "h", false, "show help")
	if err := parseFlags(fs, args, printSessionUsage, &help); err != nil {
		return err
	}

	payload, err := opts.client().doJSON(ctx, http.MethodPost, "/v1/sessions", nil)
	if err != nil {
		return withDaemonHints(err, opts.socketPath)
	}
	if opts.jsonOutput {
		return prettyPrintJSON(os.Stdout, payload)
	}
	var resp sessionResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		return err
	}
	printSession(resp)
	return nil
}

func runSessionList(ctx context.Context, args []string, base commonFlags) error {
	fs := newFlagSet("session list")
	opts := base
	opts.bind(fs)
	var help bool
	fs.BoolVar(&help, "help", false, "show help")
	fs.BoolVar(&help, "h", false, "show help")
	if err := parseFlags(fs, args, printSessionUsage, &help); err != nil {
		return err
	}

	payload, err := opts.client().doJSON(ctx, http.MethodGet, "/v1/sessions", nil)
	if err != nil {
		return withDaemonHints(err, opts.socketPath)
	}
	if opts.jsonOutput {
		return prettyPrintJSON(os.Stdout, payload)
	}
	var resp sessionsResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		return err
	}
	printSessionList(resp.Sessions)
	return nil
}

func runSessionShow(ctx context.Context, args []string, base commonFlags) error {
	fs := newFlagSet("session show")
	opts := base
	opts.bind(fs)
	var help bool
	fs.BoolVar(&help, "help", false, "show help")
	fs.BoolVar(&help, "h", false, "show help")
	if err := parseFlags(fs, args, printSessionShowUsage, &help); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		printSessionShowUsage()
		return fmt.Errorf("session_id is required")
	}
	id := strings.TrimSpace(fs.Arg(0))

	payload, err := opts.client().doJSON(ctx, http.MethodGet, "/v1/sessions/"+id, nil)
	if err != nil {
		return withDaemonHints(err, opts.socketPath)
	}
	if opts.jsonOutput {
		return prettyPrintJSON(os.Stdout, payload)
	}
	var resp sessionResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		return err
	}
	printSession(resp)
	return nil
}

func runSessionSet(ctx context.Context, args []string, base commonFlags) error {
	fs := newFlagSet("session set")
	opts := base
	opts.bind(fs)
	var (
		name         string
		cluster      string
		template     string
		osID         string
		memoryMiB    int64
		cpus         int
		optimizedFor string
		source       string
		hostname     string
		sshKeys      string
		passwordFile string
		startOnBoot  bool
		tpm          bool
		initEnabled  bool
		help         bool
	)
	fs.StringVar(&name, "name", "", "vm name")
	fs.StringVar(&cluster, "cluster", "", "cluster id")
	fs.StringVar(&template, "template", "", "template id")
	fs.StringVar(&osID, "os", "", "operating system id")
	fs.Int64Var(&memoryMiB, "memory", 0, "memory in MiB")
	fs.IntVar(&cpus, "cpus", 0, "virtual cpu count")
	fs.StringVar(&optimizedFor, "optimized-for", "", "workload kind (desktop, server, high_performance)")
	fs.StringVar(&source, "source", "", "provision source (template or iso)")
	fs.StringVar(&hostname, "hostname", "", "cloud-init hostname")
	fs.StringVar(&sshKeys, "ssh-keys", "", "cloud-init authorized ssh keys")
	fs.StringVar(&passwordFile, "password-file", "", "file holding the cloud-init root password")
	fs.BoolVar(&startOnBoot, "start", false, "start the vm after creation")
	fs.BoolVar(&tpm, "tpm", false, "attach a tpm device")
	fs.BoolVar(&initEnabled, "init", false, "enable cloud-init")
	fs.BoolVar(&help, "help", false, "show help")
	fs.BoolVar(&help, "h", false, "show help")
	if err := parseFlags(fs, args, printSessionSetUsage, &help); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		printSessionSetUsage()
		return fmt.Errorf("session_id is required")
	}
	id := strings.TrimSpace(fs.Arg(0))
	seen := visitedFlags(fs)

	var req basicPatchRequest
	if seen["name"] {
		req.Name = &name
	}
	if seen["cluster"] {
		req.ClusterID = &cluster
	}
	if seen["template"] {
		req.TemplateID = &template
	}
	if seen["os"] {
		req.OperatingSystemID = &osID
	}
	if seen["memory"] {
		if memoryMiB <= 0 {
			return fmt.Errorf("memory must be positive MiB")
		}
		req.MemoryMiB = &memoryMiB
	}
	if seen["cpus"] {
		if cpus <= 0 {
			return fmt.Errorf("cpus must be positive")
		}
		req.CPUs = &cpus
	}
	if seen["optimized-for"] {
		req.OptimizedFor = &optimizedFor
	}
	if seen["source"] {
		req.ProvisionSource = &source
	}
	if seen["hostname"] {
		req.InitHostname = &hostname
	}
	if seen["ssh-keys"] {
		req.InitSSHKeys = &sshKeys
	}
	if seen["start"] {
		req.StartOnCreation = &startOnBoot
	}
	if seen["tpm"] {
		req.TPMEnabled = &tpm
	}
	if seen["init"] {
		req.InitEnabled = &initEnabled
	}
	if seen["password-file"] {
		password, err := readPasswordFile(passwordFile)
		if err != nil {
			return err
		}
		req.InitPassword = &password
	}

	payload, err := opts.client().doJSON(ctx, http.MethodPost, "/v1/sessions/"+id+"/basic", req)
	if err != nil {
		return withDaemonHints(err, opts.socketPath)
	}
	if opts.jsonOutput {
		return prettyPrintJSON(os.Stdout, payload)
	}
	var resp sessionResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		return err
	}
	printSession(resp)
	return nil
}

func runSessionNext(ctx context.Context, args []string, base commonFlags) error {
	fs := newFlagSet("session next")
	opts := base
	opts.bind(fs)
	var help bool
	fs.BoolVar(&help, "help", false, "show help")
	fs.BoolVar(&help, "h", false, "show help")
	if err := parseFlags(fs, args, printSessionNextUsage, &help); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		printSessionNextUsage()
		return fmt.Errorf("session_id is required")
	}
	id := strings.TrimSpace(fs.Arg(0))

	payload, err := opts.client().doJSON(ctx, http.MethodPost, "/v1/sessions/"+id+"/basic/commit", nil)
	if err != nil {
		return withDaemonHints(err, opts.socketPath)
	}
	if opts.jsonOutput {
		return prettyPrintJSON(os.Stdout, payload)
	}
	var resp sessionResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		return err
	}
	printSession(resp)
	return nil
}

func runSessionReset(ctx context.Context, args []string, base commonFlags) error {
	fs := newFlagSet("session reset")
	opts := base
	opts.bind(fs)
	var help bool
	fs.BoolVar(&help, "help", false, "show help")
	fs.BoolVar(&help, "h", false, "show help")
	if err := parseFlags(fs, args, printSessionResetUsage, &help); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		printSessionResetUsage()
		return fmt.Errorf("session_id is required")
	}
	id := strings.TrimSpace(fs.Arg(0))

	payload, err := opts.client().doJSON(ctx, http.MethodPost, "/v1/sessions/"+id+"/reset", nil)
	if err != nil {
		return withDaemonHints(err, opts.socketPath)
	}
	if opts.jsonOutput {
		return prettyPrintJSON(os.Stdout, payload)
	}
	var resp sessionResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		return err
	}
	fmt.Printf("session reset; new id %s\n", resp.ID)
	return nil
}

func runSessionDiscard(ctx context.Context, args []string, base commonFlags) error {
	fs := newFlagSet("session discard")
	opts := base
	opts.bind(fs)
	var help bool
	fs.BoolVar(&help, "help", false, "show help")
	fs.BoolVar(&help, "h", false, "show help")
	if err := parseFlags(fs, args, printSessionDiscardUsage, &help); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		printSessionDiscardUsage()
		return fmt.Errorf("session_id is required")
	}
	id := strings.TrimSpace(fs.Arg(0))

	payload, err := opts.client().doJSON(ctx, http.MethodDelete, "/v1/sessions/"+id, nil)
	if err != nil {
		return withDaemonHints(err, opts.socketPath)
	}
	if opts.jsonOutput {
		return prettyPrintJSON(os.Stdout, payload)
	}
	var resp discardResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		return err
	}
	fmt.Printf("session %s discarded\n", resp.ID)
	return nil
}

func runNICCommand(ctx context.Context, args []string, base commonFlags) error {
	if len(args) == 0 {
		printNICUsage()
		return nil
	}
	switch args[0] {
	case "add":
		return runNICAdd(ctx, args[1:], base)
	case "update":
		return runNICUpdate(ctx, args[1:], base)
	case "remove":
		return runNICRemove(ctx, args[1:], base)
	default:
		printNICUsage()
		return fmt.Errorf("unknown nic command %q", args[0])
	}
}

func runNICAdd(ctx context.Context, args []string, base commonFlags) error {
	fs := newFlagSet("nic add")
	opts := base
	opts.bind(fs)
	var name, profile, device string
	var help bool
	fs.StringVar(&name, "name", "", "nic name")
	fs.StringVar(&profile, "profile", "", "vnic profile id")
	fs.StringVar(&device, "device", "", "device type (default virtio)")
	fs.BoolVar(&help, "help", false, "show help")
	fs.BoolVar(&help, "h", false, "show help")
	if err := parseFlags(fs, args, printNICAddUsage, &help); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		printNICAddUsage()
		return fmt.Errorf("session_id is required")
	}
	if strings.TrimSpace(name) == "" || strings.TrimSpace(profile) == "" {
		printNICAddUsage()
		return fmt.Errorf("name and profile are required")
	}
	id := strings.TrimSpace(fs.Arg(0))

	req := nicChangeRequest{Create: &nicCreateRequest{Name: name, VNICProfileID: profile, DeviceType: device}}
	return postListChange(ctx, opts, "/v1/sessions/"+id+"/nics", req)
}

func runNICUpdate(ctx context.Context, args []string, base commonFlags) error {
	fs := newFlagSet("nic update")
	opts := base
	opts.bind(fs)
	var name, profile, device string
	var help bool
	fs.StringVar(&name, "name", "", "nic name")
	fs.StringVar(&profile, "profile", "", "vnic profile id")
	fs.StringVar(&device, "device", "", "device type")
	fs.BoolVar(&help, "help", false, "show help")
	fs.BoolVar(&help, "h", false, "show help")
	if err := parseFlags(fs, args, printNICUpdateUsage, &help); err != nil {
		return err
	}
	if fs.NArg() < 2 {
		printNICUpdateUsage()
		return fmt.Errorf("session_id and nic_id are required")
	}
	id := strings.TrimSpace(fs.Arg(0))
	seen := visitedFlags(fs)

	update := nicUpdateRequest{ID: strings.TrimSpace(fs.Arg(1))}
	if seen["name"] {
		update.Name = &name
	}
	if seen["profile"] {
		update.VNICProfileID = &profile
	}
	if seen["device"] {
		update.DeviceType = &device
	}
	req := nicChangeRequest{Update: &update}
	return postListChange(ctx, opts, "/v1/sessions/"+id+"/nics", req)
}

func runNICRemove(ctx context.Context, args []string, base commonFlags) error {
	fs := newFlagSet("nic remove")
	opts := base
	opts.bind(fs)
	var help bool
	fs.BoolVar(&help, "help", false, "show help")
	fs.BoolVar(&help, "h", false, "show help")
	if err := parseFlags(fs, args, printNICRemoveUsage, &help); err != nil {
		return err
	}
	if fs.NArg() < 2 {
		printNICRemoveUsage()
		return fmt.Errorf("session_id and nic_id are required")
	}
	id := strings.TrimSpace(fs.Arg(0))
	req := nicChangeRequest{Remove: strings.TrimSpace(fs.Arg(1))}
	return postListChange(ctx, opts, "/v1/sessions/"+id+"/nics", req)
}

func runDiskCommand(ctx context.Context, args []string, base commonFlags) error {
	if len(args) == 0 {
		printDiskUsage()
		return nil
	}
	switch args[0] {
	case "add":
		return runDiskAdd(ctx, args[1:], base)
	case "update":
		return runDiskUpdate(ctx, args[1:], base)
	case "remove":
		return runDiskRemove(ctx, args[1:], base)
	default:
		printDiskUsage()
		return fmt.Errorf("unknown disk command %q", args[0])
	}
}

func runDiskAdd(ctx context.Context, args []string, base commonFlags) error {
	fs := newFlagSet("disk add")
	opts := base
	opts.bind(fs)
	var name, size, domain, diskType string
	var bootable, help bool
	fs.StringVar(&name, "name", "", "disk name")
	fs.StringVar(&size, "size", "", "disk size (e.g. 10G, 512M, or bytes)")
	fs.StringVar(&domain, "domain", "", "storage domain id")
	fs.StringVar(&diskType, "type", "", "allocation type (thin or pre)")
	fs.BoolVar(&bootable, "bootable", false, "mark disk bootable")
	fs.BoolVar(&help, "help", false, "show help")
	fs.BoolVar(&help, "h", false, "show help")
	if err := parseFlags(fs, args, printDiskAddUsage, &help); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		printDiskAddUsage()
		return fmt.Errorf("session_id is required")
	}
	if strings.TrimSpace(name) == "" || strings.TrimSpace(size) == "" {
		printDiskAddUsage()
		return fmt.Errorf("name and size are required")
	}
	sizeBytes, err := parseSizeBytes(size)
	if err != nil {
		return err
	}
	id := strings.TrimSpace(fs.Arg(0))

	req := diskChangeRequest{Create: &diskCreateRequest{
		Name:            name,
		StorageDomainID: domain,
		Bootable:        bootable,
		Type:            diskType,
		SizeBytes:       sizeBytes,
	}}
	return postListChange(ctx, opts, "/v1/sessions/"+id+"/disks", req)
}

func runDiskUpdate(ctx context.Context, args []string, base commonFlags) error {
	fs := newFlagSet("disk update")
	opts := base
	opts.bind(fs)
	var name, size, domain, diskType string
	var bootable, help bool
	fs.StringVar(&name, "name", "", "disk name")
	fs.StringVar(&size, "size", "", "disk size (e.g. 10G, 512M, or bytes)")
	fs.StringVar(&domain, "domain", "", "storage domain id")
	fs.StringVar(&diskType, "type", "", "allocation type (thin or pre)")
	fs.BoolVar(&bootable, "bootable", false, "mark disk bootable")
	fs.BoolVar(&help, "help", false, "show help")
	fs.BoolVar(&help, "h", false, "show help")
	if err := parseFlags(fs, args, printDiskUpdateUsage, &help); err != nil {
		return err
	}
	if fs.NArg() < 2 {
		printDiskUpdateUsage()
		return fmt.Errorf("session_id and disk_id are required")
	}
	id := strings.TrimSpace(fs.Arg(0))
	seen := visitedFlags(fs)

	update := diskUpdateRequest{ID: strings.TrimSpace(fs.Arg(1))}
	if seen["name"] {
		update.Name = &name
	}
	if seen["size"] {
		sizeBytes, err := parseSizeBytes(size)
		if err != nil {
			return err
		}
		update.SizeBytes = &sizeBytes
	}
	if seen["domain"] {
		update.StorageDomainID = &domain
	}
	if seen["type"] {
		update.Type = &diskType
	}
	if seen["bootable"] {
		update.Bootable = &bootable
	}
	req := diskChangeRequest{Update: &update}
	return postListChange(ctx, opts, "/v1/sessions/"+id+"/disks", req)
}

func runDiskRemove(ctx context.Context, args []string, base commonFlags) error {
	fs := newFlagSet("disk remove")
	opts := base
	opts.bind(fs)
	var help bool
	fs.BoolVar(&help, "help", false, "show help")
	fs.BoolVar(&help, "h", false, "show help")
	if err := parseFlags(fs, args, printDiskRemoveUsage, &help); err != nil {
		return err
	}
	if fs.NArg() < 2 {
		printDiskRemoveUsage()
		return fmt.Errorf("session_id and disk_id are required")
	}
	id := strings.TrimSpace(fs.Arg(0))
	req := diskChangeRequest{Remove: strings.TrimSpace(fs.Arg(1))}
	return postListChange(ctx, opts, "/v1/sessions/"+id+"/disks", req)
}

// postListChange sends a NIC or disk change and prints the updated session.
func postListChange(ctx context.Context, opts commonFlags, path string, req any) error {
	payload, err := opts.client().doJSON(ctx, http.MethodPost, path, req)
	if err != nil {
		return withDaemonHints(err, opts.socketPath)
	}
	if opts.jsonOutput {
		return prettyPrintJSON(os.Stdout, payload)
	}
	var resp sessionResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		return err
	}
	printSession(resp)
	return nil
}

func runSubmit(ctx context.Context, args []string, base commonFlags) error {
	fs := newFlagSet("submit")
	opts := base
	opts.bind(fs)
	var force, help bool
	fs.BoolVar(&force, "force", false, "skip the confirmation prompt")
	fs.BoolVar(&help, "help", false, "show help")
	fs.BoolVar(&help, "h", false, "show help")
	if err := parseFlags(fs, args, printSubmitUsage, &help); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		printSubmitUsage()
		return fmt.Errorf("session_id is required")
	}
	id := strings.TrimSpace(fs.Arg(0))

	if err := requireConfirmation(confirmOptions{
		action:     "submit session " + id + " for creation",
		force:      force,
		jsonOutput: opts.jsonOutput,
	}); err != nil {
		return err
	}

	payload, err := opts.client().doJSON(ctx, http.MethodPost, "/v1/sessions/"+id+"/submit", nil)
	if err != nil {
		return withDaemonHints(err, opts.socketPath)
	}
	if opts.jsonOutput {
		return prettyPrintJSON(os.Stdout, payload)
	}
	var resp submitResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		return err
	}
	fmt.Printf("submitted; token %s\n", resp.Token)
	fmt.Printf("run: vmdesk progress %s --wait\n", id)
	return nil
}

func runProgress(ctx context.Context, args []string, base commonFlags) error {
	fs := newFlagSet("progress")
	opts := base
	opts.bind(fs)
	var wait, help bool
	fs.BoolVar(&wait, "wait", false, "poll until the submission finishes")
	fs.BoolVar(&help, "help", false, "show help")
	fs.BoolVar(&help, "h", false, "show help")
	if err := parseFlags(fs, args, printProgressUsage, &help); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		printProgressUsage()
		return fmt.Errorf("session_id is required")
	}
	id := strings.TrimSpace(fs.Arg(0))
	client := opts.client()

	for {
		payload, err := client.doJSON(ctx, http.MethodGet, "/v1/sessions/"+id+"/progress", nil)
		if err != nil {
			return withDaemonHints(err, opts.socketPath)
		}
		var resp progressResponse
		if err := json.Unmarshal(payload, &resp); err != nil {
			return err
		}
		if !wait || !resp.InProgress {
			if opts.jsonOutput {
				return prettyPrintJSON(os.Stdout, payload)
			}
			printProgress(resp)
			if resp.Result == "error" {
				return newCLIError("submission failed", "vmdesk session reset "+id, resp.Messages...)
			}
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(progressPollEvery):
		}
	}
}

func runEvents(ctx context.Context, args []string, base commonFlags) error {
	fs := newFlagSet("events")
	opts := base
	opts.bind(fs)
	var follow, help bool
	var tail int
	fs.BoolVar(&follow, "follow", false, "follow new events")
	fs.IntVar(&tail, "tail", defaultEventTail, "show the last N events")
	fs.BoolVar(&help, "help", false, "show help")
	fs.BoolVar(&help, "h", false, "show help")
	if err := parseFlags(fs, args, printEventsUsage, &help); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		printEventsUsage()
		return fmt.Errorf("session_id is required")
	}
	id := strings.TrimSpace(fs.Arg(0))
	if tail <= 0 {
		tail = defaultEventTail
	}
	if tail > maxEventLimit {
		tail = maxEventLimit
	}
	client := opts.client()

	resp, err := fetchEvents(ctx, client, opts.socketPath, id, 0)
	if err != nil {
		return err
	}
	events := resp.Events
	if len(events) > tail {
		events = events[len(events)-tail:]
	}
	lastID := printEventList(events, opts.jsonOutput)
	if !follow {
		return nil
	}

	ticker := time.NewTicker(eventPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			resp, err := fetchEvents(ctx, client, opts.socketPath, id, lastID)
			if err != nil {
				return err
			}
			if latest := printEventList(resp.Events, opts.jsonOutput); latest > lastID {
				lastID = latest
			}
		}
	}
}

func fetchEvents(ctx context.Context, client *apiClient, socketPath, id string, after int64) (eventsResponse, error) {
	query := fmt.Sprintf("?limit=%d", maxEventLimit)
	if after > 0 {
		query = fmt.Sprintf("?after_id=%d&limit=%d", after, defaultEventLimit)
	}
	payload, err := client.doJSON(ctx, http.MethodGet, "/v1/sessions/"+id+"/events"+query, nil)
	if err != nil {
		return eventsResponse{}, withDaemonHints(err, socketPath)
	}
	var resp eventsResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		return eventsResponse{}, err
	}
	return resp, nil
}

func printStatus(resp statusResponse) {
	fmt.Printf("Version: %s\n", resp.Version)
	fmt.Printf("Backend: %s\n", resp.Backend)
	fmt.Printf("Open Sessions: %d\n", resp.OpenSessions)
	fmt.Printf("Metrics: %s\n", enabledString(resp.Metrics.Enabled))
	if len(resp.Submissions) == 0 {
		fmt.Println("Submissions: none")
	} else {
		statuses := make([]string, 0, len(resp.Submissions))
		for status := range resp.Submissions {
			statuses = append(statuses, status)
		}
		sort.Strings(statuses)
		parts := make([]string, 0, len(statuses))
		for _, status := range statuses {
			parts = append(parts, fmt.Sprintf("%s=%d", status, resp.Submissions[status]))
		}
		fmt.Printf("Submissions: %s\n", strings.Join(parts, " "))
	}
	if len(resp.RecentFailures) > 0 {
		fmt.Println("Recent Failures:")
		for _, failure := range resp.RecentFailures {
			fmt.Printf("  %s\t%s\t%s\n", failure.CreatedAt, failure.Token, failure.Message)
		}
	}
	if len(resp.RecentEvents) > 0 {
		fmt.Println("Recent Events:")
		for _, event := range resp.RecentEvents {
			fmt.Printf("  %s\t%s\t%s\n", event.Timestamp, event.Kind, orDash(event.Message))
		}
	}
}

func printSession(resp sessionResponse) {
	fmt.Printf("Session: %s\n", resp.ID)
	fmt.Printf("Opened At: %s\n", resp.OpenedAt)
	fmt.Printf("Name: %s\n", orDash(resp.Basic.Name))
	fmt.Printf("Cluster: %s\n", orDash(resp.Basic.ClusterID))
	fmt.Printf("Template: %s\n", orDash(resp.Basic.TemplateID))
	fmt.Printf("OS: %s\n", orDash(resp.Basic.OperatingSystemID))
	fmt.Printf("Memory MiB: %d\n", resp.Basic.MemoryMiB)
	fmt.Printf("CPUs: %d (%d/%d/%d)\n", resp.Basic.CPUs,
		resp.Basic.Topology.Sockets, resp.Basic.Topology.Cores, resp.Basic.Topology.Threads)
	fmt.Printf("Optimized For: %s\n", resp.Basic.OptimizedFor)
	fmt.Printf("Source: %s\n", resp.Basic.ProvisionSource)
	if resp.Basic.InitEnabled {
		fmt.Printf("Cloud-Init: hostname=%s password=%s\n",
			orDash(resp.Basic.InitHostname), setString(resp.Basic.InitPasswordSet))
	}
	fmt.Printf("Steps: basic=%s network=%s storage=%s\n",
		gateString(resp.Nav.Basic), gateString(resp.Nav.Network), gateString(resp.Nav.Storage))
	fmt.Printf("Derived: network=%d storage=%d\n", resp.NetworkUpdated, resp.StorageUpdated)
	fmt.Printf("Dirty: %t\n", resp.Dirty)
	if resp.CorrelationID != "" {
		fmt.Printf("Submission Token: %s\n", resp.CorrelationID)
	}
	if len(resp.NICs) > 0 {
		fmt.Println("NICs:")
		w := tabwriter.NewWriter(os.Stdout, 2, 8, 2, ' ', 0)
		fmt.Fprintln(w, "  ID\tNAME\tPROFILE\tDEVICE\tFROM TEMPLATE")
		for _, nic := range resp.NICs {
			fmt.Fprintf(w, "  %s\t%s\t%s\t%s\t%t\n",
				nic.ID, nic.Name, nic.VNICProfileID, orDash(nic.DeviceType), nic.FromTemplate)
		}
		_ = w.Flush()
	}
	if len(resp.Disks) > 0 {
		fmt.Println("Disks:")
		w := tabwriter.NewWriter(os.Stdout, 2, 8, 2, ' ', 0)
		fmt.Fprintln(w, "  ID\tNAME\tSIZE\tDOMAIN\tTYPE\tBOOT\tSTATE")
		for _, disk := range resp.Disks {
			state := "ready"
			if disk.UnderConstruction != nil {
				state = "under construction"
			}
			fmt.Fprintf(w, "  %s\t%s\t%s\t%s\t%s\t%t\t%s\n",
				disk.ID, disk.Name, sizeString(disk.SizeBytes), orDash(disk.StorageDomainID),
				disk.Type, disk.Bootable, state)
		}
		_ = w.Flush()
	}
}

func printSessionList(sessions []sessionResponse) {
	w := tabwriter.NewWriter(os.Stdout, 2, 8, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tCLUSTER\tDIRTY\tTOKEN\tOPENED")
	for _, s := range sessions {
		fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%s\t%s\n",
			s.ID, orDash(s.Basic.Name), orDash(s.Basic.ClusterID), s.Dirty,
			orDash(s.CorrelationID), s.OpenedAt)
	}
	_ = w.Flush()
}

func printTemplateList(templates []templateView) {
	w := tabwriter.NewWriter(os.Stdout, 2, 8, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tCLASS\tCLUSTER\tOS\tMEMORY\tCPUS\tNICS\tDISKS")
	for _, t := range templates {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%d\t%d\t%d\n",
			t.ID, t.Name, t.Class, orDash(t.ClusterID), orDash(t.OperatingSystemID),
			sizeString(t.MemoryBytes), t.CPUs, t.NICs, t.Disks)
	}
	_ = w.Flush()
}

func printClusterList(clusters []clusterView) {
	w := tabwriter.NewWriter(os.Stdout, 2, 8, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tDATA CENTER\tARCH")
	for _, c := range clusters {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", c.ID, c.Name, c.DataCenterID, orDash(c.Architecture))
	}
	_ = w.Flush()
}

func printDomainList(domains []storageDomainView) {
	w := tabwriter.NewWriter(os.Stdout, 2, 8, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tTYPE\tDATA CENTERS")
	for _, d := range domains {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", d.ID, d.Name, orDash(d.Type), strings.Join(d.DataCenterIDs, ","))
	}
	_ = w.Flush()
}

func printOSList(oses []operatingSystemView) {
	w := tabwriter.NewWriter(os.Stdout, 2, 8, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tDESCRIPTION")
	for _, o := range oses {
		fmt.Fprintf(w, "%s\t%s\t%s\n", o.ID, o.Name, orDash(o.Description))
	}
	_ = w.Flush()
}

func printProgress(resp progressResponse) {
	fmt.Printf("Status: %s\n", resp.Status)
	if resp.Token != "" {
		fmt.Printf("Token: %s\n", resp.Token)
	}
	if resp.Result != "" {
		fmt.Printf("Result: %s\n", resp.Result)
	}
	for _, msg := range resp.Messages {
		fmt.Printf("Message: %s\n", msg)
	}
}

func printEventList(events []eventView, jsonOutput bool) int64 {
	var lastID int64
	for _, ev := range events {
		if ev.ID > lastID {
			lastID = ev.ID
		}
		if jsonOutput {
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			_, _ = os.Stdout.Write(append(data, '\n'))
			continue
		}
		token := "-"
		if strings.TrimSpace(ev.Token) != "" {
			token = ev.Token
		}
		msg := strings.TrimSpace(ev.Message)
		if msg == "" {
			msg = "-"
		}
		fmt.Printf("%s\t%s\ttoken=%s\t%s\n", ev.Timestamp, ev.Kind, token, msg)
	}
	return lastID
}

func printJSONValue(value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return prettyPrintJSON(os.Stdout, data)
}

// parseSizeBytes accepts raw bytes or a suffixed size like 10G or 512M.
func parseSizeBytes(value string) (int64, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, fmt.Errorf("size is required")
	}
	lower := strings.ToLower(value)
	multiplier := int64(1)
	switch {
	case strings.HasSuffix(lower, "tib"), strings.HasSuffix(lower, "tb"):
		multiplier = 1 << 40
		lower = strings.TrimSuffix(strings.TrimSuffix(lower, "tib"), "tb")
	case strings.HasSuffix(lower, "gib"), strings.HasSuffix(lower, "gb"):
		multiplier = 1 << 30
		lower = strings.TrimSuffix(strings.TrimSuffix(lower, "gib"), "gb")
	case strings.HasSuffix(lower, "mib"), strings.HasSuffix(lower, "mb"):
		multiplier = 1 << 20
		lower = strings.TrimSuffix(strings.TrimSuffix(lower, "mib"), "mb")
	case strings.HasSuffix(lower, "t"):
		multiplier = 1 << 40
		lower = strings.TrimSuffix(lower, "t")
	case strings.HasSuffix(lower, "g"):
		multiplier = 1 << 30
		lower = strings.TrimSuffix(lower, "g")
	case strings.HasSuffix(lower, "m"):
		multiplier = 1 << 20
		lower = strings.TrimSuffix(lower, "m")
	case strings.HasSuffix(lower, "k"):
		multiplier = 1 << 10
		lower = strings.TrimSuffix(lower, "k")
	}
	lower = strings.TrimSpace(lower)
	size, err := strconv.ParseInt(lower, 10, 64)
	if err != nil || size <= 0 {
		return 0, fmt.Errorf("invalid size %q", value)
	}
	if multiplier > 1 && size > (1<<62)/multiplier {
		return 0, fmt.Errorf("size %q is too large", value)
	}
	return size * multiplier, nil
}

// readPasswordFile reads a cloud-init password from the first line of a file
// so the secret never appears in argv or shell history.
func readPasswordFile(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", fmt.Errorf("password file path is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read password file: %w", err)
	}
	password := strings.TrimRight(strings.Split(string(data), "\n")[0], "\r")
	if password == "" {
		return "", fmt.Errorf("password file %s is empty", path)
	}
	return password, nil
}

func sizeString(bytes int64) string {
	switch {
	case bytes >= 1<<30 && bytes%(1<<30) == 0:
		return fmt.Sprintf("%dG", bytes/(1<<30))
	case bytes >= 1<<20 && bytes%(1<<20) == 0:
		return fmt.Sprintf("%dM", bytes/(1<<20))
	default:
		return strconv.FormatInt(bytes, 10)
	}
}

func gateString(gate stepGateView) string {
	if gate.PreventEnter {
		return "blocked"
	}
	if gate.Valid {
		return "ok"
	}
	return "invalid"
}

func setString(set bool) string {
	if set {
		return "set"
	}
	return "unset"
}

func enabledString(enabled bool) string {
	if enabled {
		return "enabled"
	}
	return "disabled"
}

func orDash(value string) string {
	if strings.TrimSpace(value) == "" {
		return "-"
	}
	return value
}

// withDaemonHints decorates connection failures with a pointer at the daemon.
func withDaemonHints(err error, socketPath string) error {
	if err == nil {
		return nil
	}
	if strings.Contains(err.Error(), "connect:") || strings.Contains(err.Error(), "no such file") {
		return withHints(err,
			"is vmdeskd running?",
			fmt.Sprintf("check that %s exists and is readable", socketPath),
		)
	}
	return err
}
