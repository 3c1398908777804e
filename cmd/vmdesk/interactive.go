// ABOUTME: Guided terminal form for opening, filling, and submitting a session.
// ABOUTME: Walks placement, sizing, and confirmation with catalog-backed choices.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
)

type createAnswers struct {
	name         string
	clusterID    string
	templateID   string
	osID         string
	source       string
	memory       string
	cpus         string
	optimizedFor string
	submit       bool
}

func runCreateCommand(ctx context.Context, args []string, base commonFlags) error {
	fs := newFlagSet("create")
	opts := base
	opts.bind(fs)
	var interactive, help bool
	fs.BoolVar(&interactive, "interactive", false, "run the guided form")
	fs.BoolVar(&help, "help", false, "show help")
	fs.BoolVar(&help, "h", false, "show help")
	if err := parseFlags(fs, args, printCreateUsage, &help); err != nil {
		return err
	}
	if !interactive {
		printCreateUsage()
		return newCLIError("create requires --interactive", "vmdesk create --interactive",
			"scripted flows use vmdesk session open, session set, and submit")
	}
	if opts.jsonOutput {
		return newCLIError("--json cannot be combined with --interactive", "",
			"drop --json, or script the flow with vmdesk session commands")
	}
	if !isInteractiveFn() {
		return newCLIError("create --interactive requires a terminal", "",
			"use vmdesk session open / session set / submit for scripting")
	}
	return runCreateInteractive(ctx, opts)
}

func runCreateInteractive(ctx context.Context, opts commonFlags) error {
	client := opts.client()

	payload, err := client.doJSON(ctx, http.MethodGet, "/v1/catalog", nil)
	if err != nil {
		return withDaemonHints(err, opts.socketPath)
	}
	var cat catalogResponse
	if err := json.Unmarshal(payload, &cat); err != nil {
		return err
	}
	if len(cat.Clusters) == 0 {
		return newCLIError("the daemon catalog has no clusters", "",
			"check the catalog directory configured for vmdeskd")
	}

	payload, err = client.doJSON(ctx, http.MethodPost, "/v1/sessions", nil)
	if err != nil {
		return withDaemonHints(err, opts.socketPath)
	}
	var session sessionResponse
	if err := json.Unmarshal(payload, &session); err != nil {
		return err
	}
	keepSession := false
	defer func() {
		if keepSession {
			return
		}
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_, _ = client.doJSON(cleanupCtx, http.MethodDelete, "/v1/sessions/"+session.ID, nil)
	}()

	answers := createAnswers{
		clusterID:    cat.Clusters[0].ID,
		osID:         session.Basic.OperatingSystemID,
		source:       session.Basic.ProvisionSource,
		memory:       strconv.FormatInt(session.Basic.MemoryMiB, 10),
		cpus:         strconv.Itoa(session.Basic.CPUs),
		optimizedFor: session.Basic.OptimizedFor,
	}

	err = huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("VM name").
				Description("Unique name for the new virtual machine").
				Placeholder("web-01").
				Value(&answers.name).
				Validate(validateVMName),
			huh.NewSelect[string]().
				Title("Cluster").
				Description("Where the virtual machine will run").
				Options(clusterOptions(cat.Clusters)...).
				Value(&answers.clusterID),
		).Title("Placement"),
	).RunWithContext(ctx)
	if err != nil {
		return fmt.Errorf("wizard canceled: %w", err)
	}

	templates := templatesForCluster(cat.Templates, answers.clusterID)
	if len(templates) > 0 {
		answers.templateID = templates[0].ID
	}

	err = huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Template").
				Description("Base image; pick Blank to start from nothing").
				Options(templateOptions(templates)...).
				Value(&answers.templateID),
			huh.NewSelect[string]().
				Title("Provision from").
				Options(
					huh.NewOption("Template disks", "template"),
					huh.NewOption("ISO installer", "iso"),
				).
				Value(&answers.source),
			huh.NewSelect[string]().
				Title("Operating system").
				Options(osOptions(cat.OperatingSystems)...).
				Value(&answers.osID),
		).Title("Image"),
		huh.NewGroup(
			huh.NewInput().
				Title("Memory (MiB)").
				Placeholder("2048").
				Value(&answers.memory).
				Validate(validatePositiveNumber),
			huh.NewInput().
				Title("Virtual CPUs").
				Placeholder("2").
				Value(&answers.cpus).
				Validate(validatePositiveNumber),
			huh.NewSelect[string]().
				Title("Optimized for").
				Options(
					huh.NewOption("Desktop", "desktop"),
					huh.NewOption("Server", "server"),
					huh.NewOption("High performance", "high_performance"),
				).
				Value(&answers.optimizedFor),
		).Title("Sizing"),
	).RunWithContext(ctx)
	if err != nil {
		return fmt.Errorf("wizard canceled: %w", err)
	}

	memoryMiB, _ := strconv.ParseInt(strings.TrimSpace(answers.memory), 10, 64)
	cpus, _ := strconv.Atoi(strings.TrimSpace(answers.cpus))
	patch := basicPatchRequest{
		Name:              &answers.name,
		ClusterID:         &answers.clusterID,
		TemplateID:        &answers.templateID,
		OperatingSystemID: &answers.osID,
		ProvisionSource:   &answers.source,
		MemoryMiB:         &memoryMiB,
		CPUs:              &cpus,
		OptimizedFor:      &answers.optimizedFor,
	}
	if _, err := client.doJSON(ctx, http.MethodPost, "/v1/sessions/"+session.ID+"/basic", patch); err != nil {
		return withNext(err, "vmdesk session show "+session.ID)
	}

	payload, err = client.doJSON(ctx, http.MethodPost, "/v1/sessions/"+session.ID+"/basic/commit", nil)
	if err != nil {
		return withNext(err, "vmdesk session show "+session.ID)
	}
	if err := json.Unmarshal(payload, &session); err != nil {
		return err
	}
	printSession(session)

	err = huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title("Submit for creation?").
				Description("The backend will start creating the virtual machine").
				Value(&answers.submit),
		),
	).RunWithContext(ctx)
	if err != nil {
		return fmt.Errorf("wizard canceled: %w", err)
	}
	if !answers.submit {
		keepSession = true
		fmt.Printf("session %s kept; adjust it with vmdesk session set, then run: vmdesk submit %s\n",
			session.ID, session.ID)
		return nil
	}

	keepSession = true
	payload, err = client.doJSON(ctx, http.MethodPost, "/v1/sessions/"+session.ID+"/submit", nil)
	if err != nil {
		return withNext(err, "vmdesk session show "+session.ID)
	}
	var submitted submitResponse
	if err := json.Unmarshal(payload, &submitted); err != nil {
		return err
	}
	fmt.Printf("submitted; token %s\n", submitted.Token)

	progress, err := waitForProgress(ctx, client, opts.socketPath, session.ID)
	if err != nil {
		return err
	}
	printProgress(progress)
	if progress.Result == "error" {
		return newCLIError("submission failed", "vmdesk session reset "+session.ID, progress.Messages...)
	}
	return nil
}

func waitForProgress(ctx context.Context, client *apiClient, socketPath, id string) (progressResponse, error) {
	for {
		payload, err := client.doJSON(ctx, http.MethodGet, "/v1/sessions/"+id+"/progress", nil)
		if err != nil {
			return progressResponse{}, withDaemonHints(err, socketPath)
		}
		var resp progressResponse
		if err := json.Unmarshal(payload, &resp); err != nil {
			return progressResponse{}, err
		}
		if !resp.InProgress {
			return resp, nil
		}
		select {
		case <-ctx.Done():
			return progressResponse{}, ctx.Err()
		case <-time.After(progressPollEvery):
		}
	}
}

func clusterOptions(clusters []clusterView) []huh.Option[string] {
	options := make([]huh.Option[string], 0, len(clusters))
	for _, c := range clusters {
		options = append(options, huh.NewOption(fmt.Sprintf("%s (%s)", c.Name, c.DataCenterID), c.ID))
	}
	return options
}

func templateOptions(templates []templateView) []huh.Option[string] {
	options := make([]huh.Option[string], 0, len(templates))
	for _, t := range templates {
		label := t.Name
		if t.MemoryBytes > 0 || t.CPUs > 0 {
			label = fmt.Sprintf("%s (%s, %d cpus)", t.Name, sizeString(t.MemoryBytes), t.CPUs)
		}
		options = append(options, huh.NewOption(label, t.ID))
	}
	return options
}

func osOptions(oses []operatingSystemView) []huh.Option[string] {
	options := make([]huh.Option[string], 0, len(oses))
	for _, o := range oses {
		options = append(options, huh.NewOption(o.Name, o.ID))
	}
	return options
}

// templatesForCluster keeps templates pinned to the cluster plus unpinned ones
// like Blank, mirroring what the daemon allows on commit.
func templatesForCluster(templates []templateView, clusterID string) []templateView {
	out := make([]templateView, 0, len(templates))
	for _, t := range templates {
		if t.ClusterID == "" || t.ClusterID == clusterID {
			out = append(out, t)
		}
	}
	return out
}

func validateVMName(value string) error {
	value = strings.TrimSpace(value)
	if value == "" {
		return fmt.Errorf("name is required")
	}
	if len(value) > 64 {
		return fmt.Errorf("name must be 64 characters or less")
	}
	for _, r := range value {
		if !(r >= 'a' && r <= 'z') && !(r >= 'A' && r <= 'Z') && !(r >= '0' && r <= '9') &&
			r != '-' && r != '_' && r != '.' {
			return fmt.Errorf("name may only contain letters, digits, '-', '_', and '.'")
		}
	}
	return nil
}

func validatePositiveNumber(value string) error {
	n, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil || n <= 0 {
		return fmt.Errorf("enter a positive number")
	}
	return nil
}
