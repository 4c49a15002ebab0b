package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"ProcessMCP/sdk/go/processmcp"
)

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "ProcessMCP API address")
	target := flag.String("target", "", "target process id")
	request := flag.String("request", "check balance", "natural language request")
	flag.Parse()

	if *target == "" {
		fmt.Fprintln(os.Stderr, "-target is required")
		os.Exit(2)
	}

	client, err := processmcp.NewClient(*baseURL, nil)
	if err != nil {
		panic(err)
	}
	client.SetAccessToken(os.Getenv("PROCESSMCP_API_TOKEN"))

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	req := processmcp.CompileRequest{TargetID: *target, Request: *request}
	res, err := client.Compile(ctx, req)
	if err != nil {
		panic(err)
	}
	if res.NeedsConfirmation() {
		fmt.Printf("confirmation required: %s\n", res.Confirmation.Message)
		preview, err := client.Simulate(ctx, req)
		if err != nil {
			panic(err)
		}
		fmt.Printf("simulation: %v\n", preview.Simulation["estimatedOutcome"])
		return
	}
	if res.Error != nil {
		fmt.Printf("failed: %v\n%s\n", res.Error, res.Guidance)
		return
	}
	fmt.Printf("sent %s to %s with tags %v\n", res.HandlerUsed, res.TargetID, res.Tags)
}
