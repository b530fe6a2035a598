package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"

	"github.com/tranvictor/walletsync"
)

var (
	labelColor = color.New(color.Faint)
	okColor    = color.New(color.FgGreen)
	warnColor  = color.New(color.FgYellow)
	errColor   = color.New(color.FgRed, color.Bold)
)

func printNotification(ne *walletsync.NetworkError) {
	if ne == nil {
		return
	}
	errColor.Fprintf(os.Stderr, "[%s] ", ne.Kind)
	fmt.Fprintln(os.Stderr, ne.Message)
}

func printError(err error) {
	var ne *walletsync.NetworkError
	if errors.As(err, &ne) {
		printNotification(ne)
		return
	}
	errColor.Fprintln(os.Stderr, err)
}

func printState(state walletsync.NetworkState) {
	statusColor := okColor
	switch state.Status {
	case walletsync.StatusError:
		statusColor = errColor
	case walletsync.StatusSwitching, walletsync.StatusDetecting, walletsync.StatusUninitialized:
		statusColor = warnColor
	}

	labelColor.Print("status      ")
	statusColor.Println(state.Status)

	if state.CurrentEnvironment != "" {
		labelColor.Print("environment ")
		fmt.Printf("%s (chain %d)\n", state.CurrentEnvironment, state.CurrentChainID)
	}
	if state.CurrentAddresses != nil {
		labelColor.Print("proxy       ")
		fmt.Println(state.CurrentAddresses.ProxyAddress.Hex())
	}
	if state.IsConnected {
		labelColor.Print("account     ")
		fmt.Println(state.Account.Hex())
	}
	if state.Error != nil {
		labelColor.Print("error       ")
		errColor.Println(state.Error.Error())
	}
	fmt.Println()
}

func printSession(record *walletsync.SessionRecord) {
	now := time.Now()
	status := record.Status(now)

	switch status {
	case walletsync.SessionAbsent:
		warnColor.Println("No session")
		return
	case walletsync.SessionActive:
		okColor.Println(status)
	default:
		errColor.Println(status)
	}

	labelColor.Print("address     ")
	fmt.Println(record.Address.Hex())
	labelColor.Print("created at  ")
	fmt.Println(record.CreatedAt.Local().Format(time.RFC3339))
	labelColor.Print("expires at  ")
	fmt.Printf("%s", record.ExpiresAt.Local().Format(time.RFC3339))
	if status == walletsync.SessionActive {
		fmt.Printf(" (in %s)", record.ExpiresAt.Sub(now).Round(time.Second))
	}
	fmt.Println()
}
