package main

import (
	"os"

	"hubcache/cmd/hubcache/cmd"
)

func main() {
	os.Exit(cmd.Execute(os.Args[1:], os.Stdout, os.Stderr, nil))
}
