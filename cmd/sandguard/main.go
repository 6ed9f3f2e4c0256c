package main

import "github.com/sandguard/sandguard/cmd/sandguard/cmd"

func main() {
	cmd.Execute()
}
