// Package main is the entry point of the chipsim command.
package main

import "github.com/sarchlab/chipsim/chipsim/cmd"

func main() {
	cmd.Execute()
}
