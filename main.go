// Package main is the entry point for the linkhop application
package main

import (
	"github.com/linkhop/linkhop/cmd"
)

func main() {
	cmd.Execute()
}
