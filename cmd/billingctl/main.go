package main

import "github.com/diewo77/go-contracts/internal/cli"

func main() {
	cli.Execute()
}
