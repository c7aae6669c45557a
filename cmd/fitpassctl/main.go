package main

import "github.com/cabofitpass/backend/internal/cli"

func main() {
	cli.Execute()
}
