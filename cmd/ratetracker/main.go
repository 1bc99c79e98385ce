package main

import "fundrate-tracker/internal/cli"

func main() {
	cli.Execute()
}
