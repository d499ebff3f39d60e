package main

import "odds-oracle/internal/cli"

func main() {
	cli.Execute()
}
