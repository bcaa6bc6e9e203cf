package main

import "fiona-trader/internal/cli"

func main() {
	cli.Execute()
}
