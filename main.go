package main

import "grapelm/cli"

func main() {
	cli.Execute()
}
